package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the gateway. A private
// registry keeps the scrape surface limited to what the gateway itself owns.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   prometheus.Histogram
	classifications   *prometheus.CounterVec
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	poolSelections    *prometheus.CounterVec
	poolFailovers     prometheus.Counter
	ratelimitRejects  prometheus.Counter
	authRejects       prometheus.Counter
	clientDisconnects prometheus.Counter
}

// NewMetrics creates and registers all gateway metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossbar_requests_total",
			Help: "Completed requests by terminal status.",
		}, []string{"status"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crossbar_request_duration_seconds",
			Help:    "End to end request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossbar_classifications_total",
			Help: "Query classifications by type.",
		}, []string{"query_type"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossbar_cache_hits_total",
			Help: "Semantic cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossbar_cache_misses_total",
			Help: "Semantic cache misses.",
		}),
		poolSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossbar_pool_selections_total",
			Help: "Routing decisions by pool.",
		}, []string{"pool"}),
		poolFailovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossbar_pool_failovers_total",
			Help: "Requests rerouted because their pool was unreachable.",
		}),
		ratelimitRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossbar_ratelimit_rejections_total",
			Help: "Requests rejected with 429.",
		}),
		authRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossbar_auth_rejections_total",
			Help: "Requests rejected with 401.",
		}),
		clientDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossbar_client_disconnects_total",
			Help: "Requests abandoned by the client mid flight.",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.classifications,
		m.cacheHits,
		m.cacheMisses,
		m.poolSelections,
		m.poolFailovers,
		m.ratelimitRejects,
		m.authRejects,
		m.clientDisconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
