package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crossbarhq/crossbar/internal/backend"
	"github.com/crossbarhq/crossbar/internal/cache"
	"github.com/crossbarhq/crossbar/internal/classify"
	"github.com/crossbarhq/crossbar/internal/composer"
	"github.com/crossbarhq/crossbar/internal/retrieval"
	"github.com/crossbarhq/crossbar/internal/route"
	"github.com/crossbarhq/crossbar/internal/truth"
)

// Request is one query entering the pipeline.
type Request struct {
	Query     string
	ForceDeep bool
	SkipCache bool

	// OnFragment, when non-nil, receives streamed token fragments. The
	// final text is still returned in Result for cache storage.
	OnFragment func(string)
}

// RoutingMeta is the per-request decision trail exposed to clients.
type RoutingMeta struct {
	RequestID       string  `json:"request_id"`
	QueryType       string  `json:"query_type"`
	Mode            string  `json:"routed_mode"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason"`
	Pool            string  `json:"selected_pool,omitempty"`
	Model           string  `json:"selected_model,omitempty"`
	CacheHit        bool    `json:"cache_hit"`
	CacheSimilarity float64 `json:"cache_similarity,omitempty"`
	Passages        int     `json:"passages"`
	DurationMs      int64   `json:"duration_ms"`
}

// Result is the pipeline's answer plus its decision trail.
type Result struct {
	Text string
	Meta RoutingMeta
}

// Completer is the slice of the backend client the dispatcher needs.
type Completer interface {
	Complete(ctx context.Context, d route.Decision, system, user string) (string, error)
	Stream(ctx context.Context, d route.Decision, system, user string, onFragment func(string)) error
}

// Dispatcher runs a query through the full pipeline: fast-path match,
// classification, semantic cache, retrieval, prompt composition, routing,
// and the backend call.
type Dispatcher struct {
	fastPath   *classify.FastPath
	classifier *classify.Classifier
	truth      *truth.Builder
	cache      *cache.Cache
	retriever  *retrieval.Retriever
	composer   *composer.Composer
	router     *route.Router
	backend    Completer
	metrics    *Metrics
	logger     *slog.Logger
}

// NewDispatcher wires the pipeline stages together. cache and retriever may
// be nil when the instance runs without a corpus store.
func NewDispatcher(
	truthBuilder *truth.Builder,
	queryCache *cache.Cache,
	retriever *retrieval.Retriever,
	router *route.Router,
	bc Completer,
	metrics *Metrics,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		fastPath:   classify.NewFastPath(),
		classifier: classify.NewClassifier(),
		truth:      truthBuilder,
		cache:      queryCache,
		retriever:  retriever,
		composer:   composer.New(0),
		router:     router,
		backend:    bc,
		metrics:    metrics,
		logger:     logger,
	}
}

// Dispatch runs one request through the pipeline and returns its result.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := d.logger.With("request_id", requestID)

	cls := d.classifyQuery(req.Query)
	d.metrics.classifications.WithLabelValues(string(cls.QueryType)).Inc()
	logger.Info("query classified",
		"query_type", cls.QueryType,
		"mode", cls.RoutedMode,
		"confidence", cls.Confidence,
		"reason", cls.Reason,
	)

	meta := RoutingMeta{
		RequestID:  requestID,
		QueryType:  string(cls.QueryType),
		Mode:       string(cls.RoutedMode),
		Confidence: float64(cls.Confidence),
		Reason:     cls.Reason,
	}

	// Fast-path queries are answered straight from live ground truth.
	// No model, no cache, no retrieval: a generated answer could contradict
	// the clock or the repository state.
	if cls.RoutedMode == classify.ModeTruthOnly {
		text := truthAnswer(cls.QueryType, d.truth.Build(ctx))
		if req.OnFragment != nil {
			req.OnFragment(text)
		}
		meta.DurationMs = time.Since(start).Milliseconds()
		logger.Info("answered from ground truth", "query_type", cls.QueryType)
		d.observe(start, "ok")
		return Result{Text: text, Meta: meta}, nil
	}

	// The cache never serves or stores truth-bound or stateful answers.
	cacheable := cls.RoutedMode == classify.ModeRAG && !req.SkipCache && d.cache != nil

	if cacheable {
		hit, err := d.cache.Lookup(ctx, req.Query)
		if err != nil {
			logger.Warn("cache lookup failed", "error", err)
		} else if hit != nil {
			d.metrics.cacheHits.Inc()
			meta.CacheHit = true
			meta.CacheSimilarity = float64(hit.Similarity)
			meta.DurationMs = time.Since(start).Milliseconds()
			logger.Info("cache hit", "similarity", hit.Similarity, "matched_query", hit.MatchedQuery)
			if req.OnFragment != nil {
				req.OnFragment(hit.ResponseText)
			}
			d.observe(start, "cache_hit")
			return Result{Text: hit.ResponseText, Meta: meta}, nil
		} else {
			d.metrics.cacheMisses.Inc()
		}
	}

	snapshot := d.truth.Build(ctx)

	var passages []retrieval.Passage
	if cls.RoutedMode == classify.ModeRAG && d.retriever != nil {
		var err error
		passages, err = d.retriever.Retrieve(ctx, req.Query)
		if err != nil {
			logger.Warn("retrieval failed, continuing without context", "error", err)
			passages = nil
		}
	}
	meta.Passages = len(passages)

	decision, err := d.router.Route(cls, req.ForceDeep)
	if err != nil {
		d.observe(start, "no_pool")
		return Result{Meta: meta}, err
	}
	d.metrics.poolSelections.WithLabelValues(decision.Pool).Inc()
	if strings.HasPrefix(decision.Reason, "fallback:") && strings.HasSuffix(decision.Reason, "_unreachable") {
		d.metrics.poolFailovers.Inc()
	}
	if decision.Reason != cls.Reason {
		meta.Reason = decision.Reason
	}
	meta.Pool = decision.Pool
	meta.Model = decision.Model
	logger.Info("query routed", "pool", decision.Pool, "model", decision.Model, "reason", decision.Reason)

	system, user := d.composer.Compose(snapshot, passages, req.Query)

	text, err := d.complete(ctx, decision, system, user, req.OnFragment)
	if err != nil {
		var ue *backend.UnreachableError
		switch {
		case errors.Is(err, context.Canceled):
			d.metrics.clientDisconnects.Inc()
			d.observe(start, "client_disconnect")
			logger.Info("client disconnected", "pool", decision.Pool)
		case errors.As(err, &ue):
			d.observe(start, "backend_unreachable")
			logger.Error("backend unreachable", "endpoint", ue.Endpoint, "error", err)
		default:
			d.observe(start, "backend_error")
			logger.Error("backend call failed", "pool", decision.Pool, "error", err)
		}
		return Result{Meta: meta}, err
	}

	if cacheable {
		if err := d.cache.Store(ctx, req.Query, text); err != nil {
			logger.Warn("cache store failed", "error", err)
		}
	}

	meta.DurationMs = time.Since(start).Milliseconds()
	d.observe(start, "ok")
	return Result{Text: text, Meta: meta}, nil
}

// truthAnswer renders a direct answer from the snapshot for the fast-path
// query types.
func truthAnswer(qt classify.QueryType, s truth.Snapshot) string {
	switch qt {
	case classify.TypeTimeDate:
		return fmt.Sprintf("It is %s.", s.Time.Format(time.RFC1123))
	case classify.TypeRepo:
		state := truth.Unknown
		if s.Dirty != nil {
			if *s.Dirty {
				state = "dirty"
			} else {
				state = "clean"
			}
		}
		return fmt.Sprintf("On branch %s at %s, working tree %s.", s.Branch, s.Head, state)
	default:
		return fmt.Sprintf("Hello! It is %s. What can I help with?", s.Time.Format(time.RFC1123))
	}
}

// classifyQuery tries the fast path first and falls back to the rule
// classifier. Both are deterministic and never fail.
func (d *Dispatcher) classifyQuery(query string) classify.Classification {
	if cls := d.fastPath.Match(query); cls != nil {
		return *cls
	}
	return d.classifier.Classify(query)
}

func (d *Dispatcher) complete(ctx context.Context, decision route.Decision, system, user string, onFragment func(string)) (string, error) {
	if onFragment == nil {
		return d.backend.Complete(ctx, decision, system, user)
	}
	var full []byte
	err := d.backend.Stream(ctx, decision, system, user, func(frag string) {
		full = append(full, frag...)
		onFragment(frag)
	})
	return string(full), err
}

func (d *Dispatcher) observe(start time.Time, status string) {
	d.metrics.requestsTotal.WithLabelValues(status).Inc()
	d.metrics.requestDuration.Observe(time.Since(start).Seconds())
}
