package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/crossbarhq/crossbar/internal/route"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	heartbeatInterval  = 15 * time.Second
)

// Options configures the HTTP handler.
type Options struct {
	AuthToken string
	RateRPS   float64
	RateBurst int
}

// NewHandler returns the gateway's HTTP surface. Query endpoints sit behind
// token auth and per-client rate limiting; health, readiness, and metrics
// stay open for probes and scrapers.
func NewHandler(d *Dispatcher, health route.Health, metrics *Metrics, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady(health))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(TokenAuth(opts.AuthToken, metrics))
		r.Use(RateLimit(opts.RateRPS, opts.RateBurst, metrics))
		r.Post("/run", handleRun(d))
		r.Get("/stream", handleStream(d))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReady reports 503 while the default pool's backend is down, with a
// hint on how to bring it back.
func handleReady(health route.Health) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if health != nil && !health.Reachable(route.PoolFast) {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"status": "not_ready",
				"reason": "default pool backend is unreachable",
				"hint":   "start the inference server (e.g. `ollama serve`) or fix pools.fast.endpoint",
			})
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	}
}

type runRequest struct {
	Command   string `json:"command"`
	ForceDeep bool   `json:"force_deep"`
	SkipCache bool   `json:"skip_cache"`
}

type runResponse struct {
	Result string      `json:"result"`
	Meta   RoutingMeta `json:"routing_meta"`
}

func handleRun(d *Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Command == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "command is required and must not be empty")
			return
		}

		result, err := d.Dispatch(r.Context(), Request{
			Query:     req.Command,
			ForceDeep: req.ForceDeep,
			SkipCache: req.SkipCache,
		})
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "pipeline error: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(runResponse{Result: result.Text, Meta: result.Meta})
	}
}

// handleStream serves one query as server-sent events. Fragments arrive as
// data events, then a routing_meta event carries the decision trail, then
// complete ends the stream. Comment lines keep idle proxies from closing
// the connection during long generations.
func handleStream(d *Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query parameter q is required")
			return
		}
		forceDeep := r.URL.Query().Get("force_deep") == "true"
		skipCache := r.URL.Query().Get("skip_cache") == "true"

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		events := make(chan sseEvent, 16)
		done := make(chan struct{})

		// Sends must not outlive a disconnected client.
		send := func(ev sseEvent) {
			select {
			case events <- ev:
			case <-r.Context().Done():
			}
		}

		go func() {
			defer close(done)
			result, err := d.Dispatch(r.Context(), Request{
				Query:     query,
				ForceDeep: forceDeep,
				SkipCache: skipCache,
				OnFragment: func(frag string) {
					send(sseEvent{name: "data", data: frag})
				},
			})
			if err != nil {
				send(sseEvent{name: "error", data: err.Error()})
				return
			}
			meta, _ := json.Marshal(result.Meta)
			send(sseEvent{name: "routing_meta", data: string(meta)})
			send(sseEvent{name: "complete", data: "{}"})
		}()

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": heartbeat\n\n")
				flusher.Flush()
			case ev := <-events:
				writeSSE(w, ev)
				flusher.Flush()
			case <-done:
				for {
					select {
					case ev := <-events:
						writeSSE(w, ev)
						flusher.Flush()
					default:
						return
					}
				}
			}
		}
	}
}

type sseEvent struct {
	name string
	data string
}

// writeSSE frames one event. Payloads containing newlines become multiple
// data lines, which the SSE wire format rejoins on dispatch.
func writeSSE(w http.ResponseWriter, ev sseEvent) {
	fmt.Fprintf(w, "event: %s\n", ev.name)
	for _, line := range strings.Split(ev.data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
