package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter tracks one token bucket per client address. Over-limit
// requests are rejected immediately with 429; they are never queued.
type clientLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientEntry
	rps      rate.Limit
	burst    int
	lastSeen time.Duration
}

type clientEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		clients:  make(map[string]*clientEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		lastSeen: 10 * time.Minute,
	}
}

// allow reports whether the client identified by addr may proceed.
func (l *clientLimiter) allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.clients[addr]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[addr] = e
	}
	e.seen = time.Now()

	if len(l.clients) > 1024 {
		l.evictStale()
	}
	return e.limiter.Allow()
}

// evictStale drops entries idle past the retention window. Caller holds mu.
func (l *clientLimiter) evictStale() {
	cutoff := time.Now().Add(-l.lastSeen)
	for addr, e := range l.clients {
		if e.seen.Before(cutoff) {
			delete(l.clients, addr)
		}
	}
}

// RateLimit applies per-client token bucket limiting keyed by remote IP.
func RateLimit(rps float64, burst int, metrics *Metrics) func(http.Handler) http.Handler {
	limiter := newClientLimiter(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := clientAddr(r)
			if !limiter.allow(addr) {
				if metrics != nil {
					metrics.ratelimitRejects.Inc()
				}
				w.Header().Set("Retry-After", "1")
				httpError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
