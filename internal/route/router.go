// Package route maps classified queries onto model pools and handles
// failover when a pool's backend is down.
package route

import (
	"fmt"

	"github.com/crossbarhq/crossbar/internal/classify"
)

// Pool names are fixed: a fast pool for cheap conversational work and a
// big pool for code and deep technical reasoning.
const (
	PoolFast = "fast"
	PoolBig  = "big"
)

// Pool describes one backend pool.
type Pool struct {
	Name     string
	Endpoint string
	Model    string
}

// Decision is the outcome of routing a single query.
type Decision struct {
	Pool     string
	Model    string
	Endpoint string
	Reason   string
}

// Health reports pool reachability. Implemented by Prober; tests supply fakes.
type Health interface {
	Reachable(pool string) bool
}

// alwaysUp is used when no health source is configured.
type alwaysUp struct{}

func (alwaysUp) Reachable(string) bool { return true }

// Router selects a pool for each classification. Selection is pure given
// the classification, the force-deep flag, and current pool health.
type Router struct {
	pools  map[string]Pool
	health Health
}

// New creates a Router over the given pools. health may be nil, in which
// case every pool is considered reachable.
func New(fast, big Pool, health Health) *Router {
	fast.Name = PoolFast
	big.Name = PoolBig
	if health == nil {
		health = alwaysUp{}
	}
	return &Router{
		pools:  map[string]Pool{PoolFast: fast, PoolBig: big},
		health: health,
	}
}

// poolFor returns the pool a query type belongs to absent any override.
func poolFor(t classify.QueryType) string {
	switch t {
	case classify.TypeCode, classify.TypeTechnical, classify.TypeCreative:
		return PoolBig
	case classify.TypeOps, classify.TypeSummary, classify.TypeGeneral,
		classify.TypeTimeDate, classify.TypeRepo:
		return PoolFast
	default:
		return PoolFast
	}
}

// Route picks a pool for the classified query. forceDeep overrides the
// mapping and sends the query to the big pool. When the chosen pool is
// unreachable the router fails over to the other pool; when both are down
// it returns an error rather than a decision pointing at a dead endpoint.
func (r *Router) Route(cls classify.Classification, forceDeep bool) (Decision, error) {
	name := poolFor(cls.QueryType)
	reason := cls.Reason
	if forceDeep && name != PoolBig {
		name = PoolBig
		reason = "force_deep:" + string(cls.QueryType)
	}

	if !r.health.Reachable(name) {
		other := PoolFast
		if name == PoolFast {
			other = PoolBig
		}
		if !r.health.Reachable(other) {
			return Decision{}, fmt.Errorf("no reachable pool for query type %s", cls.QueryType)
		}
		reason = fmt.Sprintf("fallback:%s_unreachable", name)
		name = other
	}

	p := r.pools[name]
	return Decision{
		Pool:     p.Name,
		Model:    p.Model,
		Endpoint: p.Endpoint,
		Reason:   reason,
	}, nil
}

// Pool returns the configured pool by name.
func (r *Router) Pool(name string) (Pool, bool) {
	p, ok := r.pools[name]
	return p, ok
}

// Pools returns all configured pools.
func (r *Router) Pools() []Pool {
	return []Pool{r.pools[PoolFast], r.pools[PoolBig]}
}
