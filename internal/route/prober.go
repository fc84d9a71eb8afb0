package route

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultProbeInterval = 2 * time.Second

// Pinger checks whether a backend endpoint answers. Implemented by the
// backend client; tests supply fakes.
type Pinger interface {
	Ping(ctx context.Context, endpoint string) bool
}

// Prober tracks pool reachability by pinging each pool's endpoint on a
// fixed interval. It implements Health.
type Prober struct {
	pools    []Pool
	pinger   Pinger
	interval time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	up   map[string]bool
	done chan struct{}
	once sync.Once
}

// NewProber creates a Prober over the given pools. All pools start out
// reachable until the first probe says otherwise, so the router does not
// spuriously fail over during startup.
func NewProber(pools []Pool, pinger Pinger, interval time.Duration, logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	up := make(map[string]bool, len(pools))
	for _, p := range pools {
		up[p.Name] = true
	}
	return &Prober{
		pools:    pools,
		pinger:   pinger,
		interval: interval,
		logger:   logger,
		up:       up,
		done:     make(chan struct{}),
	}
}

// Reachable reports the last observed state of the named pool.
func (p *Prober) Reachable(pool string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.up[pool]
}

// Start launches the probe loop. It probes immediately, then on each tick,
// until ctx is cancelled or Stop is called.
func (p *Prober) Start(ctx context.Context) {
	go func() {
		p.probeAll(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case <-ticker.C:
				p.probeAll(ctx)
			}
		}
	}()
}

// Stop terminates the probe loop. Safe to call more than once.
func (p *Prober) Stop() {
	p.once.Do(func() { close(p.done) })
}

func (p *Prober) probeAll(ctx context.Context) {
	for _, pool := range p.pools {
		reachable := p.pinger.Ping(ctx, pool.Endpoint)

		p.mu.Lock()
		was := p.up[pool.Name]
		p.up[pool.Name] = reachable
		p.mu.Unlock()

		if was != reachable {
			if reachable {
				p.logger.Info("pool recovered", "pool", pool.Name, "endpoint", pool.Endpoint)
			} else {
				p.logger.Warn("pool unreachable", "pool", pool.Name, "endpoint", pool.Endpoint)
			}
		}
	}
}
