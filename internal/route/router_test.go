package route

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/crossbarhq/crossbar/internal/classify"
)

type fakeHealth struct {
	mu sync.Mutex
	up map[string]bool
}

func (f *fakeHealth) Reachable(pool string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up[pool]
}

func testPools() (Pool, Pool) {
	fast := Pool{Endpoint: "http://localhost:11434", Model: "llama3.2:3b"}
	big := Pool{Endpoint: "http://localhost:11435", Model: "qwen2.5-coder:32b"}
	return fast, big
}

func TestRoutePoolMapping(t *testing.T) {
	fast, big := testPools()
	r := New(fast, big, nil)

	cases := []struct {
		queryType classify.QueryType
		wantPool  string
	}{
		{classify.TypeCode, PoolBig},
		{classify.TypeTechnical, PoolBig},
		{classify.TypeCreative, PoolBig},
		{classify.TypeOps, PoolFast},
		{classify.TypeSummary, PoolFast},
		{classify.TypeGeneral, PoolFast},
		{classify.TypeTimeDate, PoolFast},
		{classify.TypeRepo, PoolFast},
	}
	for _, tc := range cases {
		d, err := r.Route(classify.Classification{QueryType: tc.queryType, Reason: "classified:" + string(tc.queryType)}, false)
		if err != nil {
			t.Fatalf("Route(%s): %v", tc.queryType, err)
		}
		if d.Pool != tc.wantPool {
			t.Errorf("Route(%s) = pool %s, want %s", tc.queryType, d.Pool, tc.wantPool)
		}
	}
}

func TestRouteCarriesEndpointAndModel(t *testing.T) {
	fast, big := testPools()
	r := New(fast, big, nil)

	d, err := r.Route(classify.Classification{QueryType: classify.TypeCode}, false)
	if err != nil {
		t.Fatal(err)
	}
	if d.Endpoint != big.Endpoint || d.Model != big.Model {
		t.Errorf("decision = %+v, want big pool endpoint and model", d)
	}
}

func TestRouteForceDeep(t *testing.T) {
	fast, big := testPools()
	r := New(fast, big, nil)

	d, err := r.Route(classify.Classification{QueryType: classify.TypeGeneral, Reason: "fallback:general"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if d.Pool != PoolBig {
		t.Errorf("force deep routed to %s, want big", d.Pool)
	}
	if d.Reason != "force_deep:general" {
		t.Errorf("reason = %q, want force_deep:general", d.Reason)
	}
}

func TestRouteForceDeepAlreadyBig(t *testing.T) {
	fast, big := testPools()
	r := New(fast, big, nil)

	d, err := r.Route(classify.Classification{QueryType: classify.TypeCode, Reason: "classified:code"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != "classified:code" {
		t.Errorf("reason = %q, classification reason should survive when already big", d.Reason)
	}
}

func TestRouteFailover(t *testing.T) {
	fast, big := testPools()
	health := &fakeHealth{up: map[string]bool{PoolFast: true, PoolBig: false}}
	r := New(fast, big, health)

	d, err := r.Route(classify.Classification{QueryType: classify.TypeCode}, false)
	if err != nil {
		t.Fatal(err)
	}
	if d.Pool != PoolFast {
		t.Errorf("routed to %s with big down, want fast", d.Pool)
	}
	if d.Reason != "fallback:big_unreachable" {
		t.Errorf("reason = %q", d.Reason)
	}
	if d.Endpoint != fast.Endpoint {
		t.Errorf("failover must carry the live pool's endpoint, got %s", d.Endpoint)
	}
}

func TestRouteBothPoolsDown(t *testing.T) {
	fast, big := testPools()
	health := &fakeHealth{up: map[string]bool{}}
	r := New(fast, big, health)

	if _, err := r.Route(classify.Classification{QueryType: classify.TypeGeneral}, false); err == nil {
		t.Fatal("expected an error when no pool is reachable")
	}
}

type fakePinger struct {
	mu sync.Mutex
	up map[string]bool
}

func (f *fakePinger) Ping(_ context.Context, endpoint string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up[endpoint]
}

func (f *fakePinger) set(endpoint string, up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up[endpoint] = up
}

func TestProberTracksReachability(t *testing.T) {
	fast, big := testPools()
	fast.Name, big.Name = PoolFast, PoolBig
	pinger := &fakePinger{up: map[string]bool{fast.Endpoint: true, big.Endpoint: false}}

	p := NewProber([]Pool{fast, big}, pinger, 10*time.Millisecond, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	waitFor(t, func() bool { return p.Reachable(PoolFast) && !p.Reachable(PoolBig) })

	pinger.set(big.Endpoint, true)
	waitFor(t, func() bool { return p.Reachable(PoolBig) })
}

func TestProberStartsOptimistic(t *testing.T) {
	fast, _ := testPools()
	fast.Name = PoolFast
	p := NewProber([]Pool{fast}, &fakePinger{up: map[string]bool{}}, time.Hour, nil)
	if !p.Reachable(PoolFast) {
		t.Error("pools should be reachable before the first probe runs")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
