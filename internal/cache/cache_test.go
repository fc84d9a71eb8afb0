package cache

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/crossbarhq/crossbar/internal/embed"
	"github.com/crossbarhq/crossbar/internal/vecstore"
)

// vecEngine returns a fixed vector per text, defaulting to a far-away vector
// for unknown texts.
type vecEngine struct {
	vectors map[string][]float32
	dim     int
}

func (e *vecEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	v := make([]float32, e.dim)
	v[e.dim-1] = 1
	return v, nil
}

func newTestCache(t *testing.T, threshold float32, vectors map[string][]float32) (*Cache, *vecstore.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE cache_entries (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		response_text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		hit_count INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		t.Fatalf("creating table: %v", err)
	}

	eng := &vecEngine{vectors: vectors, dim: 4}
	provider, err := embed.NewProvider(context.Background(), eng, "test-embed", 4)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	store := vecstore.New(db)
	return New(provider, store, threshold), store
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("Explain Recursion")
	b := Fingerprint("  explain   recursion ")
	if a != b {
		t.Errorf("normalized queries must share a fingerprint: %s vs %s", a, b)
	}
	if Fingerprint("explain recursion") == Fingerprint("explain iteration") {
		t.Error("different queries must not collide")
	}
}

func TestLookup_HitAboveThreshold(t *testing.T) {
	q := []float32{1, 0, 0, 0}
	c, _ := newTestCache(t, 0.9, map[string][]float32{
		"explain recursion": q,
	})
	ctx := context.Background()

	if err := c.Store(ctx, "explain recursion", "recursion is..."); err != nil {
		t.Fatalf("Store: %v", err)
	}

	hit, err := c.Lookup(ctx, "explain recursion")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit == nil {
		t.Fatal("expected a hit")
	}
	if hit.ResponseText != "recursion is..." {
		t.Errorf("ResponseText = %q", hit.ResponseText)
	}
	if hit.Similarity < 0.99 {
		t.Errorf("Similarity = %f, want ~1", hit.Similarity)
	}
}

func TestLookup_MissBelowThreshold(t *testing.T) {
	c, _ := newTestCache(t, 0.9, map[string][]float32{
		"explain recursion": {1, 0, 0, 0},
		"what is cheese":    {0, 1, 0, 0},
	})
	ctx := context.Background()

	if err := c.Store(ctx, "explain recursion", "recursion is..."); err != nil {
		t.Fatalf("Store: %v", err)
	}

	hit, err := c.Lookup(ctx, "what is cheese")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit != nil {
		t.Errorf("expected a miss for an orthogonal query, got %+v", hit)
	}
}

func TestLookup_EmptyCache(t *testing.T) {
	c, _ := newTestCache(t, 0.9, nil)
	hit, err := c.Lookup(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit != nil {
		t.Errorf("expected miss on empty cache, got %+v", hit)
	}
}

func TestStore_UpsertNoDuplicates(t *testing.T) {
	c, store := newTestCache(t, 0.9, map[string][]float32{
		"explain recursion": {1, 0, 0, 0},
	})
	ctx := context.Background()

	if err := c.Store(ctx, "explain recursion", "r1"); err != nil {
		t.Fatalf("first Store: %v", err)
	}
	if err := c.Store(ctx, "explain recursion", "r2"); err != nil {
		t.Fatalf("second Store: %v", err)
	}

	n, err := store.CountCacheEntries(ctx)
	if err != nil {
		t.Fatalf("CountCacheEntries: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	hit, err := c.Lookup(ctx, "explain recursion")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit == nil || hit.ResponseText != "r2" {
		t.Errorf("hit = %+v, want response r2", hit)
	}
}

func TestLookup_BumpsHitCount(t *testing.T) {
	q := []float32{1, 0, 0, 0}
	c, store := newTestCache(t, 0.9, map[string][]float32{"q": q})
	ctx := context.Background()

	if err := c.Store(ctx, "q", "r"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := c.Lookup(ctx, "q"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	nearest, err := store.NearestCacheEntry(ctx, q)
	if err != nil {
		t.Fatalf("NearestCacheEntry: %v", err)
	}
	if nearest.HitCount != 1 {
		t.Errorf("HitCount = %d, want 1", nearest.HitCount)
	}
}
