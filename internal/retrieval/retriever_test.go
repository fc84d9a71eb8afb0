package retrieval

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/crossbarhq/crossbar/internal/embed"
	"github.com/crossbarhq/crossbar/internal/vecstore"
)

type vecEngine struct {
	vectors map[string][]float32
	dim     int
}

func (e *vecEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	v := make([]float32, e.dim)
	v[0] = 1
	return v, nil
}

func newTestRetriever(t *testing.T, vectors map[string][]float32, denylist []string, topK int) (*Retriever, *vecstore.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE corpus_chunks (
		id TEXT PRIMARY KEY,
		source_path TEXT NOT NULL,
		text_chunk TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		t.Fatalf("creating table: %v", err)
	}

	provider, err := embed.NewProvider(context.Background(), &vecEngine{vectors: vectors, dim: 4}, "test-embed", 4)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	store := vecstore.New(db)
	return New(provider, store, denylist, topK), store
}

func TestRetrieve_OrderedByRelevance(t *testing.T) {
	r, store := newTestRetriever(t, map[string][]float32{
		"query": {1, 0, 0, 0},
	}, nil, 3)
	ctx := context.Background()

	if err := store.UpsertChunks(ctx, []vecstore.Chunk{
		{ID: "far", SourcePath: "docs/far.md", Text: "far", Embedding: []float32{0, 1, 0, 0.2}},
		{ID: "near", SourcePath: "docs/near.md", Text: "near", Embedding: []float32{1, 0.1, 0, 0}},
		{ID: "mid", SourcePath: "docs/mid.md", Text: "mid", Embedding: []float32{1, 1, 0, 0}},
	}); err != nil {
		t.Fatalf("UpsertChunks: %v", err)
	}

	passages, err := r.Retrieve(ctx, "query")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(passages) != 3 {
		t.Fatalf("got %d passages, want 3", len(passages))
	}
	if passages[0].Text != "near" {
		t.Errorf("first passage = %q, want near", passages[0].Text)
	}
	for i := 1; i < len(passages); i++ {
		if passages[i].Score > passages[i-1].Score {
			t.Error("passages not in descending score order")
		}
	}
}

func TestRetrieve_DropsDeniedSources(t *testing.T) {
	r, store := newTestRetriever(t, map[string][]float32{
		"query": {1, 0, 0, 0},
	}, nil, 5)
	ctx := context.Background()

	if err := store.UpsertChunks(ctx, []vecstore.Chunk{
		{ID: "ok", SourcePath: "docs/guide.md", Text: "keep", Embedding: []float32{1, 0, 0, 0}},
		{ID: "vendored", SourcePath: "vendor/lib/readme.md", Text: "drop", Embedding: []float32{1, 0, 0, 0}},
		{ID: "license", SourcePath: "LICENSE", Text: "drop", Embedding: []float32{1, 0, 0, 0}},
	}); err != nil {
		t.Fatalf("UpsertChunks: %v", err)
	}

	passages, err := r.Retrieve(ctx, "query")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(passages) != 1 {
		t.Fatalf("got %d passages, want 1 (denylisted sources must be dropped)", len(passages))
	}
	if passages[0].SourcePath != "docs/guide.md" {
		t.Errorf("SourcePath = %q", passages[0].SourcePath)
	}
}

func TestRetrieve_EmptyIndexIsValid(t *testing.T) {
	r, _ := newTestRetriever(t, nil, nil, 5)
	passages, err := r.Retrieve(context.Background(), "query")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(passages) != 0 {
		t.Errorf("got %d passages, want 0", len(passages))
	}
}

func TestDenied(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"docs/guide.md", false},
		{"vendor/foo/bar.md", true},
		{"pkg/vendor/foo.md", true},
		{"node_modules/react/README.md", true},
		{"LICENSE", true},
		{"LICENSE.txt", true},
		{"CHANGELOG.md", true},
		{"app/main.min.js", true},
		{"go.lock", true},
		{"src/licensecheck.go", false},
	}
	for _, tt := range tests {
		if got := Denied(DefaultDenylist, tt.path); got != tt.want {
			t.Errorf("Denied(%q) = %t, want %t", tt.path, got, tt.want)
		}
	}
}
