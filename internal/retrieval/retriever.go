// Package retrieval finds corpus context for RAG-routed queries on a cache
// miss: embed, top-k search, denylist filter, bounded context assembly.
package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/crossbarhq/crossbar/internal/embed"
	"github.com/crossbarhq/crossbar/internal/vecstore"
)

const searchTimeout = 2 * time.Second

// Passage is a retrieved context fragment with its similarity score.
type Passage struct {
	Text       string
	Score      float32
	SourcePath string
}

// DefaultDenylist matches known-poisoning content: build artifacts,
// license/changelog boilerplate, and vendored third-party docs. Ingestion
// filters on the same patterns; the retriever re-applies them at query time
// so entries ingested before a denylist change cannot surface.
var DefaultDenylist = []string{
	"node_modules/*", "vendor/*", "dist/*", "build/*", "target/*",
	"*.min.js", "*.lock",
	"LICENSE*", "COPYING*", "CHANGELOG*", "NOTICE*",
}

// Retriever combines the shared embedding provider with the corpus index.
type Retriever struct {
	provider *embed.Provider
	store    *vecstore.Store
	denylist []string
	topK     int
}

// New creates a Retriever. topK defaults to 5 when non-positive; a nil
// denylist uses DefaultDenylist.
func New(provider *embed.Provider, store *vecstore.Store, denylist []string, topK int) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	if denylist == nil {
		denylist = DefaultDenylist
	}
	return &Retriever{provider: provider, store: store, denylist: denylist, topK: topK}
}

// Retrieve embeds the query and returns the top-k corpus passages ordered by
// descending relevance, with denylisted sources dropped. An empty result is
// valid and not an error; the caller switches to a no-context prompt.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	vec, err := r.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	scored, err := r.store.SearchChunks(sctx, vec, r.topK)
	if err != nil {
		return nil, fmt.Errorf("searching corpus: %w", err)
	}

	var passages []Passage
	for _, s := range scored {
		if Denied(r.denylist, s.SourcePath) {
			continue
		}
		passages = append(passages, Passage{
			Text:       s.Text,
			Score:      s.Score,
			SourcePath: s.SourcePath,
		})
	}
	return passages, nil
}

// Denied reports whether a source path matches any denylist pattern.
// Patterns ending in "/*" match a path component prefix anywhere in the
// path; other patterns glob-match against the base name.
func Denied(denylist []string, sourcePath string) bool {
	base := filepath.Base(sourcePath)
	for _, pattern := range denylist {
		if dir, ok := strings.CutSuffix(pattern, "/*"); ok {
			if strings.HasPrefix(sourcePath, dir+"/") || strings.Contains(sourcePath, "/"+dir+"/") {
				return true
			}
			continue
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
