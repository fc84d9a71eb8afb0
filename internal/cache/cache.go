// Package cache implements the semantic response cache: embedding-keyed
// nearest-neighbor lookup with a similarity threshold, and idempotent
// upsert keyed by a content-derived fingerprint of the query text.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/crossbarhq/crossbar/internal/classify"
	"github.com/crossbarhq/crossbar/internal/embed"
	"github.com/crossbarhq/crossbar/internal/vecstore"
)

const lookupTimeout = 2 * time.Second

// Hit is a successful cache lookup.
type Hit struct {
	ResponseText string
	Similarity   float32
	MatchedQuery string
}

// Cache performs semantic lookups against the response-cache collection.
// It shares the process-wide embedding provider with the retrieval engine,
// so both sides of the dimension contract come from one instantiation point.
type Cache struct {
	provider  *embed.Provider
	store     *vecstore.Store
	threshold float32
}

// New creates a Cache. threshold is the minimum cosine similarity for a
// lookup to count as a hit; values at or below zero disable hits entirely.
func New(provider *embed.Provider, store *vecstore.Store, threshold float32) *Cache {
	return &Cache{provider: provider, store: store, threshold: threshold}
}

// Fingerprint returns the deterministic content-derived id for a query:
// the hex SHA-256 of its normalized text. Identical queries always map to
// the same id, which is what makes Store an upsert.
func Fingerprint(queryText string) string {
	sum := sha256.Sum256([]byte(classify.Normalize(queryText)))
	return hex.EncodeToString(sum[:])
}

// Lookup embeds the query and returns the nearest cached response if its
// similarity passes the threshold, or nil on a miss. A hit bumps the
// entry's hit counter.
func (c *Cache) Lookup(ctx context.Context, queryText string) (*Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	vec, err := c.provider.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embedding query for cache lookup: %w", err)
	}

	nearest, err := c.store.NearestCacheEntry(ctx, vec)
	if err != nil {
		return nil, fmt.Errorf("cache search: %w", err)
	}
	if nearest == nil || nearest.Score < c.threshold {
		return nil, nil
	}

	if err := c.store.IncrementHit(ctx, nearest.ID); err != nil {
		// A lost hit-count bump is not worth failing the request.
		slog.Warn("cache hit count update failed", "id", nearest.ID, "error", err)
	}

	return &Hit{
		ResponseText: nearest.ResponseText,
		Similarity:   nearest.Score,
		MatchedQuery: nearest.QueryText,
	}, nil
}

// Store embeds the query and upserts the (fingerprint, query, response)
// entry. Storing twice for the same query text leaves exactly one entry,
// holding the latest response.
func (c *Cache) Store(ctx context.Context, queryText, responseText string) error {
	vec, err := c.provider.Embed(ctx, queryText)
	if err != nil {
		return fmt.Errorf("embedding query for cache store: %w", err)
	}

	return c.store.UpsertCacheEntry(ctx, vecstore.CacheEntry{
		ID:           Fingerprint(queryText),
		QueryText:    queryText,
		ResponseText: responseText,
		Embedding:    vec,
		CreatedAt:    time.Now().UTC(),
	})
}
