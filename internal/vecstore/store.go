// Package vecstore provides vector storage and brute-force cosine similarity
// search backed by SQLite, over two logical collections: the read-mostly
// corpus index and the hot-path response cache.
package vecstore

import (
	"container/heap"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDimensionMismatch reports a stored vector whose dimension differs from
// the query's. It means the index was built with a different embedding
// model or configuration and must be re-ingested.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Chunk is a row in the corpus index. IDs are content-derived (hash of
// source path + offset) so re-ingesting an unchanged file set is idempotent.
type Chunk struct {
	ID         string
	SourcePath string
	Text       string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredChunk is a Chunk with a similarity score attached.
type ScoredChunk struct {
	Chunk
	Score float32
}

// CacheEntry is a row in the response cache. The ID is the fingerprint of
// the normalized query text, which makes concurrent writes for the same
// query semantically idempotent.
type CacheEntry struct {
	ID           string
	QueryText    string
	ResponseText string
	Embedding    []float32
	CreatedAt    time.Time
	HitCount     int
}

// ScoredEntry is a CacheEntry with a similarity score attached.
type ScoredEntry struct {
	CacheEntry
	Score float32
}

// Store wraps an existing *sql.DB for vector operations. Both tables must
// already exist (created via storage migrations).
//
// Search is a brute-force scan; when the corpus grows past ~100K vectors,
// consider an ANN-capable backend behind the same methods.
type Store struct {
	db *sql.DB
}

// New wraps an existing *sql.DB for vector operations.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertChunks inserts or updates corpus chunks by id in one transaction.
// Writing the same chunk twice never creates a duplicate row.
func (s *Store) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO corpus_chunks (id, source_path, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_path = excluded.source_path,
			text_chunk = excluded.text_chunk,
			embedding = excluded.embedding`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(c.ID, c.SourcePath, c.Text, encodeFloat32s(c.Embedding), createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// SearchChunks returns the top-K corpus chunks most similar to the query
// vector, ordered by descending score.
func (s *Store) SearchChunks(ctx context.Context, vector []float32, topK int) ([]ScoredChunk, error) {
	ids, scores, err := s.scanTopK(ctx, "corpus_chunks", vector, topK)
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	query := `SELECT id, source_path, text_chunk, embedding, created_at
		FROM corpus_chunks WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K chunks: %w", err)
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		var createdAt string
		if err := rows.Scan(&c.ID, &c.SourcePath, &c.Text, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if c.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", c.ID, err)
		}
		results = append(results, ScoredChunk{Chunk: c, Score: scores[c.ID]})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	sortChunksByScore(results)
	return results, nil
}

// ChunkIDs returns the full set of corpus chunk ids, sorted ascending.
// Used to verify ingestion idempotence.
func (s *Store) ChunkIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM corpus_chunks ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("querying chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountChunks returns the number of corpus chunks.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM corpus_chunks").Scan(&count)
	return count, err
}

// DeleteChunksBySource removes all chunks ingested from the given source path.
func (s *Store) DeleteChunksBySource(ctx context.Context, sourcePath string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM corpus_chunks WHERE source_path = ?", sourcePath)
	if err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", sourcePath, err)
	}
	return nil
}

// UpsertCacheEntry inserts or updates a cache entry by fingerprint. A second
// store for the same query replaces the response rather than duplicating the
// row; hit_count survives the update.
func (s *Store) UpsertCacheEntry(ctx context.Context, e CacheEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (id, query_text, response_text, embedding, created_at, hit_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			response_text = excluded.response_text,
			embedding = excluded.embedding`,
		e.ID, e.QueryText, e.ResponseText, encodeFloat32s(e.Embedding), createdAt.Format(time.RFC3339), e.HitCount)
	if err != nil {
		return fmt.Errorf("upserting cache entry %s: %w", e.ID, err)
	}
	return nil
}

// NearestCacheEntry returns the single most similar cache entry, or nil when
// the cache is empty. Threshold filtering is the caller's concern.
func (s *Store) NearestCacheEntry(ctx context.Context, vector []float32) (*ScoredEntry, error) {
	ids, scores, err := s.scanTopK(ctx, "cache_entries", vector, 1)
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	var e CacheEntry
	var blob []byte
	var createdAt string
	err = s.db.QueryRowContext(ctx, `
		SELECT id, query_text, response_text, embedding, created_at, hit_count
		FROM cache_entries WHERE id = ?`, ids[0],
	).Scan(&e.ID, &e.QueryText, &e.ResponseText, &blob, &createdAt, &e.HitCount)
	if err != nil {
		return nil, fmt.Errorf("fetching cache entry %s: %w", ids[0], err)
	}
	if e.Embedding, err = decodeFloat32s(blob); err != nil {
		return nil, fmt.Errorf("decoding embedding for %s: %w", e.ID, err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", e.ID, err)
	}

	return &ScoredEntry{CacheEntry: e, Score: scores[e.ID]}, nil
}

// IncrementHit bumps the hit counter for a cache entry.
func (s *Store) IncrementHit(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE cache_entries SET hit_count = hit_count + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("incrementing hit count for %s: %w", id, err)
	}
	return nil
}

// CountCacheEntries returns the number of cached responses.
func (s *Store) CountCacheEntries(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries").Scan(&count)
	return count, err
}

// scanTopK scans only id + embedding from the given table and returns the
// top-K candidate ids with their scores.
func (s *Store) scanTopK(ctx context.Context, table string, vector []float32, topK int) ([]string, map[string]float32, error) {
	if topK <= 0 {
		return nil, nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding FROM "+table)
	if err != nil {
		return nil, nil, fmt.Errorf("querying %s vectors: %w", table, err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		// A stored vector with a different length means the index was built
		// at another embedding dimension. Scoring it would silently rank it
		// at zero, so surface the violation instead.
		if len(buf) != len(vector) {
			return nil, nil, fmt.Errorf("%w: stored vector %s has dimension %d, query has %d",
				ErrDimensionMismatch, id, len(buf), len(vector))
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil, nil
	}
	ids, scores := h.drain()
	return ids, scores, nil
}

// sortChunksByScore sorts ScoredChunks by Score descending. Used for small slices (topK).
func sortChunksByScore(results []ScoredChunk) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
