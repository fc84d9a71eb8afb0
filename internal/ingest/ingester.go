// Package ingest walks a corpus directory, chunks its documents, and writes
// embedded chunks into the vector store.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crossbarhq/crossbar/internal/embed"
	"github.com/crossbarhq/crossbar/internal/retrieval"
	"github.com/crossbarhq/crossbar/internal/vecstore"
)

const (
	defaultChunkSize    = 1200
	defaultChunkOverlap = 200
)

// textExtensions lists file types ingested as plain text. PDFs go through
// the extractor in pdf.go; everything else is skipped.
var textExtensions = map[string]bool{
	".md": true, ".txt": true, ".rst": true,
	".go": true, ".py": true, ".js": true, ".ts": true, ".rs": true,
	".java": true, ".c": true, ".h": true, ".cpp": true, ".sh": true,
	".yaml": true, ".yml": true, ".json": true, ".toml": true,
	".sql": true, ".html": true, ".css": true,
}

// Stats summarizes one ingestion run.
type Stats struct {
	Files   int
	Chunks  int
	Skipped int
}

// Ingester chunks and embeds corpus files.
type Ingester struct {
	provider  *embed.Provider
	store     *vecstore.Store
	denylist  []string
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

// New creates an Ingester. A nil denylist falls back to the retrieval
// package's default exclusions.
func New(provider *embed.Provider, store *vecstore.Store, denylist []string, logger *slog.Logger) *Ingester {
	if denylist == nil {
		denylist = retrieval.DefaultDenylist
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		provider:  provider,
		store:     store,
		denylist:  denylist,
		chunkSize: defaultChunkSize,
		overlap:   defaultChunkOverlap,
		logger:    logger,
	}
}

// IngestDir walks root and ingests every eligible file. Chunk IDs derive
// from the source path and chunk offset, so re-running over an unchanged
// corpus rewrites the same rows instead of accumulating duplicates.
func (ing *Ingester) IngestDir(ctx context.Context, root string) (Stats, error) {
	var stats Stats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		if d.IsDir() {
			if path != root && (retrieval.Denied(ing.denylist, rel+"/") || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}

		if retrieval.Denied(ing.denylist, rel) {
			stats.Skipped++
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !textExtensions[ext] && ext != ".pdf" {
			stats.Skipped++
			return nil
		}

		n, err := ing.IngestFile(ctx, rel, path)
		if err != nil {
			ing.logger.Warn("skipping file", "path", rel, "error", err)
			stats.Skipped++
			return nil
		}
		stats.Files++
		stats.Chunks += n
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walking %s: %w", root, err)
	}
	return stats, nil
}

// IngestFile ingests a single file, returning the number of chunks written.
// sourcePath is the stable identifier stored with each chunk; path is where
// the bytes live on disk.
func (ing *Ingester) IngestFile(ctx context.Context, sourcePath, path string) (int, error) {
	var text string
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		var err error
		text, err = extractPDFText(path)
		if err != nil {
			return 0, fmt.Errorf("extracting pdf text: %w", err)
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("reading file: %w", err)
		}
		text = string(data)
	}

	pieces := chunkText(text, ing.chunkSize, ing.overlap)
	if len(pieces) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.text
	}
	vectors, err := ing.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding chunks: %w", err)
	}

	now := time.Now().UTC()
	chunks := make([]vecstore.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = vecstore.Chunk{
			ID:         chunkID(sourcePath, p.offset),
			SourcePath: sourcePath,
			Text:       p.text,
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
	}

	if err := ing.store.UpsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("storing chunks: %w", err)
	}
	return len(chunks), nil
}

// Remove drops all chunks previously ingested from sourcePath.
func (ing *Ingester) Remove(ctx context.Context, sourcePath string) error {
	return ing.store.DeleteChunksBySource(ctx, sourcePath)
}

// chunkID is stable across runs for the same source position.
func chunkID(sourcePath string, offset int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s#%d", sourcePath, offset))
	return hex.EncodeToString(sum[:])
}

type chunkPiece struct {
	text   string
	offset int
}

// chunkText splits text into size-bounded pieces with a fixed overlap,
// preferring to break on a newline near the boundary so chunks do not cut
// through the middle of a line.
func chunkText(text string, size, overlap int) []chunkPiece {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []chunkPiece{{text: text, offset: 0}}
	}

	var pieces []chunkPiece
	offset := 0
	for offset < len(text) {
		end := offset + size
		if end >= len(text) {
			end = len(text)
		} else if nl := strings.LastIndexByte(text[offset:end], '\n'); nl > size/2 {
			end = offset + nl
		}

		piece := strings.TrimSpace(text[offset:end])
		if piece != "" {
			pieces = append(pieces, chunkPiece{text: piece, offset: offset})
		}

		if end == len(text) {
			break
		}
		next := end - overlap
		if next <= offset {
			next = end
		}
		offset = next
	}
	return pieces
}
