// Package chunkstore persists documents and their chunks and implements the
// cosine and trigram operators used by search.
package chunkstore

import (
	"errors"
	"fmt"
	"sort"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/embedding"
	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/rag/interfaces"
	"DocSage/backend/go/internal/rag_service/rag/schema"
	"DocSage/backend/go/internal/rag_service/rag/textnorm"
)

var (
	// ErrNotFound is returned when a document does not exist for the tenant.
	ErrNotFound = errors.New("chunkstore: not found")
	// ErrDuplicate is returned when a document id or (doc_id, chunk_index) pair already exists.
	ErrDuplicate = errors.New("chunkstore: duplicate")
)

// DefaultInsertBatch is the sub-batch size for chunk inserts.
const DefaultInsertBatch = 50

// Options shared by all store implementations.
type Options struct {
	Dimension   int // vectors of any other length are rejected
	InsertBatch int
	// InProcessTrigram scores fuzzy matches in Go even on PostgreSQL.
	InProcessTrigram bool
}

// OptionsFromConfig reads the store options from the application config.
func OptionsFromConfig(cfg *config.AppConfig) Options {
	return Options{Dimension: cfg.Embedding.Dimension, InsertBatch: cfg.Chunker.InsertBatchSize}
}

func (o *Options) setDefaults() {
	if o.InsertBatch <= 0 {
		o.InsertBatch = DefaultInsertBatch
	}
}

var (
	_ interfaces.ChunkStore = (*MemoryStore)(nil)
	_ interfaces.ChunkStore = (*GormStore)(nil)
)

// insertInBatches calls write for consecutive sub-batches and stops at the first failure.
func insertInBatches(chunks []*models.Chunk, size int, write func([]*models.Chunk) error) (int, error) {
	stored := 0
	for start := 0; start < len(chunks); start += size {
		batch := chunks[start:min(start+size, len(chunks))]
		if err := write(batch); err != nil {
			return stored, fmt.Errorf("insert chunks %d-%d: %w", start, start+len(batch)-1, err)
		}
		stored += len(batch)
	}
	return stored, nil
}

func checkDimension(dim int, v []float32) error {
	if dim > 0 && len(v) != dim {
		return embedding.DimensionError(len(v), dim)
	}
	if len(v) == 0 {
		return embedding.DimensionError(0, dim)
	}
	return nil
}

// rankByCosine scores rows in-process and keeps the best limit.
func rankByCosine(rows []schema.ScoredChunk, query []float32, limit int) []schema.ScoredChunk {
	out := rows[:0]
	for _, r := range rows {
		if r.Embedding == nil {
			continue
		}
		r.Similarity = embedding.Cosine(query, r.Embedding.Slice())
		out = append(out, r)
	}
	return topN(out, limit)
}

// rankByTrigram scores rows with the same trigram similarity pg_trgm uses.
func rankByTrigram(rows []schema.ScoredChunk, normalizedQuery string, threshold float64, limit int) []schema.ScoredChunk {
	m := textnorm.NewMatcher(normalizedQuery)
	out := rows[:0]
	for _, r := range rows {
		norm := r.NormalizedContent
		if norm == "" {
			norm = textnorm.Normalize(r.Content)
		}
		r.Similarity = m.Similarity(norm)
		if r.Similarity > threshold {
			out = append(out, r)
		}
	}
	return topN(out, limit)
}

func topN(rows []schema.ScoredChunk, limit int) []schema.ScoredChunk {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Similarity != rows[j].Similarity {
			return rows[i].Similarity > rows[j].Similarity
		}
		if rows[i].DocID != rows[j].DocID {
			return rows[i].DocID < rows[j].DocID
		}
		return rows[i].ChunkIndex < rows[j].ChunkIndex
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
