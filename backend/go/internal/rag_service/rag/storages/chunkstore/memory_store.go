package chunkstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/rag/schema"

	"github.com/pgvector/pgvector-go"
)

// MemoryStore is a thread-safe, in-memory ChunkStore. It backs tests and the
// "memory" database driver.
type MemoryStore struct {
	opts Options
	now  func() time.Time

	mu     sync.RWMutex
	docs   map[string]*models.Document // id → document
	chunks map[string]*models.Chunk    // id → chunk
	byDoc  map[string]map[int]string   // doc id → chunk index → chunk id
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts Options) *MemoryStore {
	opts.setDefaults()
	return &MemoryStore{
		opts:   opts,
		now:    time.Now,
		docs:   make(map[string]*models.Document),
		chunks: make(map[string]*models.Chunk),
		byDoc:  make(map[string]map[int]string),
	}
}

// SaveDocument stores a new document.
func (s *MemoryStore) SaveDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("document %s: %w", doc.ID, ErrDuplicate)
	}
	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

// GetDocument returns a copy of the tenant's document.
func (s *MemoryStore) GetDocument(_ context.Context, companyID, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[id]
	if !ok || d.CompanyID != companyID {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// ListDocuments returns the tenant's documents, newest first.
func (s *MemoryStore) ListDocuments(_ context.Context, companyID string) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Document
	for _, d := range s.docs {
		if d.CompanyID == companyID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetDocumentActive toggles the active flag.
func (s *MemoryStore) SetDocumentActive(_ context.Context, companyID, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok || d.CompanyID != companyID {
		return ErrNotFound
	}
	d.Active = active
	d.UpdatedAt = s.now()
	return nil
}

// DeleteDocument removes the document and all of its chunks.
func (s *MemoryStore) DeleteDocument(_ context.Context, companyID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok || d.CompanyID != companyID {
		return ErrNotFound
	}
	for _, cid := range s.byDoc[id] {
		delete(s.chunks, cid)
	}
	delete(s.byDoc, id)
	delete(s.docs, id)
	return nil
}

// InsertChunks writes chunks in sub-batches. A sub-batch is all-or-nothing;
// earlier sub-batches stay committed when a later one fails.
func (s *MemoryStore) InsertChunks(_ context.Context, chunks []*models.Chunk) (int, error) {
	return insertInBatches(chunks, s.opts.InsertBatch, func(batch []*models.Chunk) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		seen := make(map[string]struct{}, len(batch))
		for _, c := range batch {
			if _, ok := s.docs[c.DocID]; !ok {
				return fmt.Errorf("chunk %s: document %s: %w", c.ID, c.DocID, ErrNotFound)
			}
			key := fmt.Sprintf("%s/%d", c.DocID, c.ChunkIndex)
			_, inBatch := seen[key]
			_, stored := s.byDoc[c.DocID][c.ChunkIndex]
			_, idTaken := s.chunks[c.ID]
			if inBatch || stored || idTaken {
				return fmt.Errorf("chunk %s (%s): %w", c.ID, key, ErrDuplicate)
			}
			if c.Embedding != nil {
				if err := checkDimension(s.opts.Dimension, c.Embedding.Slice()); err != nil {
					return fmt.Errorf("chunk %s: %w", c.ID, err)
				}
			}
			seen[key] = struct{}{}
		}

		now := s.now()
		for _, c := range batch {
			cp := *c
			cp.CreatedAt, cp.UpdatedAt = now, now
			s.chunks[c.ID] = &cp
			if s.byDoc[c.DocID] == nil {
				s.byDoc[c.DocID] = make(map[int]string)
			}
			s.byDoc[c.DocID][c.ChunkIndex] = c.ID
		}
		return nil
	})
}

// UpdateEmbeddings attaches vectors to existing chunks.
func (s *MemoryStore) UpdateEmbeddings(_ context.Context, updates []models.ChunkEmbedding) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		if err := checkDimension(s.opts.Dimension, u.Vector); err != nil {
			return 0, fmt.Errorf("chunk %s: %w", u.ChunkID, err)
		}
		if _, ok := s.chunks[u.ChunkID]; !ok {
			return 0, fmt.Errorf("chunk %s: %w", u.ChunkID, ErrNotFound)
		}
	}
	now := s.now()
	for _, u := range updates {
		c := s.chunks[u.ChunkID]
		v := pgvector.NewVector(append([]float32(nil), u.Vector...))
		c.Embedding = &v
		c.UpdatedAt = now
	}
	return len(updates), nil
}

// ListUnembedded returns chunks of active documents without an embedding,
// ordered and paged the same way as GormStore.
func (s *MemoryStore) ListUnembedded(_ context.Context, companyID string, after *schema.PendingCursor, limit int) ([]*models.Chunk, *schema.PendingCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*schema.PendingChunk
	for _, c := range s.chunks {
		if c.HasEmbedding() || (companyID != "" && c.CompanyID != companyID) {
			continue
		}
		d := s.docs[c.DocID]
		if d == nil || !d.Active {
			continue
		}
		row := &schema.PendingChunk{Chunk: *c, DocCreatedAt: d.CreatedAt}
		if after != nil && !after.Before(*row.Cursor()) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cursor().Before(*out[j].Cursor())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if len(out) == 0 {
		return nil, nil, nil
	}
	chunks := make([]*models.Chunk, len(out))
	for i, row := range out {
		chunks[i] = &row.Chunk
	}
	return chunks, out[len(out)-1].Cursor(), nil
}

// ChunkStats counts a document's chunks and how many carry an embedding.
func (s *MemoryStore) ChunkStats(_ context.Context, docID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total, embedded := 0, 0
	for _, cid := range s.byDoc[docID] {
		total++
		if s.chunks[cid].HasEmbedding() {
			embedded++
		}
	}
	return total, embedded, nil
}

// GetChunks returns the tenant's chunks by id in the order given, skipping
// unknown ids and inactive documents.
func (s *MemoryStore) GetChunks(_ context.Context, companyID string, ids []string) ([]schema.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []schema.ScoredChunk
	for _, id := range ids {
		c, ok := s.chunks[id]
		if !ok || c.CompanyID != companyID {
			continue
		}
		if row, ok := s.rowLocked(c); ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// SimilarChunks ranks the tenant's embedded chunks by cosine similarity.
func (s *MemoryStore) SimilarChunks(_ context.Context, companyID string, query []float32, limit int) ([]schema.ScoredChunk, error) {
	return rankByCosine(s.scan(companyID, true), query, limit), nil
}

// TrigramMatches ranks the tenant's chunks by trigram similarity.
func (s *MemoryStore) TrigramMatches(_ context.Context, companyID, normalizedQuery string, threshold float64, limit int) ([]schema.ScoredChunk, error) {
	return rankByTrigram(s.scan(companyID, false), normalizedQuery, threshold, limit), nil
}

func (s *MemoryStore) scan(companyID string, embeddedOnly bool) []schema.ScoredChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []schema.ScoredChunk
	for _, c := range s.chunks {
		if c.CompanyID != companyID || (embeddedOnly && !c.HasEmbedding()) {
			continue
		}
		if row, ok := s.rowLocked(c); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func (s *MemoryStore) rowLocked(c *models.Chunk) (schema.ScoredChunk, bool) {
	d := s.docs[c.DocID]
	if d == nil || !d.Active {
		return schema.ScoredChunk{}, false
	}
	return schema.ScoredChunk{Chunk: *c, DocumentName: d.Name, DocumentType: d.Type}, true
}
