package schema

import (
	"time"

	"DocSage/backend/go/internal/models"
)

// Method tags which search strategy produced a result.
type Method string

const (
	MethodVector Method = "vector"
	MethodFuzzy  Method = "fuzzy"
	MethodHybrid Method = "hybrid"
)

// ScoredChunk is a chunk returned by a store query together with its raw
// similarity and the owning document's display metadata.
type ScoredChunk struct {
	models.Chunk `gorm:"embedded"`
	DocumentName string  `gorm:"column:document_name"`
	DocumentType string  `gorm:"column:document_type"`
	Similarity   float64 `gorm:"column:similarity"`
}

// PendingChunk is a chunk still waiting for its embedding, read together with
// the owning document's creation time.
type PendingChunk struct {
	models.Chunk `gorm:"embedded"`
	DocCreatedAt time.Time `gorm:"column:doc_created_at"`
}

// PendingCursor is a position in the (document created_at, doc id, chunk
// index) order of unembedded chunks. A scan resumes strictly after it.
type PendingCursor struct {
	DocCreatedAt time.Time
	DocID        string
	ChunkIndex   int
}

// Cursor returns the position of p.
func (p *PendingChunk) Cursor() *PendingCursor {
	return &PendingCursor{DocCreatedAt: p.DocCreatedAt, DocID: p.DocID, ChunkIndex: p.ChunkIndex}
}

// Before reports whether position c sorts before o.
func (c PendingCursor) Before(o PendingCursor) bool {
	if !c.DocCreatedAt.Equal(o.DocCreatedAt) {
		return c.DocCreatedAt.Before(o.DocCreatedAt)
	}
	if c.DocID != o.DocID {
		return c.DocID < o.DocID
	}
	return c.ChunkIndex < o.ChunkIndex
}

// SearchResult is the ephemeral unit carried from the search engines through
// the orchestrator to answer synthesis.
type SearchResult struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	ChunkIndex   int     `json:"chunk_index"`
	Content      string  `json:"content"`
	Similarity   float64 `json:"similarity"`
	Score        float64 `json:"score"`
	Method       Method  `json:"method"`
	DocumentName string  `json:"document_name"`
	DocumentType string  `json:"document_type"`
}

// FromScored builds a result from a store row. Score starts at the raw similarity.
func FromScored(c ScoredChunk, method Method) SearchResult {
	return SearchResult{
		ChunkID:      c.ID,
		DocumentID:   c.DocID,
		ChunkIndex:   c.ChunkIndex,
		Content:      c.Content,
		Similarity:   c.Similarity,
		Score:        c.Similarity,
		Method:       method,
		DocumentName: c.DocumentName,
		DocumentType: c.DocumentType,
	}
}
