package interfaces

import (
	"context"
	"time"

	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/rag/embeddings"
	"DocSage/backend/go/internal/rag_service/rag/schema"
)

// Loader fetches the extracted text of a document from an external source.
type Loader interface {
	Load(ctx context.Context, key string) (string, error)
}

// DocumentStore persists Document records scoped by tenant.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, companyID, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, companyID string) ([]*models.Document, error)
	SetDocumentActive(ctx context.Context, companyID, id string, active bool) error
	// DeleteDocument removes the document and cascades to its chunks.
	DeleteDocument(ctx context.Context, companyID, id string) error
}

// ChunkStore persists chunks and exposes the similarity operators search relies on.
// Inactive documents never contribute rows to SimilarChunks, TrigramMatches or GetChunks.
type ChunkStore interface {
	DocumentStore

	// InsertChunks writes chunks in sub-batches, each committed on its own.
	// It returns how many rows were committed before the first failing sub-batch.
	InsertChunks(ctx context.Context, chunks []*models.Chunk) (int, error)
	// UpdateEmbeddings attaches vectors to existing chunks and returns how many were written.
	UpdateEmbeddings(ctx context.Context, updates []models.ChunkEmbedding) (int, error)
	// ListUnembedded returns chunks whose embedding is null, oldest documents
	// first, starting strictly after the after cursor when it is set. The
	// returned cursor points at the last row, or is nil when none were found.
	// An empty companyID lists across tenants.
	ListUnembedded(ctx context.Context, companyID string, after *schema.PendingCursor, limit int) ([]*models.Chunk, *schema.PendingCursor, error)
	ChunkStats(ctx context.Context, docID string) (total, embedded int, err error)
	GetChunks(ctx context.Context, companyID string, ids []string) ([]schema.ScoredChunk, error)

	// SimilarChunks ranks embedded chunks by cosine similarity to query, best first.
	SimilarChunks(ctx context.Context, companyID string, query []float32, limit int) ([]schema.ScoredChunk, error)
	// TrigramMatches returns chunks whose normalized content has trigram
	// similarity above threshold with normalizedQuery, best first. A limit of
	// zero or less returns every such chunk.
	TrigramMatches(ctx context.Context, companyID, normalizedQuery string, threshold float64, limit int) ([]schema.ScoredChunk, error)
}

// IndexHit is one nearest-neighbour hit from an external vector index.
type IndexHit struct {
	ChunkID string
	Score   float64
}

// VectorIndex is an optional external ANN index kept in sync with the chunk store.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []*models.Chunk) error
	Search(ctx context.Context, companyID string, query []float32, limit int) ([]IndexHit, error)
	DeleteDocument(ctx context.Context, companyID, docID string) error
}

// Embedder produces document and query embeddings.
type Embedder interface {
	GenerateBatch(ctx context.Context, texts []string) *embeddings.Report
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

var _ Embedder = (*embeddings.Generator)(nil)

// LLM is the interface for a large language model that can generate text.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Cache is a time-boxed byte cache for orchestrated search results.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// InvalidatePrefix drops every key starting with prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error
}
