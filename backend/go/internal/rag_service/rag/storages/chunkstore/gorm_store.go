package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/rag/dal"
	"DocSage/backend/go/internal/rag_service/rag/schema"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const scoredColumns = "c.id, c.doc_id, c.company_id, c.chunk_index, c.content, c.normalized_content, " +
	"c.token_count, c.embedding, c.created_at, c.updated_at, d.name AS document_name, d.type AS document_type"

// GormStore is a ChunkStore over gorm. On PostgreSQL the cosine and trigram
// operators run in the database (pgvector <=>, pg_trgm similarity); on MySQL
// candidate rows are scanned and scored in-process. Trigram scoring also
// moves in-process when Options.InProcessTrigram is set, see TrigramLocale.
type GormStore struct {
	db      *gorm.DB
	dialect Dialect
	docs    *dal.DocumentDAL
	opts    Options
}

// NewGormStore wraps an open gorm connection.
func NewGormStore(db *gorm.DB, dialect Dialect, opts Options) *GormStore {
	opts.setDefaults()
	return &GormStore{db: db, dialect: dialect, docs: dal.NewDocumentDAL(db), opts: opts}
}

// SaveDocument inserts a new document.
func (s *GormStore) SaveDocument(ctx context.Context, doc *models.Document) error {
	return mapDALError(s.docs.CreateDocument(ctx, doc))
}

// GetDocument returns the tenant's document.
func (s *GormStore) GetDocument(ctx context.Context, companyID, id string) (*models.Document, error) {
	doc, err := s.docs.GetDocument(ctx, companyID, id)
	return doc, mapDALError(err)
}

// ListDocuments returns the tenant's documents, newest first.
func (s *GormStore) ListDocuments(ctx context.Context, companyID string) ([]*models.Document, error) {
	return s.docs.ListDocumentsByCompany(ctx, companyID)
}

// SetDocumentActive toggles the active flag.
func (s *GormStore) SetDocumentActive(ctx context.Context, companyID, id string, active bool) error {
	return mapDALError(s.docs.SetActive(ctx, companyID, id, active))
}

// DeleteDocument deletes the document and its chunks.
func (s *GormStore) DeleteDocument(ctx context.Context, companyID, id string) error {
	return mapDALError(s.docs.DeleteDocument(ctx, companyID, id))
}

// InsertChunks writes chunks in sub-batches, one transaction each.
func (s *GormStore) InsertChunks(ctx context.Context, chunks []*models.Chunk) (int, error) {
	for _, c := range chunks {
		if c.Embedding != nil {
			if err := checkDimension(s.opts.Dimension, c.Embedding.Slice()); err != nil {
				return 0, fmt.Errorf("chunk %s: %w", c.ID, err)
			}
		}
	}
	return insertInBatches(chunks, s.opts.InsertBatch, func(batch []*models.Chunk) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&batch).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("%w: %v", ErrDuplicate, err)
				}
				return err
			}
			return nil
		})
	})
}

// UpdateEmbeddings writes vectors in sub-batches, one transaction each.
func (s *GormStore) UpdateEmbeddings(ctx context.Context, updates []models.ChunkEmbedding) (int, error) {
	for _, u := range updates {
		if err := checkDimension(s.opts.Dimension, u.Vector); err != nil {
			return 0, fmt.Errorf("chunk %s: %w", u.ChunkID, err)
		}
	}

	written := 0
	for start := 0; start < len(updates); start += s.opts.InsertBatch {
		batch := updates[start:min(start+s.opts.InsertBatch, len(updates))]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := time.Now()
			for _, u := range batch {
				res := tx.Model(&models.Chunk{}).Where("id = ?", u.ChunkID).
					Updates(map[string]interface{}{"embedding": pgvector.NewVector(u.Vector), "updated_at": now})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return fmt.Errorf("chunk %s: %w", u.ChunkID, ErrNotFound)
				}
			}
			return nil
		})
		if err != nil {
			return written, fmt.Errorf("update embeddings: %w", err)
		}
		written += len(batch)
	}
	return written, nil
}

// ListUnembedded returns chunks of active documents whose embedding is null,
// keyset-paged on (d.created_at, c.doc_id, c.chunk_index).
func (s *GormStore) ListUnembedded(ctx context.Context, companyID string, after *schema.PendingCursor, limit int) ([]*models.Chunk, *schema.PendingCursor, error) {
	q := s.db.WithContext(ctx).Table("rag_chunks AS c").
		Select("c.*, d.created_at AS doc_created_at").
		Joins("JOIN rag_documents d ON d.id = c.doc_id").
		Where("c.embedding IS NULL AND d.active = ?", true)
	if companyID != "" {
		q = q.Where("c.company_id = ?", companyID)
	}
	if after != nil {
		// 行值比较在 PostgreSQL 与 MySQL 上语义一致
		q = q.Where("(d.created_at, c.doc_id, c.chunk_index) > (?, ?, ?)", after.DocCreatedAt, after.DocID, after.ChunkIndex)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []schema.PendingChunk
	if err := q.Order("d.created_at, c.doc_id, c.chunk_index").Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("list unembedded chunks: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	chunks := make([]*models.Chunk, len(rows))
	for i := range rows {
		chunks[i] = &rows[i].Chunk
	}
	return chunks, rows[len(rows)-1].Cursor(), nil
}

// ChunkStats counts a document's chunks and how many carry an embedding.
func (s *GormStore) ChunkStats(ctx context.Context, docID string) (int, int, error) {
	var row struct {
		Total    int
		Embedded int
	}
	err := s.db.WithContext(ctx).Model(&models.Chunk{}).
		Select("COUNT(*) AS total, COUNT(embedding) AS embedded").
		Where("doc_id = ?", docID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("chunk stats: %w", err)
	}
	return row.Total, row.Embedded, nil
}

// GetChunks returns the tenant's chunks by id in the order given.
func (s *GormStore) GetChunks(ctx context.Context, companyID string, ids []string) ([]schema.ScoredChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []schema.ScoredChunk
	err := s.scoped(ctx, companyID).Select(scoredColumns).Where("c.id IN ?", ids).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}

	byID := make(map[string]schema.ScoredChunk, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]schema.ScoredChunk, 0, len(rows))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// SimilarChunks ranks the tenant's embedded chunks by cosine similarity.
func (s *GormStore) SimilarChunks(ctx context.Context, companyID string, query []float32, limit int) ([]schema.ScoredChunk, error) {
	var rows []schema.ScoredChunk

	if s.dialect != DialectPostgres {
		err := s.scoped(ctx, companyID).Select(scoredColumns).Where("c.embedding IS NOT NULL").Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("similar chunks: %w", err)
		}
		return rankByCosine(rows, query, limit), nil
	}

	vec := pgvector.NewVector(query)
	err := s.scoped(ctx, companyID).
		Select(scoredColumns+", 1 - (c.embedding <=> ?) AS similarity", vec).
		Where("c.embedding IS NOT NULL").
		Order(clause.Expr{SQL: "c.embedding <=> ?", Vars: []interface{}{vec}}).
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("similar chunks: %w", err)
	}
	return rows, nil
}

// TrigramMatches ranks the tenant's chunks by trigram similarity of their normalized content.
func (s *GormStore) TrigramMatches(ctx context.Context, companyID, normalizedQuery string, threshold float64, limit int) ([]schema.ScoredChunk, error) {
	var rows []schema.ScoredChunk

	if s.dialect != DialectPostgres || s.opts.InProcessTrigram {
		err := s.scoped(ctx, companyID).Select(scoredColumns).Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("trigram matches: %w", err)
		}
		return rankByTrigram(rows, normalizedQuery, threshold, limit), nil
	}

	q := s.scoped(ctx, companyID).
		Select(scoredColumns+", similarity(c.normalized_content, ?) AS similarity", normalizedQuery).
		Where("similarity(c.normalized_content, ?) > ?", normalizedQuery, threshold).
		Order("similarity DESC, c.doc_id, c.chunk_index")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("trigram matches: %w", err)
	}
	return rows, nil
}

// scoped joins chunks to their active documents for one tenant.
func (s *GormStore) scoped(ctx context.Context, companyID string) *gorm.DB {
	return s.db.WithContext(ctx).Table("rag_chunks AS c").
		Joins("JOIN rag_documents d ON d.id = c.doc_id").
		Where("c.company_id = ? AND d.active = ?", companyID, true)
}

func mapDALError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dal.ErrDocumentNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, dal.ErrDocumentExists):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}
