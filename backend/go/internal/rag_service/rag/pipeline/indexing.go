// Package pipeline wires chunking, embedding, storage and search into the
// indexing, reconciliation, retrieval and question-answering flows.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/rag/interfaces"
	"DocSage/backend/go/internal/rag_service/rag/loaders"
	"DocSage/backend/go/internal/rag_service/rag/splitters"
	"DocSage/backend/go/internal/rag_service/rag/textnorm"
	"DocSage/backend/go/pkg/logger"
	"DocSage/backend/go/pkg/metrics"

	"github.com/google/uuid"
)

var (
	// ErrInvalidRequest is returned for ingest requests missing required fields.
	ErrInvalidRequest = errors.New("invalid ingest request")
	// ErrEmptyDocument is returned when cleaning leaves no text to chunk.
	ErrEmptyDocument = errors.New("document has no text")
)

// IndexingOptions configures an IndexingPipeline.
type IndexingOptions struct {
	TargetTokens  int
	OverlapTokens int

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// IndexingOptionsFromConfig maps the chunker config section onto IndexingOptions.
func IndexingOptionsFromConfig(cfg config.ChunkerConfig) IndexingOptions {
	return IndexingOptions{TargetTokens: cfg.TargetTokens, OverlapTokens: cfg.OverlapTokens}
}

// IndexingPipeline orchestrates the process of loading, splitting, embedding, and storing documents.
type IndexingPipeline struct {
	splitter *splitters.TextSplitter
	embedder interfaces.Embedder
	store    interfaces.ChunkStore
	index    interfaces.VectorIndex // optional
	loader   interfaces.Loader      // optional
	opts     IndexingOptions
	log      *logger.Logger
}

// NewIndexingPipeline creates a new IndexingPipeline. index and loader may be nil.
func NewIndexingPipeline(
	splitter *splitters.TextSplitter,
	embedder interfaces.Embedder,
	store interfaces.ChunkStore,
	index interfaces.VectorIndex,
	loader interfaces.Loader,
	opts IndexingOptions,
) *IndexingPipeline {
	if opts.TargetTokens <= 0 {
		opts.TargetTokens = 500
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = 0
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &IndexingPipeline{
		splitter: splitter,
		embedder: embedder,
		store:    store,
		index:    index,
		loader:   loader,
		opts:     opts,
		log:      opts.Logger.Named("indexing"),
	}
}

// ProcessDocument saves the document, chunks its text, stores the chunks and
// embeds them. Chunks that fail to embed stay stored with a null embedding and
// are picked up by Reconcile. Cancelling ctx stops dispatching new embedding
// batches; the result then has status cancelled.
func (p *IndexingPipeline) ProcessDocument(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	if req.CompanyID == "" || req.Name == "" {
		return nil, fmt.Errorf("%w: company_id and name are required", ErrInvalidRequest)
	}
	text, err := p.text(ctx, req)
	if err != nil {
		return nil, err
	}
	text = splitters.CleanText(text)
	if text == "" {
		return nil, ErrEmptyDocument
	}

	doc := &models.Document{
		ID:         req.DocumentID,
		CompanyID:  req.CompanyID,
		Name:       req.Name,
		Type:       req.Type,
		PageCount:  req.PageCount,
		Active:     true,
		ParentID:   req.ParentID,
		UploadedBy: req.UploadedBy,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	log := p.log.WithPayload(map[string]interface{}{"document_id": doc.ID, "company_id": doc.CompanyID})
	log.Info(fmt.Sprintf("Starting indexing for document: %s", doc.Name))

	if err := p.store.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document %s: %w", doc.ID, err)
	}

	// 1. Split into chunks; indices are fixed here and never reassigned
	pieces := p.splitter.Chunk(text, p.opts.TargetTokens, p.opts.OverlapTokens)
	chunks := make([]*models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &models.Chunk{
			ID:                uuid.NewString(),
			DocID:             doc.ID,
			CompanyID:         doc.CompanyID,
			ChunkIndex:        piece.Index,
			Content:           piece.Text,
			NormalizedContent: textnorm.Normalize(piece.Text),
			TokenCount:        piece.TokenCount,
		}
	}
	log.Info(fmt.Sprintf("Split into %d chunks", len(chunks)))

	result := &models.IngestResult{DocumentID: doc.ID, Chunks: len(chunks)}

	// 2. Store the chunks; committed sub-batches survive a later failure
	stored, err := p.store.InsertChunks(ctx, chunks)
	result.Stored = stored
	if err != nil {
		log.WithErr(err).Error(fmt.Sprintf("stored %d of %d chunks", stored, len(chunks)))
		if stored == 0 {
			result.Status = models.JobStatusFailed
			p.opts.Metrics.RecordIngestJob(string(result.Status))
			return result, fmt.Errorf("insert chunks: %w", err)
		}
	}
	chunks = chunks[:stored]

	// 3. Embed and attach vectors
	out, err := p.embed(ctx, chunks)
	result.Embedded, result.Failed, result.Cancelled = out.Embedded, out.Failed, out.Cancelled
	if err != nil {
		log.WithErr(err).Error("failed to persist embeddings")
	}

	// 4. Retire the previous version
	if req.Supersede && req.ParentID != nil && *req.ParentID != "" {
		if err := p.store.SetDocumentActive(ctx, doc.CompanyID, *req.ParentID, false); err != nil {
			log.WithErr(err).Warn(fmt.Sprintf("could not deactivate parent document %s", *req.ParentID))
		}
	}

	switch {
	case out.Cancelled > 0 && ctx.Err() != nil:
		result.Status = models.JobStatusCancelled
	case out.Embedded == len(pieces):
		result.Status = models.JobStatusSucceeded
	default:
		result.Status = models.JobStatusPartial
	}
	log.WithPayload(map[string]interface{}{
		"chunks":    result.Chunks,
		"stored":    result.Stored,
		"embedded":  result.Embedded,
		"failed":    result.Failed,
		"cancelled": result.Cancelled,
		"status":    result.Status,
	}).Info("Finished indexing")
	p.opts.Metrics.RecordIngestJob(string(result.Status))
	return result, nil
}

func (p *IndexingPipeline) text(ctx context.Context, req models.IngestRequest) (string, error) {
	if req.Text != "" {
		text, err := loaders.DecodeText([]byte(req.Text))
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return text, nil
	}
	if req.ObjectKey == "" {
		return "", fmt.Errorf("%w: text or object_key is required", ErrInvalidRequest)
	}
	if p.loader == nil {
		return "", fmt.Errorf("%w: no loader configured for object_key", ErrInvalidRequest)
	}
	text, err := p.loader.Load(ctx, req.ObjectKey)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", req.ObjectKey, err)
	}
	return text, nil
}

// embedResult counts one embed call. Written holds the chunks whose vectors were persisted.
type embedResult struct {
	Embedded  int
	Failed    int
	Cancelled int
	Written   []*models.Chunk
}

// embed generates vectors for chunks, writes them back and mirrors them into
// the vector index.
func (p *IndexingPipeline) embed(ctx context.Context, chunks []*models.Chunk) (embedResult, error) {
	if len(chunks) == 0 {
		return embedResult{}, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	report := p.embedder.GenerateBatch(ctx, texts)
	out := embedResult{Failed: report.Failed, Cancelled: report.Cancelled}

	var updates []models.ChunkEmbedding
	var done []*models.Chunk
	for i, o := range report.Results {
		if !o.OK() {
			continue
		}
		updates = append(updates, models.ChunkEmbedding{ChunkID: chunks[i].ID, Vector: o.Vector})
		done = append(done, withVector(chunks[i], o.Vector))
	}
	if len(updates) == 0 {
		return out, nil
	}

	// 写回向量不受任务取消影响
	writeCtx := context.WithoutCancel(ctx)
	n, err := p.store.UpdateEmbeddings(writeCtx, updates)
	out.Embedded = n
	out.Written = done[:n]
	if err != nil {
		out.Failed += len(updates) - n
		return out, fmt.Errorf("update embeddings: %w", err)
	}
	if p.index != nil {
		if err := p.index.Upsert(writeCtx, done); err != nil {
			p.log.WithErr(err).Warn("vector index upsert failed")
		}
	}
	return out, nil
}
