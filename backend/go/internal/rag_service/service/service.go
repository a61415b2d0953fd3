// Package service is the query and ingestion surface of the RAG service.
// Transports (HTTP, gRPC health, MCP, Kafka) call into a single Service.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/jobs"
	"DocSage/backend/go/internal/rag_service/rag/interfaces"
	"DocSage/backend/go/internal/rag_service/rag/pipeline"
	"DocSage/backend/go/internal/rag_service/rag/quota"
	"DocSage/backend/go/pkg/circuitbreaker"
	"DocSage/backend/go/pkg/logger"
)

// ErrInvalidArgument marks requests rejected before any work is done.
var ErrInvalidArgument = errors.New("invalid argument")

// QuotaPool is the read side of the credential pool.
type QuotaPool interface {
	Snapshot() quota.Snapshot
	CircuitState() circuitbreaker.State
}

// Components are the wired building blocks of a Service.
type Components struct {
	Store     interfaces.ChunkStore
	Index     interfaces.VectorIndex // optional
	Indexer   *pipeline.IndexingPipeline
	Retrieval *pipeline.RetrievalPipeline
	QA        *pipeline.QAPipeline
	Pool      QuotaPool
	// Jobs persists ingestion job records. Defaults to an in-memory store.
	Jobs jobs.Store
	// Results receives finished jobs, for example a Kafka publisher. Optional.
	Results jobs.ResultPublisher
	// Queue runs submitted jobs. When nil a LocalQueue bound to the
	// context passed to New is used.
	Queue jobs.Queue
}

// Options tunes a Service.
type Options struct {
	ReconcileMaxRows int
	LocalWorkers     int
	JobPollInterval  time.Duration
	Logger           *logger.Logger
}

// Service answers questions and manages the documents of every tenant.
type Service struct {
	store     interfaces.ChunkStore
	index     interfaces.VectorIndex
	indexer   *pipeline.IndexingPipeline
	retrieval *pipeline.RetrievalPipeline
	qa        *pipeline.QAPipeline
	pool      QuotaPool
	runner    *jobs.Runner
	queue     jobs.Queue
	local     *jobs.LocalQueue
	opts      Options
	log       *logger.Logger
}

// New wires a Service. ctx bounds background jobs run by the local queue.
func New(ctx context.Context, c Components, opts Options) (*Service, error) {
	if c.Store == nil || c.Indexer == nil || c.Retrieval == nil || c.QA == nil || c.Pool == nil {
		return nil, errors.New("service: store, pipelines and quota pool are required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if c.Jobs == nil {
		c.Jobs = jobs.NewMemoryStore()
	}

	s := &Service{
		store:     c.Store,
		index:     c.Index,
		indexer:   c.Indexer,
		retrieval: c.Retrieval,
		qa:        c.QA,
		pool:      c.Pool,
		opts:      opts,
		log:       opts.Logger.Named("service"),
	}
	s.runner = jobs.NewRunner(processor{s}, c.Jobs, c.Results, jobs.RunnerOptions{
		PollInterval: opts.JobPollInterval,
		Logger:       opts.Logger,
	})
	s.queue = c.Queue
	if s.queue == nil {
		s.local = jobs.NewLocalQueue(ctx, s.runner, opts.LocalWorkers)
		s.queue = s.local
	}
	return s, nil
}

// Runner exposes the job runner so a Kafka consumer can feed it.
func (s *Service) Runner() *jobs.Runner { return s.runner }

// Wait blocks until jobs started by the local queue have returned.
func (s *Service) Wait() {
	if s.local != nil {
		s.local.Wait()
	}
}

// Answer answers question for a tenant. Retrieval and generation failures are
// reported through the answer status, never as an error.
func (s *Service) Answer(ctx context.Context, question, companyID string) (*pipeline.Answer, error) {
	if err := requireTenant(companyID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidArgument)
	}
	return s.qa.Run(ctx, question, companyID), nil
}

// Search runs the strategy chain and returns the ranked chunks. When every
// strategy failed the partial retrieval comes back with
// pipeline.ErrRetrievalUnavailable.
func (s *Service) Search(ctx context.Context, query, companyID string, limit int) (*pipeline.Retrieval, error) {
	if err := requireTenant(companyID); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidArgument)
	}
	return s.retrieval.Run(ctx, query, companyID, limit)
}

// Ingest indexes a document synchronously.
func (s *Service) Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	res, err := s.indexer.ProcessDocument(ctx, req)
	if err != nil {
		return nil, err
	}
	s.retrieval.Invalidate(context.WithoutCancel(ctx), req.CompanyID)
	return res, nil
}

// IngestAsync records a queued job for req and hands it to the queue.
func (s *Service) IngestAsync(ctx context.Context, req models.IngestRequest) (*models.IngestJob, error) {
	if err := requireTenant(req.CompanyID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if req.Text == "" && req.ObjectKey == "" {
		return nil, fmt.Errorf("%w: text or object_key is required", ErrInvalidArgument)
	}

	job, err := s.runner.Submit(ctx, &req)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		// 入队失败时任务不会再被执行，直接标记为失败
		if uerr := s.runner.Fail(ctx, job, err); uerr != nil {
			s.log.WithErr(uerr).WithField("job_id", job.ID).Error("Failed to record enqueue failure")
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// GetJob returns an ingestion job record.
func (s *Service) GetJob(ctx context.Context, id string) (*models.IngestJob, error) {
	return s.runner.Get(ctx, id)
}

// CancelJob stops an ingestion job between embedding batches.
func (s *Service) CancelJob(ctx context.Context, id string) error {
	return s.runner.Cancel(ctx, id)
}

// GetDocument returns one document of a tenant.
func (s *Service) GetDocument(ctx context.Context, companyID, id string) (*models.Document, error) {
	if err := requireTenant(companyID); err != nil {
		return nil, err
	}
	return s.store.GetDocument(ctx, companyID, id)
}

// ListDocuments returns the documents of a tenant.
func (s *Service) ListDocuments(ctx context.Context, companyID string) ([]*models.Document, error) {
	if err := requireTenant(companyID); err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, companyID)
}

// SetActive includes or excludes a document from search.
func (s *Service) SetActive(ctx context.Context, companyID, id string, active bool) error {
	if err := requireTenant(companyID); err != nil {
		return err
	}
	if err := s.store.SetDocumentActive(ctx, companyID, id, active); err != nil {
		return err
	}
	s.retrieval.Invalidate(ctx, companyID)
	return nil
}

// Delete removes a document with its chunks and index entries.
func (s *Service) Delete(ctx context.Context, companyID, id string) error {
	if err := requireTenant(companyID); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, companyID, id); err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.DeleteDocument(ctx, companyID, id); err != nil {
			// 关系库已删除，索引残留会在检索时因找不到分块而被丢弃
			s.log.WithErr(err).WithField("document_id", id).Warn("Failed to delete document from vector index")
		}
	}
	s.retrieval.Invalidate(ctx, companyID)
	return nil
}

// Reconcile embeds chunks left without an embedding. An empty companyID covers every tenant.
func (s *Service) Reconcile(ctx context.Context, companyID string) (*pipeline.ReconcileResult, error) {
	res, err := s.indexer.Reconcile(ctx, companyID, s.opts.ReconcileMaxRows)
	s.invalidateReconciled(ctx, res)
	return res, err
}

// StartReconciler schedules Reconcile across all tenants every interval until ctx is done.
func (s *Service) StartReconciler(ctx context.Context, interval time.Duration) {
	s.indexer.StartReconciler(ctx, interval, s.opts.ReconcileMaxRows, s.invalidateReconciled)
}

// invalidateReconciled drops cached retrievals of every tenant that gained embeddings.
func (s *Service) invalidateReconciled(ctx context.Context, res *pipeline.ReconcileResult) {
	if res == nil {
		return
	}
	for _, companyID := range res.Tenants {
		s.retrieval.Invalidate(context.WithoutCancel(ctx), companyID)
	}
}

// QuotaSnapshot reports the credential pool and its circuit.
func (s *Service) QuotaSnapshot() quota.Snapshot {
	return s.pool.Snapshot()
}

// EmbeddingServing reports whether the embedding backend accepts requests.
func (s *Service) EmbeddingServing() bool {
	return s.pool.CircuitState() != circuitbreaker.Open
}

func requireTenant(companyID string) error {
	if strings.TrimSpace(companyID) == "" {
		return fmt.Errorf("%w: company_id is required", ErrInvalidArgument)
	}
	return nil
}

// processor lets the job runner index documents through the service so the
// tenant cache is invalidated for asynchronous ingestion too.
type processor struct{ s *Service }

func (p processor) ProcessDocument(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	return p.s.Ingest(ctx, req)
}
