package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/pkg/logger"

	"github.com/google/uuid"
)

// Processor indexes one document.
type Processor interface {
	ProcessDocument(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error)
}

// ResultPublisher announces finished jobs.
type ResultPublisher interface {
	PublishResult(ctx context.Context, job *models.IngestJob) error
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// PollInterval is how often a running job re-reads its record to notice
	// a cancellation requested on another instance. Zero disables polling.
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *logger.Logger
}

// Runner drives the lifecycle of ingestion jobs:
// queued -> running -> succeeded | partial | failed | cancelled.
type Runner struct {
	processor Processor
	store     Store
	registry  *Registry
	publisher ResultPublisher
	opts      RunnerOptions
	log       *logger.Logger
}

// NewRunner creates a Runner. publisher may be nil.
func NewRunner(processor Processor, store Store, publisher ResultPublisher, opts RunnerOptions) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Runner{
		processor: processor,
		store:     store,
		registry:  NewRegistry(),
		publisher: publisher,
		opts:      opts,
		log:       opts.Logger.Named("jobs"),
	}
}

// Submit records a queued job for req and returns it. A job id is assigned if missing.
func (r *Runner) Submit(ctx context.Context, req *models.IngestRequest) (*models.IngestJob, error) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	job := NewJob(*req, r.opts.Now())
	if err := r.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Run executes the job for req. Requests without a job record (for example
// produced directly onto Kafka) get one. Jobs already in a terminal status
// are skipped, so redelivered messages are harmless.
func (r *Runner) Run(ctx context.Context, req models.IngestRequest) (*models.IngestJob, error) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	job, err := r.store.Get(ctx, req.JobID)
	switch {
	case errors.Is(err, ErrJobNotFound):
		job = NewJob(req, r.opts.Now())
		if err := r.store.Create(ctx, job); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
	case err != nil:
		return nil, err
	case job.Status.Terminal():
		r.log.WithField("job_id", job.ID).Info(fmt.Sprintf("Skipping job in status %s", job.Status))
		return job, nil
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.registry.Register(job.ID, cancel)
	defer r.registry.Done(job.ID)

	job.Status = models.JobStatusRunning
	job.UpdatedAt = r.opts.Now()
	if err := r.store.Update(ctx, job); err != nil {
		return nil, err
	}
	stopWatch := r.watch(jobCtx, job.ID, cancel)

	res, procErr := r.processor.ProcessDocument(jobCtx, req)
	stopWatch()

	now := r.opts.Now()
	job.UpdatedAt = now
	job.CompletedAt = &now
	switch {
	case procErr != nil && jobCtx.Err() != nil && ctx.Err() == nil:
		job.Status = models.JobStatusCancelled
		job.Error = procErr.Error()
	case procErr != nil:
		job.Status = models.JobStatusFailed
		job.Error = procErr.Error()
	default:
		job.Status = res.Status
		job.Result = res
	}

	// 任务本身可能已被取消，结果仍需落库
	finishCtx := context.WithoutCancel(ctx)
	if err := r.store.Update(finishCtx, job); err != nil {
		return job, err
	}
	r.log.WithPayload(map[string]interface{}{
		"job_id":     job.ID,
		"company_id": job.CompanyID,
		"status":     job.Status,
	}).Info("Job finished")

	if r.publisher != nil {
		if err := r.publisher.PublishResult(finishCtx, job); err != nil {
			r.log.WithErr(err).WithField("job_id", job.ID).Warn("Failed to publish job result")
		}
	}
	return job, nil
}

// Cancel stops a job. A job running in this process is cancelled directly;
// otherwise its record is marked cancelled, which a queued job observes
// before starting and a job running elsewhere observes through polling.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	if r.registry.Cancel(id) {
		return nil
	}
	job, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrJobFinished, job.Status)
	}
	now := r.opts.Now()
	if job.Status == models.JobStatusQueued {
		job.CompletedAt = &now
	}
	job.Status = models.JobStatusCancelled
	job.UpdatedAt = now
	return r.store.Update(ctx, job)
}

// Fail records job as failed with err.
func (r *Runner) Fail(ctx context.Context, job *models.IngestJob, err error) error {
	now := r.opts.Now()
	job.Status = models.JobStatusFailed
	job.Error = err.Error()
	job.UpdatedAt = now
	job.CompletedAt = &now
	return r.store.Update(ctx, job)
}

// Get returns the job record.
func (r *Runner) Get(ctx context.Context, id string) (*models.IngestJob, error) {
	return r.store.Get(ctx, id)
}

// watch polls the job record and cancels the job once it is marked cancelled.
func (r *Runner) watch(ctx context.Context, id string, cancel context.CancelFunc) func() {
	if r.opts.PollInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				job, err := r.store.Get(ctx, id)
				if err == nil && job.Status == models.JobStatusCancelled {
					cancel()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}
