package jobs

import (
	"context"
	"sync"

	"DocSage/backend/go/internal/models"
)

// Queue accepts submitted jobs for asynchronous execution.
type Queue interface {
	Enqueue(ctx context.Context, req models.IngestRequest) error
}

// LocalQueue runs jobs in goroutines of this process, at most workers at a time.
// It is used when Kafka is not configured.
type LocalQueue struct {
	base   context.Context
	runner *Runner
	sem    chan struct{}
	wg     sync.WaitGroup
}

// NewLocalQueue creates a LocalQueue. Jobs run under base, so cancelling it stops them.
func NewLocalQueue(base context.Context, runner *Runner, workers int) *LocalQueue {
	if workers <= 0 {
		workers = 1
	}
	return &LocalQueue{base: base, runner: runner, sem: make(chan struct{}, workers)}
}

// Enqueue implements Queue. It never blocks the caller.
func (q *LocalQueue) Enqueue(_ context.Context, req models.IngestRequest) error {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case q.sem <- struct{}{}:
		case <-q.base.Done():
			return
		}
		defer func() { <-q.sem }()
		if _, err := q.runner.Run(q.base, req); err != nil {
			q.runner.log.WithErr(err).WithField("job_id", req.JobID).Error("Local job failed")
		}
	}()
	return nil
}

// Wait blocks until every enqueued job has returned.
func (q *LocalQueue) Wait() {
	q.wg.Wait()
}
