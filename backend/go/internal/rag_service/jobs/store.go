// Package jobs runs document ingestion as tracked, cancellable jobs fed by
// Kafka or an in-process queue.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"DocSage/backend/go/internal/models"
)

var (
	// ErrJobNotFound is returned when no job record exists for the id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when cancelling a job that already reached a terminal status.
	ErrJobFinished = errors.New("job already finished")
)

// Store persists job records.
type Store interface {
	Create(ctx context.Context, job *models.IngestJob) error
	Get(ctx context.Context, id string) (*models.IngestJob, error)
	Update(ctx context.Context, job *models.IngestJob) error
}

// NewJob builds a queued job record for req.
func NewJob(req models.IngestRequest, now time.Time) *models.IngestJob {
	return &models.IngestJob{
		ID:          req.JobID,
		CompanyID:   req.CompanyID,
		Status:      models.JobStatusQueued,
		Request:     req,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

// MemoryStore keeps job records in process. It is used when MongoDB is not configured.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]models.IngestJob
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]models.IngestJob)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, job *models.IngestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*models.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, job *models.IngestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	s.jobs[job.ID] = *job
	return nil
}
