package jobs

import (
	"context"
	"sync"
)

// Registry tracks the cancel functions of running jobs.
type Registry struct {
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{running: make(map[string]context.CancelFunc)}
}

// Register records cancel for a running job.
func (r *Registry) Register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[id] = cancel
}

// Done forgets a finished job.
func (r *Registry) Done(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, id)
}

// Cancel cancels a running job and reports whether it was running here.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.running[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running returns the number of jobs in flight.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}
