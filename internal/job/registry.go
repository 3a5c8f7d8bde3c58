package job

import (
	"fmt"
	"sync"

	"jobsched/internal/shared"
)

// Registry is an ordered set of jobs keyed by name.
type Registry struct {
	mu    sync.RWMutex
	order []*Job
	byKey map[string]*Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*Job)}
}

// Add registers j. Names must be unique.
func (r *Registry) Add(j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[j.Name()]; ok {
		return fmt.Errorf("%w: job %q already registered", shared.ErrConflict, j.Name())
	}
	r.byKey[j.Name()] = j
	r.order = append(r.order, j)
	return nil
}

// Get returns the job named name.
func (r *Registry) Get(name string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.byKey[name]
	if !ok {
		return nil, fmt.Errorf("%w: job %q", shared.ErrNotFound, name)
	}
	return j, nil
}

// List returns the jobs in registration order.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Job(nil), r.order...)
}

// Drain freezes every job, see Job.Drain.
func (r *Registry) Drain() {
	for _, j := range r.List() {
		j.Drain()
	}
}

// Close releases the output files of every job.
func (r *Registry) Close() error {
	var firstErr error
	for _, j := range r.List() {
		if err := j.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
