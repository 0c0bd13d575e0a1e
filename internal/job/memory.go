package job

import (
	"context"
	"slices"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// DefaultRetention is how many jobs MemoryRepository keeps by default.
const DefaultRetention = 1000

// MemoryRepository is an in-memory implementation of Repository.
// Once more than limit jobs are stored, the oldest finished jobs are evicted.
// Running jobs are never evicted.
type MemoryRepository struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	limit int
}

// NewMemoryRepository creates a new in-memory job repository holding at most
// limit jobs. A non-positive limit means DefaultRetention.
func NewMemoryRepository(limit int) *MemoryRepository {
	if limit <= 0 {
		limit = DefaultRetention
	}
	return &MemoryRepository{
		jobs:  make(map[string]*Job),
		limit: limit,
	}
}

// Save stores a clone of job.
func (r *MemoryRepository) Save(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	r.evict()
	return nil
}

// evict drops the oldest terminal jobs until the limit holds. Must be called
// with r.mu held.
func (r *MemoryRepository) evict() {
	excess := len(r.jobs) - r.limit
	if excess <= 0 {
		return
	}

	finished := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if j.IsTerminal() {
			finished = append(finished, j)
		}
	}
	slices.SortFunc(finished, func(a, b *Job) int {
		return a.CompletedAt.Compare(b.CompletedAt)
	})

	for _, j := range finished[:min(excess, len(finished))] {
		delete(r.jobs, j.ID)
	}
}

// FindByID returns a clone of the job.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns clones of all jobs, newest first.
func (r *MemoryRepository) List(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		result = append(result, job.Clone())
	}
	slices.SortFunc(result, func(a, b *Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result, nil
}

// Delete removes a job from storage.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}
