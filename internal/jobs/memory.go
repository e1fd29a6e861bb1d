package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps jobs in process memory. Jobs are lost on restart, so
// owners of the jobs must re-register them on start.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	nextRev uint64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

var _ Store = (*MemoryStore)(nil)

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRev++
	stored := *job
	stored.Revision = s.nextRev
	s.jobs[job.Handle] = &stored
	job.Revision = stored.Revision
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[handle]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, handle)
	return nil
}

// Due implements Store.
func (s *MemoryStore) Due(ctx context.Context, now time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, j := range s.jobs {
		if j.Due(now) {
			c := *j
			due = append(due, &c)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].FireAt.Before(due[b].FireAt) })
	return due, nil
}

// Claim implements Store.
func (s *MemoryStore) Claim(ctx context.Context, job *Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.Handle]
	if !ok || current.Revision != job.Revision {
		return false, nil
	}
	delete(s.jobs, job.Handle)
	return true, nil
}

// Len returns the number of stored jobs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
