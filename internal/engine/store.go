package engine

import (
	"sort"
	"sync"

	"github.com/datallboy/dlqueue/internal/domain"
)

// ItemStore is the live id -> job table. Locks are never held across I/O.
type ItemStore struct {
	mu    sync.RWMutex
	items map[string]*domain.Job
}

func NewItemStore() *ItemStore {
	return &ItemStore{items: make(map[string]*domain.Job)}
}

func (s *ItemStore) Get(id string) (*domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.items[id]
	return j, ok
}

// Put registers job. An existing ID is never overwritten.
func (s *ItemStore) Put(job *domain.Job) error {
	id := job.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return ErrDuplicateID
	}
	s.items[id] = job
	return nil
}

// Resume swaps a registered record for its continuation. Both carry the same ID.
func (s *ItemStore) Resume(job *domain.Job) (previous *domain.Job) {
	id := job.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	previous = s.items[id]
	s.items[id] = job
	return previous
}

// All returns the jobs ordered by creation time.
func (s *ItemStore) All() []*domain.Job {
	s.mu.RLock()
	out := make([]*domain.Job, 0, len(s.items))
	for _, j := range s.items {
		out = append(out, j)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].CreatedAt().Before(out[b].CreatedAt())
	})
	return out
}

func (s *ItemStore) Remove(id string) (*domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.items[id]
	if ok {
		delete(s.items, id)
	}
	return j, ok
}

// Count returns how many jobs satisfy pred.
func (s *ItemStore) Count(pred func(*domain.Job) bool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, j := range s.items {
		if pred(j) {
			n++
		}
	}
	return n
}

func (s *ItemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
