package api

import "sync"

// DefaultStoreCapacity bounds how many classifications are kept for lookup.
const DefaultStoreCapacity = 1024

// ClassificationStore keeps the most recent classifications by id. When full
// the oldest entry is evicted.
type ClassificationStore struct {
	mu       sync.Mutex
	capacity int
	order    []string
	items    map[string]Classification
}

func NewClassificationStore(capacity int) *ClassificationStore {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &ClassificationStore{
		capacity: capacity,
		items:    make(map[string]Classification, capacity),
	}
}

func (s *ClassificationStore) Put(c Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[c.ID]; !ok {
		if len(s.order) == s.capacity {
			delete(s.items, s.order[0])
			s.order = s.order[1:]
		}
		s.order = append(s.order, c.ID)
	}
	s.items[c.ID] = c
}

func (s *ClassificationStore) Get(id string) (Classification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	return c, ok
}

func (s *ClassificationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
