package fleet

import "sync"

// outcomeStore collects node outcomes from concurrent workers.
type outcomeStore struct {
	mu   sync.Mutex
	data map[int]NodeOutcome
}

func newOutcomeStore() *outcomeStore {
	return &outcomeStore{data: make(map[int]NodeOutcome)}
}

func (s *outcomeStore) Set(index int, o NodeOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[index] = o
}

// Ordered returns outcomes 0..n-1 in index order.
func (s *outcomeStore) Ordered(n int) []NodeOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]NodeOutcome, 0, n)
	for i := 0; i < n; i++ {
		if o, ok := s.data[i]; ok {
			out = append(out, o)
		}
	}
	return out
}
