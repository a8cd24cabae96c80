package reputation

import (
	"context"
	"sync"
)

type key struct {
	identity string
	context  string
}

// InMemoryStore is a reference reputation store used for tests and single
// process deployments. Scores start at a configurable initial value and are
// adjusted by deltas, floored at zero.
type InMemoryStore struct {
	initialScore float64
	scores       map[key]float64
	mu           sync.RWMutex
}

type InMemoryStoreOption func(*InMemoryStore)

// WithInitialScore sets the score assigned to identities on first reference.
func WithInitialScore(score float64) InMemoryStoreOption {
	return func(s *InMemoryStore) {
		s.initialScore = score
	}
}

func NewInMemoryStore(opts ...InMemoryStoreOption) *InMemoryStore {
	s := &InMemoryStore{
		scores: make(map[key]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) GetScore(ctx context.Context, identity string, scoreContext string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if score, ok := s.scores[key{identity, scoreContext}]; ok {
		return score, nil
	}
	return s.initialScore, nil
}

func (s *InMemoryStore) ApplyEvent(ctx context.Context, identity string, scoreContext string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{identity, scoreContext}
	score, ok := s.scores[k]
	if !ok {
		score = s.initialScore
	}
	score += delta
	if score < 0 {
		score = 0
	}
	s.scores[k] = score
	return nil
}

// SetScore overrides an identity's score directly. Test helper.
func (s *InMemoryStore) SetScore(identity string, scoreContext string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[key{identity, scoreContext}] = score
}

// compile-time interface check
var _ Store = (*InMemoryStore)(nil)
