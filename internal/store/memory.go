package store

import (
	"context"
	"sort"
	"sync"

	"chanlun-engine/internal/models"
)

// MemoryStore keeps state in process memory. Used by tests and by
// one-shot runs that must not touch disk.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*models.ChanState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*models.ChanState)}
}

func (s *MemoryStore) Backend() string { return BackendMemory }

func (s *MemoryStore) Load(ctx context.Context, code string) (*models.ChanState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[code]; ok {
		return st.Clone(), nil
	}
	return models.NewChanState(code), nil
}

func (s *MemoryStore) Update(ctx context.Context, code string, fn func(*models.ChanState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[code]
	if !ok {
		current = models.NewChanState(code)
	}
	next, err := runUpdate(code, current, fn)
	if err != nil {
		return err
	}
	s.states[code] = next
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, state *models.ChanState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Code] = state.Clone()
	return nil
}

func (s *MemoryStore) Codes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, 0, len(s.states))
	for code := range s.states {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *MemoryStore) Close() error { return nil }
