package flow

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("flow state not found")

// Store persists flow states between requests.
type Store interface {
	Get(ctx context.Context, sessionID string) (*State, error)
	Put(ctx context.Context, state *State) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]*State, error)
}

// MemoryStore keeps states in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[state.SessionID] = state.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, sessionID)
	return nil
}

// List returns all states ordered by creation time.
func (m *MemoryStore) List(_ context.Context) ([]*State, error) {
	m.mu.RLock()
	out := make([]*State, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
