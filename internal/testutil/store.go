package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// MemoryStore is an in-memory core.StateStore.
type MemoryStore struct {
	mu     sync.Mutex
	states map[core.WorkflowID]*core.WorkflowState
	active core.WorkflowID
	saves  int

	// SaveErr, when set, fails every Save.
	SaveErr error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[core.WorkflowID]*core.WorkflowState)}
}

// Save stores a copy of state and marks it active.
func (m *MemoryStore) Save(_ context.Context, state *core.WorkflowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.states[state.ID] = state.Clone()
	m.active = state.ID
	m.saves++
	return nil
}

// Load returns the active run.
func (m *MemoryStore) Load(ctx context.Context) (*core.WorkflowState, error) {
	m.mu.Lock()
	id := m.active
	m.mu.Unlock()
	if id == "" {
		return nil, nil
	}
	return m.LoadByID(ctx, id)
}

// LoadByID returns a stored run.
func (m *MemoryStore) LoadByID(_ context.Context, id core.WorkflowID) (*core.WorkflowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[id].Clone(), nil
}

// List returns summaries, newest first.
func (m *MemoryStore) List(_ context.Context) ([]core.WorkflowSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.WorkflowSummary, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s.Summarize())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Delete removes a run.
func (m *MemoryStore) Delete(_ context.Context, id core.WorkflowID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	if m.active == id {
		m.active = ""
	}
	return nil
}

// Saves returns how many snapshots were written.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
