package watermark

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// MemoryStore keeps records in process.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Load returns the record for id.
func (m *MemoryStore) Load(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "watermark: load %s", id)
	}
	return &st, nil
}

// CompareAndSwap commits next if the stored version is expectedVersion.
func (m *MemoryStore) CompareAndSwap(_ context.Context, expectedVersion int64, next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if st, ok := m.states[next.ID]; ok {
		current = st.Version
	}
	if current != expectedVersion {
		return eris.Wrapf(ErrVersionConflict, "watermark: %s at version %d, expected %d", next.ID, current, expectedVersion)
	}
	m.states[next.ID] = next
	return nil
}
