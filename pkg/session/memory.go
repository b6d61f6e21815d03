package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Calls without a session id are
// treated as anonymous.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]map[string]struct{}
	redirects map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]map[string]struct{}),
		redirects: make(map[string]string),
	}
}

func (m *MemoryStore) Authenticate(_ context.Context, id string, capabilities ...string) error {
	caps := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		caps[c] = struct{}{}
	}
	m.mu.Lock()
	m.sessions[id] = caps
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	delete(m.redirects, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) IsAuthenticated(ctx context.Context) (bool, error) {
	id := IDFrom(ctx)
	if id == "" {
		return false, nil
	}
	m.mu.RLock()
	_, ok := m.sessions[id]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemoryStore) HasCapability(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	caps, ok := m.sessions[IDFrom(ctx)]
	if !ok {
		return false, nil
	}
	_, has := caps[name]
	return has, nil
}

func (m *MemoryStore) PersistRedirectTarget(ctx context.Context, path string) error {
	m.mu.Lock()
	m.redirects[IDFrom(ctx)] = path
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ConsumeRedirectTarget(ctx context.Context) (string, bool, error) {
	id := IDFrom(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	path, ok := m.redirects[id]
	if ok {
		delete(m.redirects, id)
	}
	return path, ok, nil
}
