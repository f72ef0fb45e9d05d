package social

import (
	"context"
	"sync"

	"github.com/stellarlinkco/pacebot/internal/domain"
)

// MemoryStore is an in-process Store, used by the decide dry-run and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[int64]UserState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[int64]UserState)}
}

func (m *MemoryStore) LoadUser(_ context.Context, userID int64) (*UserState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := u.Clone()
	return &c, nil
}

func (m *MemoryStore) SaveUser(_ context.Context, u *UserState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserID] = u.Clone()
	return nil
}
