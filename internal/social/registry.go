package social

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stellarlinkco/pacebot/internal/domain"
)

// Store persists user state. LoadUser returns domain.ErrNotFound for unknown users.
type Store interface {
	LoadUser(ctx context.Context, userID int64) (*UserState, error)
	SaveUser(ctx context.Context, u *UserState) error
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// Registry serializes load-mutate-store per user ID. Different users never
// contend with each other; the registry mutex only guards the lock table.
type Registry struct {
	store Store

	mu    sync.Mutex
	locks map[int64]*userLock
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		store: store,
		locks: make(map[int64]*userLock),
	}
}

func (r *Registry) acquire(userID int64) *userLock {
	r.mu.Lock()
	l := r.locks[userID]
	if l == nil {
		l = &userLock{}
		r.locks[userID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return l
}

func (r *Registry) release(userID int64, l *userLock) {
	l.mu.Unlock()

	r.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, userID)
	}
	r.mu.Unlock()
}

// Snapshot loads the user, creating and persisting a stranger record for a
// first-time sender. created reports whether the record was new.
func (r *Registry) Snapshot(ctx context.Context, userID int64, username, displayName string) (UserState, bool, error) {
	l := r.acquire(userID)
	defer r.release(userID, l)

	u, created, err := r.loadOrCreate(ctx, userID, username, displayName)
	if err != nil {
		return UserState{}, false, err
	}
	if created {
		if err := r.store.SaveUser(ctx, u); err != nil {
			return UserState{}, false, fmt.Errorf("save new user %d: %w", userID, err)
		}
	}
	return u.Clone(), created, nil
}

// Update applies fn to the stored user under that user's lock and saves the
// result. If fn returns an error nothing is saved and the zero UserState is
// returned.
func (r *Registry) Update(ctx context.Context, userID int64, fn func(u *UserState) error) (UserState, error) {
	l := r.acquire(userID)
	defer r.release(userID, l)

	u, _, err := r.loadOrCreate(ctx, userID, "", "")
	if err != nil {
		return UserState{}, err
	}
	if err := fn(u); err != nil {
		return UserState{}, err
	}
	if err := r.store.SaveUser(ctx, u); err != nil {
		return UserState{}, fmt.Errorf("save user %d: %w", userID, err)
	}
	return u.Clone(), nil
}

// Get loads an existing user without creating one.
func (r *Registry) Get(ctx context.Context, userID int64) (UserState, error) {
	l := r.acquire(userID)
	defer r.release(userID, l)

	u, err := r.store.LoadUser(ctx, userID)
	if err != nil {
		return UserState{}, err
	}
	return u.Clone(), nil
}

func (r *Registry) loadOrCreate(ctx context.Context, userID int64, username, displayName string) (*UserState, bool, error) {
	u, err := r.store.LoadUser(ctx, userID)
	if err == nil {
		refreshNames(u, username, displayName)
		return u, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("load user %d: %w", userID, err)
	}
	return NewUserState(userID, username, displayName), true, nil
}

func refreshNames(u *UserState, username, displayName string) {
	if username != "" {
		u.Username = username
	}
	if displayName != "" {
		u.DisplayName = displayName
	}
}
