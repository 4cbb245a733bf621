// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorkeep Contributors

// Package memory provides an in-memory auth.UserRepository for tests
// and development mode. Data does not survive process restarts.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/doorkeep/doorkeep/internal/auth"
)

// UserRepository implements auth.UserRepository with a mutex-guarded
// table. The check-and-insert in Create runs under the store's own
// lock, which is this medium's equivalent of a unique index: concurrent
// Creates of one username yield exactly one success.
type UserRepository struct {
	mu         sync.RWMutex
	byID       map[ulid.ULID]auth.User
	byUsername map[string]ulid.ULID
}

// NewUserRepository creates an empty in-memory user repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:       make(map[ulid.ULID]auth.User),
		byUsername: make(map[string]ulid.ULID),
	}
}

// Create stores a new user.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	key := strings.ToLower(user.Username)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byUsername[key]; taken {
		return oops.Code("AUTH_USERNAME_TAKEN").
			With("username", user.Username).
			Wrap(auth.ErrConflict)
	}

	r.byID[user.ID] = *user
	r.byUsername[key] = user.ID
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("AUTH_USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return &user, nil
}

// GetByUsername retrieves a user by username (case-insensitive).
func (r *UserRepository) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[strings.ToLower(username)]
	if !ok {
		return nil, oops.Code("AUTH_USER_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	user := r.byID[id]
	return &user, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
