// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package memory provides an in-memory auth.UserRepository for tests and
// single-process development.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/storefront/storefront/internal/auth"
)

// UserRepository is an in-memory auth.UserRepository. Each method holds the
// lock for its whole duration, so every method is atomic.
type UserRepository struct {
	mu    sync.RWMutex
	users map[ulid.ULID]*auth.User
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates an empty repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		users: make(map[ulid.ULID]*auth.User),
	}
}

// Create stores a copy of user.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	if user == nil {
		return oops.Code("USER_CREATE_FAILED").Errorf("user cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[user.ID]; exists {
		return oops.Code("USER_CREATE_FAILED").With("id", user.ID.String()).Wrap(auth.ErrAlreadyExists)
	}
	if r.conflictLocked(user.ID, user.Email, user.Username) {
		return oops.Code("USER_CREATE_FAILED").With("email", user.Email).Wrap(auth.ErrAlreadyExists)
	}
	r.users[user.ID] = clone(user)
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return clone(user), nil
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.Email == email {
			return clone(user), nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
}

// GetByUsername retrieves a user by username, ignoring case.
func (r *UserRepository) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if strings.EqualFold(user.Username, username) {
			return clone(user), nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").With("username", username).Wrap(auth.ErrNotFound)
}

// GetByResetTokenHash retrieves the user holding the given challenge.
func (r *UserRepository) GetByResetTokenHash(_ context.Context, tokenHash string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.ResetTokenHash != nil && *user.ResetTokenHash == tokenHash {
			return clone(user), nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// Update persists the profile fields.
func (r *UserRepository) Update(_ context.Context, user *auth.User) error {
	if user == nil {
		return oops.Code("USER_UPDATE_FAILED").Errorf("user cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[user.ID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(auth.ErrNotFound)
	}
	if r.conflictLocked(user.ID, user.Email, user.Username) {
		return oops.Code("USER_UPDATE_FAILED").With("id", user.ID.String()).Wrap(auth.ErrAlreadyExists)
	}

	stored.Name = user.Name
	stored.Email = user.Email
	stored.Username = user.Username
	stored.UpdatedAt = user.UpdatedAt
	return nil
}

// UpdatePasswordHash swaps the password hash while it is still oldHash.
func (r *UserRepository) UpdatePasswordHash(_ context.Context, id ulid.ULID, oldHash, newHash string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok || user.PasswordHash != oldHash {
		return oops.Code("PASSWORD_HASH_CHANGED").With("id", id.String()).Wrap(auth.ErrConflict)
	}
	user.PasswordHash = newHash
	user.UpdatedAt = updatedAt
	return nil
}

// SetAdmin grants or revokes the admin flag.
func (r *UserRepository) SetAdmin(_ context.Context, id ulid.ULID, isAdmin bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	user.IsAdmin = isAdmin
	return nil
}

// SetResetChallenge stores a challenge, replacing any prior one.
func (r *UserRepository) SetResetChallenge(_ context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	user.ResetTokenHash = &tokenHash
	user.ResetTokenExpiresAt = &expiresAt
	return nil
}

// ClearResetChallenge clears the challenge if it is still tokenHash.
func (r *UserRepository) ClearResetChallenge(_ context.Context, id ulid.ULID, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok || user.ResetTokenHash == nil || *user.ResetTokenHash != tokenHash {
		return oops.Code("RESET_CHALLENGE_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	user.ResetTokenHash = nil
	user.ResetTokenExpiresAt = nil
	return nil
}

// ConsumeResetChallenge redeems a matching unexpired challenge.
func (r *UserRepository) ConsumeResetChallenge(_ context.Context, tokenHash string, scopeID *ulid.ULID, now time.Time, newPasswordHash string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range r.users {
		if user.ResetTokenHash == nil || *user.ResetTokenHash != tokenHash {
			continue
		}
		if scopeID != nil && user.ID != *scopeID {
			break
		}
		if !user.HasPendingReset(now) {
			break
		}
		user.PasswordHash = newPasswordHash
		user.ResetTokenHash = nil
		user.ResetTokenExpiresAt = nil
		user.UpdatedAt = now
		return clone(user), nil
	}
	return nil, oops.Code("RESET_CHALLENGE_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// ClearExpiredResetChallenges clears every challenge expired at now.
func (r *UserRepository) ClearExpiredResetChallenges(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, user := range r.users {
		if user.ResetTokenExpiresAt != nil && !now.Before(*user.ResetTokenExpiresAt) {
			user.ResetTokenHash = nil
			user.ResetTokenExpiresAt = nil
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored users.
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// conflictLocked reports whether another user holds email or username.
// Caller must hold r.mu.
func (r *UserRepository) conflictLocked(self ulid.ULID, email, username string) bool {
	for id, user := range r.users {
		if id == self {
			continue
		}
		if user.Email == email || strings.EqualFold(user.Username, username) {
			return true
		}
	}
	return false
}

func clone(user *auth.User) *auth.User {
	c := *user
	if user.ResetTokenHash != nil {
		h := *user.ResetTokenHash
		c.ResetTokenHash = &h
	}
	if user.ResetTokenExpiresAt != nil {
		e := *user.ResetTokenExpiresAt
		c.ResetTokenExpiresAt = &e
	}
	return &c
}
