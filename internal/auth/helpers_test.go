// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/auth/memory"
)

var errUnrecognizedHash = errors.New("unrecognized hash")

// stubHasher is a fast, reversible PasswordHasher for tests. Hashes carry a
// "stub:" prefix; a "legacy:" prefix verifies the same way but reports that
// an upgrade is needed.
type stubHasher struct {
	hashErr error
}

func (h stubHasher) Hash(password string) (string, error) {
	if h.hashErr != nil {
		return "", h.hashErr
	}
	if password == "" {
		return "", auth.ErrEmptyPassword
	}
	return "stub:" + password, nil
}

func (h stubHasher) Verify(password, hash string) (bool, error) {
	if rest, ok := strings.CutPrefix(hash, "legacy:"); ok {
		return rest == password, nil
	}
	if rest, ok := strings.CutPrefix(hash, "stub:"); ok {
		return rest == password, nil
	}
	if strings.HasPrefix(hash, "$argon2id$") {
		return false, nil
	}
	return false, errUnrecognizedHash
}

func (h stubHasher) NeedsUpgrade(hash string) bool {
	return strings.HasPrefix(hash, "legacy:")
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// seedUser stores a user whose password hash is the stubHasher hash of password.
func seedUser(t *testing.T, repo *memory.UserRepository, email, password string, admin bool) *auth.User {
	t.Helper()
	username := auth.DeriveUsername(email)
	user, err := auth.NewUser("Alice", email, username, "stub:"+password, time.Now())
	require.NoError(t, err)
	user.IsAdmin = admin
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}
