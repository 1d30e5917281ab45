// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes  = 32        // 32 bytes = 64 hex chars
	ResetTokenExpiry = time.Hour // default challenge lifetime
)

// ErrInvalidResetToken is returned when no unexpired challenge matches the
// supplied token (wrong token, expired, replayed, or wrong user).
var ErrInvalidResetToken = oops.Code("RESET_TOKEN_INVALID").Errorf("reset token is invalid or expired")

// GenerateResetToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is sent to the user; the hash is stored.
func GenerateResetToken() (token, hash string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").
			With("requested_bytes", ResetTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = HashResetToken(token)

	return token, hash, nil
}

// HashResetToken computes the hex SHA256 of a reset token. The hash is a
// lookup key, not a password, so a fast digest is sufficient.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyResetToken checks if the plaintext token matches the stored hash
// in constant time.
func VerifyResetToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashResetToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// ResetManager owns the reset challenge stored on each user record.
type ResetManager struct {
	users  UserRepository
	hasher PasswordHasher
	ttl    time.Duration
	now    func() time.Time
}

// NewResetManager creates a ResetManager. A zero ttl uses ResetTokenExpiry
// and a nil now uses time.Now.
func NewResetManager(users UserRepository, hasher PasswordHasher, ttl time.Duration, now func() time.Time) (*ResetManager, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if ttl < 0 {
		return nil, oops.Errorf("reset token ttl cannot be negative")
	}
	if ttl == 0 {
		ttl = ResetTokenExpiry
	}
	if now == nil {
		now = time.Now
	}
	return &ResetManager{users: users, hasher: hasher, ttl: ttl, now: now}, nil
}

// TTL returns the lifetime of new challenges.
func (m *ResetManager) TTL() time.Duration {
	return m.ttl
}

// CreateChallenge generates a new token for user, persists its hash and
// expiry (replacing any pending challenge) and returns the plaintext token
// together with its hash.
func (m *ResetManager) CreateChallenge(ctx context.Context, user *User) (token, tokenHash string, err error) {
	if user == nil {
		return "", "", oops.Code("RESET_USER_NOT_FOUND").Wrap(ErrNotFound)
	}

	token, tokenHash, err = GenerateResetToken()
	if err != nil {
		return "", "", err
	}

	expiresAt := m.now().Add(m.ttl)
	if err := m.users.SetResetChallenge(ctx, user.ID, tokenHash, expiresAt); err != nil {
		return "", "", oops.Code("RESET_CHALLENGE_STORE_FAILED").
			With("operation", "SetResetChallenge").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	user.ResetTokenHash = &tokenHash
	user.ResetTokenExpiresAt = &expiresAt
	return token, tokenHash, nil
}

// Cancel removes the challenge identified by tokenHash. A newer challenge
// issued in the meantime is left alone.
func (m *ResetManager) Cancel(ctx context.Context, userID ulid.ULID, tokenHash string) error {
	if err := m.users.ClearResetChallenge(ctx, userID, tokenHash); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("RESET_CHALLENGE_CLEAR_FAILED").
			With("operation", "ClearResetChallenge").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// Validate reports whether token names an unexpired challenge, optionally
// scoped to one user. Returns ErrInvalidResetToken when it does not.
func (m *ResetManager) Validate(ctx context.Context, scopeID *ulid.ULID, token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidResetToken
	}

	user, err := m.users.GetByResetTokenHash(ctx, HashResetToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidResetToken
		}
		return nil, oops.Code("RESET_VALIDATE_FAILED").
			With("operation", "GetByResetTokenHash").
			Wrap(err)
	}

	if scopeID != nil && user.ID != *scopeID {
		return nil, ErrInvalidResetToken
	}
	if !user.HasPendingReset(m.now()) {
		return nil, ErrInvalidResetToken
	}
	if !VerifyResetToken(token, *user.ResetTokenHash) {
		return nil, ErrInvalidResetToken
	}
	return user, nil
}

// Consume redeems a challenge: the new password is hashed once and stored in
// the same atomic write that clears the challenge, so a token can succeed at
// most once even under concurrent use.
func (m *ResetManager) Consume(ctx context.Context, scopeID *ulid.ULID, token, newPassword string) (*User, error) {
	// Cheap rejection before paying for a password hash.
	if _, err := m.Validate(ctx, scopeID, token); err != nil {
		return nil, err
	}

	newHash, err := m.hasher.Hash(newPassword)
	if err != nil {
		return nil, oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "Hash").
			Wrap(err)
	}

	user, err := m.users.ConsumeResetChallenge(ctx, HashResetToken(token), scopeID, m.now(), newHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidResetToken
		}
		return nil, oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "ConsumeResetChallenge").
			Wrap(err)
	}
	return user, nil
}

// PurgeExpired clears every expired challenge.
func (m *ResetManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.users.ClearExpiredResetChallenges(ctx, m.now())
	if err != nil {
		return 0, oops.Code("RESET_PURGE_FAILED").
			With("operation", "ClearExpiredResetChallenges").
			Wrap(err)
	}
	return n, nil
}
