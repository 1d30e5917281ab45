// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Field constraints.
const (
	MaxNameLength     = 100
	MinUsernameLength = 1
	MaxUsernameLength = 64
	MaxEmailLength    = 254
	MinPasswordLength = 8
	MaxPasswordLength = 256
)

// usernameRegex matches letters, digits, dots, underscores and hyphens.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// usernameStrip removes everything a derived username may not contain.
var usernameStrip = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// User represents a customer account.
type User struct {
	ID                  ulid.ULID
	Name                string
	Email               string
	Username            string
	PasswordHash        string
	IsAdmin             bool
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// UserSummary is the externally visible view of a User. It never carries the
// password hash or reset challenge.
type UserSummary struct {
	ID       ulid.ULID `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
	IsAdmin  bool      `json:"isAdmin"`
}

// NewUser creates a validated User with a fresh ID. The password hash must
// already be computed; NewUser never hashes.
func NewUser(name, email, username, passwordHash string, now time.Time) (*User, error) {
	if strings.TrimSpace(name) == "" {
		return nil, oops.Code("USER_INVALID_NAME").Errorf("name cannot be empty")
	}
	if email == "" {
		return nil, oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if username == "" {
		return nil, oops.Code("USER_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	return &User{
		ID:           ulid.Make(),
		Name:         name,
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Summary returns the public view of the user.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Username: u.Username,
		IsAdmin:  u.IsAdmin,
	}
}

// HasPendingReset reports whether the user holds a reset challenge that is
// still valid at now.
func (u *User) HasPendingReset(now time.Time) bool {
	return u.ResetTokenHash != nil && u.ResetTokenExpiresAt != nil && now.Before(*u.ResetTokenExpiresAt)
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims a username.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// DeriveUsername builds a username from the local part of an email address.
// Returns an empty string when nothing usable remains.
func DeriveUsername(email string) string {
	local, _, _ := strings.Cut(email, "@")
	derived := usernameStrip.ReplaceAllString(local, "")
	if len(derived) > MaxUsernameLength {
		derived = derived[:MaxUsernameLength]
	}
	return derived
}

// derivedUsernameSuffixLength is the number of random characters appended to
// a derived username that is already taken.
const derivedUsernameSuffixLength = 6

// fallbackUsername is the base used when an email local part has no
// characters a username may contain.
const fallbackUsername = "user"

// SuffixUsername appends an underscore and a short random suffix to base,
// trimming base so the result stays within MaxUsernameLength.
func SuffixUsername(base string) string {
	if base == "" {
		base = fallbackUsername
	}
	if limit := MaxUsernameLength - derivedUsernameSuffixLength - 1; len(base) > limit {
		base = base[:limit]
	}
	id := ulid.Make().String()
	return base + "_" + strings.ToLower(id[len(id)-derivedUsernameSuffixLength:])
}

// ValidateName validates a display name.
func ValidateName(name string) error {
	if name == "" {
		return validationError("name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return validationError("name must be at most %d characters", MaxNameLength)
	}
	return nil
}

// ValidateEmail validates a normalized email address.
func ValidateEmail(email string) error {
	if email == "" {
		return validationError("email is required")
	}
	if len(email) > MaxEmailLength {
		return validationError("email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return validationError("email is not a valid address")
	}
	return nil
}

// ValidateUsername validates a username.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Only letters, numbers, dots, underscores and hyphens
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength {
		return validationError("username is required")
	}
	if len(username) > MaxUsernameLength {
		return validationError("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return validationError("username may contain only letters, numbers, dots, underscores and hyphens")
	}
	return nil
}

// ValidatePassword applies the password policy to a new password.
func ValidatePassword(password string) error {
	if password == "" {
		return validationError("password is required")
	}
	if len(password) < MinPasswordLength {
		return validationError("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return validationError("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

// UserRepository manages user persistence. Every method is atomic per
// document; implementations never hash passwords.
type UserRepository interface {
	// Create stores a new user. Returns ErrAlreadyExists if the email or
	// username is taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by normalized email.
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByUsername retrieves a user by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByResetTokenHash retrieves the user holding the given reset challenge,
	// regardless of its expiry.
	GetByResetTokenHash(ctx context.Context, tokenHash string) (*User, error)

	// Update persists the profile fields: name, email, username and
	// updated-at. The password hash, admin flag and reset challenge are
	// never written by Update.
	Update(ctx context.Context, user *User) error

	// UpdatePasswordHash replaces the password hash only while it is still
	// oldHash. Returns ErrConflict when the user is gone or the hash has
	// changed since it was read.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string, updatedAt time.Time) error

	// SetResetChallenge stores a reset challenge, replacing any prior one.
	SetResetChallenge(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error

	// ClearResetChallenge clears the challenge only if it is still tokenHash.
	ClearResetChallenge(ctx context.Context, id ulid.ULID, tokenHash string) error

	// ConsumeResetChallenge atomically matches an unexpired challenge by hash
	// (and by id when scopeID is non-nil), sets the new password hash and clears
	// the challenge. Returns ErrNotFound when nothing matched.
	ConsumeResetChallenge(ctx context.Context, tokenHash string, scopeID *ulid.ULID, now time.Time, newPasswordHash string) (*User, error)

	// ClearExpiredResetChallenges clears every challenge expired at now and
	// returns the number of users touched.
	ClearExpiredResetChallenges(ctx context.Context, now time.Time) (int64, error)
}
