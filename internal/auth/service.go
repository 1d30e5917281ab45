// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/storefront/storefront/internal/mail"
	"github.com/storefront/storefront/pkg/errutil"
)

var tracer = otel.Tracer("storefront/auth")

// Operation names used for spans, metrics and logs.
const (
	OpRegister           = "register"
	OpLogin              = "login"
	OpRequestReset       = "request_password_reset"
	OpConfirmReset       = "confirm_password_reset"
	OpValidateReset      = "validate_reset_token"
	OpAuthenticate       = "authenticate"
	OpGetProfile         = "get_profile"
	OpUpdateProfile      = "update_profile"
	OpPurgeExpiredResets = "purge_expired_resets"
)

// DefaultMailTimeout bounds a single reset email delivery.
const DefaultMailTimeout = 10 * time.Second

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// ServiceDeps holds the collaborators of Service. Logger and Now are optional.
type ServiceDeps struct {
	Users  UserRepository
	Hasher PasswordHasher
	Tokens TokenIssuer
	Mailer mail.Sender
	Logger *slog.Logger
	Now    func() time.Time
}

// ServiceConfig holds Service policy settings.
type ServiceConfig struct {
	// ResetURLBase is the front-end page that accepts reset links, for
	// example https://shop.example.com/reset-password. The user id is
	// appended as a path segment and the token as a query parameter.
	ResetURLBase string

	// ResetTokenTTL is the lifetime of a reset challenge. Zero means
	// ResetTokenExpiry.
	ResetTokenTTL time.Duration

	// MailTimeout bounds delivery of one reset email. Zero means
	// DefaultMailTimeout.
	MailTimeout time.Duration
}

// Service orchestrates registration, login, password reset and request
// authentication.
type Service struct {
	users    UserRepository
	hasher   PasswordHasher
	tokens   TokenIssuer
	mailer   mail.Sender
	resets   *ResetManager
	logger   *slog.Logger
	now      func() time.Time
	resetURL *url.URL
	mailWait time.Duration
}

// NewService creates a new Service.
// Returns an error if any required dependency is nil or the config is invalid.
func NewService(deps ServiceDeps, cfg ServiceConfig) (*Service, error) {
	if deps.Users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if deps.Hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if deps.Tokens == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if deps.Mailer == nil {
		return nil, oops.Errorf("mail sender is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.MailTimeout < 0 {
		return nil, oops.Errorf("mail timeout cannot be negative")
	}
	if cfg.MailTimeout == 0 {
		cfg.MailTimeout = DefaultMailTimeout
	}

	resetURL, err := url.Parse(cfg.ResetURLBase)
	if err != nil || resetURL.Scheme == "" || resetURL.Host == "" {
		return nil, oops.With("reset_url_base", cfg.ResetURLBase).
			Errorf("reset URL base must be an absolute URL")
	}

	resets, err := NewResetManager(deps.Users, deps.Hasher, cfg.ResetTokenTTL, deps.Now)
	if err != nil {
		return nil, err
	}

	return &Service{
		users:    deps.Users,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		mailer:   deps.Mailer,
		resets:   resets,
		logger:   deps.Logger,
		now:      deps.Now,
		resetURL: resetURL,
		mailWait: cfg.MailTimeout,
	}, nil
}

// RegisterInput is the request schema for Register.
type RegisterInput struct {
	Name     string `json:"name" jsonschema:"minLength=1,maxLength=100"`
	Email    string `json:"email" jsonschema:"minLength=3,maxLength=254"`
	Username string `json:"username,omitempty" jsonschema:"maxLength=64"`
	Password string `json:"password" jsonschema:"minLength=1,maxLength=256"`
}

// LoginInput is the request schema for Login.
type LoginInput struct {
	Email    string `json:"email" jsonschema:"minLength=1,maxLength=254"`
	Password string `json:"password" jsonschema:"minLength=1,maxLength=256"`
}

// ConfirmResetInput is the request schema for ConfirmPasswordReset. UserID is
// optional; when set the token must belong to that user.
type ConfirmResetInput struct {
	UserID      string `json:"-"`
	Token       string `json:"token" jsonschema:"minLength=1,maxLength=128"`
	NewPassword string `json:"newPassword" jsonschema:"minLength=1,maxLength=256"`
}

// UpdateProfileInput lists the profile fields to change. Nil fields are left
// untouched.
type UpdateProfileInput struct {
	Name     *string `json:"name,omitempty" jsonschema:"minLength=1,maxLength=100"`
	Email    *string `json:"email,omitempty" jsonschema:"minLength=3,maxLength=254"`
	Username *string `json:"username,omitempty" jsonschema:"minLength=1,maxLength=64"`
	Password *string `json:"password,omitempty" jsonschema:"minLength=1,maxLength=256"`
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User      UserSummary
	Token     string
	ExpiresAt time.Time
}

// Register creates an account and issues a session token for it. Without a
// chosen username one is derived from the email, suffixed when taken.
func (s *Service) Register(ctx context.Context, in RegisterInput) (res *AuthResult, err error) {
	ctx, done := s.begin(ctx, OpRegister)
	defer func() { done(err) }()

	name := strings.TrimSpace(in.Name)
	email := NormalizeEmail(in.Email)
	username := NormalizeUsername(in.Username)
	chosen := username != ""

	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if chosen {
		if err := ValidateUsername(username); err != nil {
			return nil, err
		}
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	taken, err := s.identityTaken(ctx, ulid.ULID{}, email, username)
	if err != nil {
		return nil, err
	}
	if taken {
		s.logger.InfoContext(ctx, "registration rejected, identity in use")
		return nil, alreadyExistsError()
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.internal(ctx, OpRegister, "hash password", err)
	}

	var user *User
	for attempt := 0; ; attempt++ {
		if !chosen {
			username, err = s.availableUsername(ctx, email, attempt)
			if err != nil {
				return nil, err
			}
		}

		user, err = NewUser(name, email, username, passwordHash, s.now())
		if err != nil {
			return nil, s.internal(ctx, OpRegister, "build user", err)
		}

		err = s.users.Create(ctx, user)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, s.internal(ctx, OpRegister, "create user", err)
		}
		// A derived username lost a race with another registration. Retry
		// with a fresh suffix unless the email itself is now taken.
		if chosen || attempt+1 >= derivedUsernameAttempts {
			return nil, alreadyExistsError()
		}
		emailTaken, checkErr := s.identityTaken(ctx, ulid.ULID{}, email, "")
		if checkErr != nil {
			return nil, checkErr
		}
		if emailTaken {
			return nil, alreadyExistsError()
		}
	}

	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, s.internal(ctx, OpRegister, "issue token", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("user.id", user.ID.String()))
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())

	return &AuthResult{User: user.Summary(), Token: token, ExpiresAt: expiresAt}, nil
}

// Login verifies credentials and issues a session token.
// An unknown email and a wrong password produce the same error, and both
// paths run one password verification so timing does not reveal which.
func (s *Service) Login(ctx context.Context, in LoginInput) (res *AuthResult, err error) {
	ctx, done := s.begin(ctx, OpLogin)
	defer func() { done(err) }()

	email := NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, validationError("email and password are required")
	}

	user, lookupErr := s.users.GetByEmail(ctx, email)
	targetHash := dummyPasswordHash
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
	case errors.Is(lookupErr, ErrNotFound):
		user = nil
	default:
		return nil, s.internal(ctx, OpLogin, "get user by email", lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(in.Password, targetHash)
	if verifyErr != nil && user != nil {
		// A stored hash we cannot parse is a data problem, not a credential
		// problem, but the caller still only learns the login failed.
		errutil.LogError(s.logger, "stored password hash could not be verified", verifyErr)
	}
	if user == nil || verifyErr != nil || !valid {
		return nil, invalidCredentialsError()
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, in.Password)
	}

	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, s.internal(ctx, OpLogin, "issue token", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("user.id", user.ID.String()))
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID.String())

	return &AuthResult{User: user.Summary(), Token: token, ExpiresAt: expiresAt}, nil
}

// upgradeHash replaces a legacy hash after a successful login. The write only
// lands while the stored hash is still the one verified, so a concurrent
// reset or password change wins. Failure is logged; the login still succeeds.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogError(s.logger, "password hash upgrade failed", err)
		return
	}
	err = s.users.UpdatePasswordHash(ctx, user.ID, user.PasswordHash, newHash, s.now())
	switch {
	case errors.Is(err, ErrConflict):
		s.logger.DebugContext(ctx, "password hash changed during login, upgrade skipped",
			"user_id", user.ID.String())
		return
	case err != nil:
		errutil.LogError(s.logger, "password hash upgrade not persisted", err)
		return
	}
	s.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID.String())
}

// RequestPasswordReset starts a reset for the account with the given email
// and mails it a single-use link. An unknown email returns nil so callers
// cannot probe for accounts. If the email cannot be delivered the new
// challenge is withdrawn.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, done := s.begin(ctx, OpRequestReset)
	defer func() { done(err) }()

	email = NormalizeEmail(email)
	if email == "" {
		return validationError("email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return s.internal(ctx, OpRequestReset, "get user by email", err)
	}

	token, tokenHash, err := s.resets.CreateChallenge(ctx, user)
	if err != nil {
		return s.internal(ctx, OpRequestReset, "create reset challenge", err)
	}

	msg := mail.Message{
		To:      user.Email,
		Subject: "Password Reset Request",
		Body:    s.resetEmailBody(user, token),
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.mailWait)
	sendErr := s.mailer.Send(sendCtx, msg)
	cancel()
	if sendErr != nil {
		errutil.LogError(s.logger, "password reset email delivery failed",
			oops.With("user_id", user.ID.String()).Wrap(sendErr))

		// Roll back even if the caller has gone away.
		rollbackCtx, rollbackCancel := context.WithTimeout(context.WithoutCancel(ctx), s.mailWait)
		defer rollbackCancel()
		if cancelErr := s.resets.Cancel(rollbackCtx, user.ID, tokenHash); cancelErr != nil {
			errutil.LogError(s.logger, "undeliverable reset challenge not withdrawn", cancelErr)
		}
		return oops.Code(string(KindEmailDelivery)).Errorf("password reset email could not be sent")
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("user.id", user.ID.String()))
	s.logger.InfoContext(ctx, "password reset requested", "user_id", user.ID.String())
	return nil
}

// ResetLink builds the link mailed to the user.
func (s *Service) ResetLink(userID ulid.ULID, token string) string {
	link := *s.resetURL
	link = *link.JoinPath(userID.String())
	q := link.Query()
	q.Set("token", token)
	link.RawQuery = q.Encode()
	return link.String()
}

func (s *Service) resetEmailBody(user *User, token string) string {
	return fmt.Sprintf(
		"Hello %s,\n\nPlease use the following link to reset your password:\n\n%s\n\n"+
			"The link expires in %s. If you did not request a password reset, you can ignore this email.\n",
		user.Name, s.ResetLink(user.ID, token), s.resets.TTL())
}

// ConfirmPasswordReset redeems a reset token and sets the new password. No
// session token is issued; the user logs in again with the new password.
func (s *Service) ConfirmPasswordReset(ctx context.Context, in ConfirmResetInput) (err error) {
	ctx, done := s.begin(ctx, OpConfirmReset)
	defer func() { done(err) }()

	if in.Token == "" {
		return validationError("token is required")
	}
	if in.NewPassword == "" {
		return validationError("new password is required")
	}
	if err := ValidatePassword(in.NewPassword); err != nil {
		return err
	}

	scope, ok := parseScope(in.UserID)
	if !ok {
		return invalidResetTokenError()
	}

	user, err := s.resets.Consume(ctx, scope, in.Token, in.NewPassword)
	if err != nil {
		if errors.Is(err, ErrInvalidResetToken) {
			return invalidResetTokenError()
		}
		return s.internal(ctx, OpConfirmReset, "consume reset challenge", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("user.id", user.ID.String()))
	s.logger.InfoContext(ctx, "password reset completed", "user_id", user.ID.String())
	return nil
}

// ValidateResetToken reports whether a reset link is still usable without
// consuming it.
func (s *Service) ValidateResetToken(ctx context.Context, userID, token string) (err error) {
	ctx, done := s.begin(ctx, OpValidateReset)
	defer func() { done(err) }()

	if token == "" {
		return validationError("token is required")
	}
	scope, ok := parseScope(userID)
	if !ok {
		return invalidResetTokenError()
	}

	if _, err := s.resets.Validate(ctx, scope, token); err != nil {
		if errors.Is(err, ErrInvalidResetToken) {
			return invalidResetTokenError()
		}
		return s.internal(ctx, OpValidateReset, "validate reset challenge", err)
	}
	return nil
}

// parseScope parses an optional user id. An empty id means no scope.
func parseScope(userID string) (*ulid.ULID, bool) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, true
	}
	id, err := ulid.Parse(userID)
	if err != nil {
		return nil, false
	}
	return &id, true
}

// Authenticate resolves a bearer token to the user it was issued for.
func (s *Service) Authenticate(ctx context.Context, token string) (summary *UserSummary, err error) {
	ctx, done := s.begin(ctx, OpAuthenticate)
	defer func() { done(err) }()

	if token == "" {
		return nil, oops.Code(string(KindUnauthenticated)).
			With("reason", ReasonMissingToken).
			Errorf("not authorized, no token provided")
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, oops.Code(string(KindUnauthenticated)).
				With("reason", ReasonExpired).
				Errorf("token expired, please log in again")
		}
		return nil, oops.Code(string(KindUnauthenticated)).
			With("reason", ReasonInvalid).
			Errorf("not authorized, token verification failed")
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(string(KindUnauthenticated)).
				With("reason", ReasonUserNotFound).
				Errorf("not authorized, user no longer exists")
		}
		return nil, s.internal(ctx, OpAuthenticate, "get user by id", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("user.id", user.ID.String()))
	view := user.Summary()
	return &view, nil
}

// RequireAdmin returns a forbidden error unless user is an administrator.
func (s *Service) RequireAdmin(user *UserSummary) error {
	if user == nil || !user.IsAdmin {
		return oops.Code(string(KindForbidden)).Errorf("access denied, admin privileges required")
	}
	return nil
}

// GetProfile returns the public view of a user.
func (s *Service) GetProfile(ctx context.Context, id ulid.ULID) (summary *UserSummary, err error) {
	ctx, done := s.begin(ctx, OpGetProfile)
	defer func() { done(err) }()

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, userNotFoundError()
		}
		return nil, s.internal(ctx, OpGetProfile, "get user by id", err)
	}
	view := user.Summary()
	return &view, nil
}

// UpdateProfile changes the supplied profile fields. A new password is
// hashed here, once, before it is stored.
func (s *Service) UpdateProfile(ctx context.Context, id ulid.ULID, in UpdateProfileInput) (summary *UserSummary, err error) {
	ctx, done := s.begin(ctx, OpUpdateProfile)
	defer func() { done(err) }()

	if in.Name == nil && in.Email == nil && in.Username == nil && in.Password == nil {
		return nil, validationError("no fields to update")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, userNotFoundError()
		}
		return nil, s.internal(ctx, OpUpdateProfile, "get user by id", err)
	}

	updated := *user
	checkEmail, checkUsername := "", ""

	if in.Name != nil {
		updated.Name = strings.TrimSpace(*in.Name)
		if err := ValidateName(updated.Name); err != nil {
			return nil, err
		}
	}
	if in.Email != nil {
		updated.Email = NormalizeEmail(*in.Email)
		if err := ValidateEmail(updated.Email); err != nil {
			return nil, err
		}
		if updated.Email != user.Email {
			checkEmail = updated.Email
		}
	}
	if in.Username != nil {
		updated.Username = NormalizeUsername(*in.Username)
		if err := ValidateUsername(updated.Username); err != nil {
			return nil, err
		}
		if !strings.EqualFold(updated.Username, user.Username) {
			checkUsername = updated.Username
		}
	}
	if in.Password != nil {
		if err := ValidatePassword(*in.Password); err != nil {
			return nil, err
		}
	}

	taken, err := s.identityTaken(ctx, user.ID, checkEmail, checkUsername)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, alreadyExistsError()
	}

	var newHash string
	if in.Password != nil {
		newHash, err = s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, s.internal(ctx, OpUpdateProfile, "hash password", err)
		}
	}
	updated.UpdatedAt = s.now()

	if err := s.users.Update(ctx, &updated); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyExists):
			return nil, alreadyExistsError()
		case errors.Is(err, ErrNotFound):
			return nil, userNotFoundError()
		default:
			return nil, s.internal(ctx, OpUpdateProfile, "update user", err)
		}
	}

	if in.Password != nil {
		err := s.users.UpdatePasswordHash(ctx, user.ID, user.PasswordHash, newHash, updated.UpdatedAt)
		switch {
		case errors.Is(err, ErrConflict):
			s.logger.InfoContext(ctx, "password changed concurrently, profile password not applied",
				"user_id", user.ID.String())
			return nil, conflictError()
		case err != nil:
			return nil, s.internal(ctx, OpUpdateProfile, "update password hash", err)
		}
	}

	s.logger.InfoContext(ctx, "profile updated",
		"user_id", user.ID.String(),
		"password_changed", in.Password != nil,
	)
	view := updated.Summary()
	return &view, nil
}

// PurgeExpiredResets clears reset challenges whose expiry has passed.
func (s *Service) PurgeExpiredResets(ctx context.Context) (n int64, err error) {
	ctx, done := s.begin(ctx, OpPurgeExpiredResets)
	defer func() { done(err) }()

	n, err = s.resets.PurgeExpired(ctx)
	if err != nil {
		return 0, s.internal(ctx, OpPurgeExpiredResets, "clear expired challenges", err)
	}
	if n > 0 {
		ResetChallengesPurged.Add(float64(n))
		s.logger.InfoContext(ctx, "expired reset challenges cleared", "count", n)
	}
	return n, nil
}

// derivedUsernameAttempts bounds how many usernames Register tries for an
// account that did not choose one.
const derivedUsernameAttempts = 5

// availableUsername derives a username from email that no account holds.
// The plain derivation is tried first; later attempts, or an email with
// nothing usable in its local part, get a random suffix.
func (s *Service) availableUsername(ctx context.Context, email string, attempt int) (string, error) {
	base := DeriveUsername(email)
	for ; attempt < derivedUsernameAttempts; attempt++ {
		candidate := base
		if attempt > 0 || len(base) < MinUsernameLength {
			candidate = SuffixUsername(base)
		}
		_, err := s.users.GetByUsername(ctx, candidate)
		switch {
		case errors.Is(err, ErrNotFound):
			return candidate, nil
		case err != nil:
			return "", s.internal(ctx, OpRegister, "get user by username", err)
		}
	}
	return "", s.internal(ctx, OpRegister, "derive username",
		oops.Code("USERNAME_EXHAUSTED").Errorf("no free username after %d attempts", derivedUsernameAttempts))
}

// identityTaken reports whether email or username (either may be empty to
// skip) belongs to a user other than self.
func (s *Service) identityTaken(ctx context.Context, self ulid.ULID, email, username string) (bool, error) {
	if email != "" {
		existing, err := s.users.GetByEmail(ctx, email)
		switch {
		case err == nil && existing.ID != self:
			return true, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return false, s.internal(ctx, "identity_check", "get user by email", err)
		}
	}
	if username != "" {
		existing, err := s.users.GetByUsername(ctx, username)
		switch {
		case err == nil && existing.ID != self:
			return true, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return false, s.internal(ctx, "identity_check", "get user by username", err)
		}
	}
	return false, nil
}

func userNotFoundError() error {
	return oops.Code(string(KindUserNotFound)).Errorf("user not found")
}

// internal logs cause with its oops context and returns an error that hides it.
func (s *Service) internal(ctx context.Context, op, step string, cause error) error {
	errutil.LogErrorContext(ctx, s.logger, "auth operation failed",
		oops.With("operation", op).With("step", step).Wrap(cause))
	trace.SpanFromContext(ctx).RecordError(cause)
	return internalError(op)
}

// begin starts a span for op and returns a func that ends it and records
// metrics for the outcome.
func (s *Service) begin(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "auth."+op,
		trace.WithAttributes(attribute.String("auth.operation", op)),
	)
	return ctx, func(err error) {
		result := resultLabel(err)
		if err != nil {
			span.SetAttributes(attribute.String("auth.result", result))
			if KindOf(err) == KindInternal {
				span.SetStatus(codes.Error, err.Error())
			}
		}
		span.End()
		OperationsTotal.WithLabelValues(op, result).Inc()
		OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
