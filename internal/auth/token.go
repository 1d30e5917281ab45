// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token defaults.
const (
	DefaultSessionTokenTTL = 30 * 24 * time.Hour
	DefaultTokenIssuer     = "storefront"
	MinTokenSecretLength   = 32
)

// Token verification failures. Callers distinguish them with errors.Is.
var (
	ErrTokenExpired = oops.Code("TOKEN_EXPIRED").Errorf("token has expired")
	ErrTokenInvalid = oops.Code("TOKEN_INVALID").Errorf("token is invalid")
)

// SessionClaims are the verified contents of a session token.
type SessionClaims struct {
	Subject   ulid.ULID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer issues and verifies stateless session credentials.
//
// There is no revocation list: a token stays valid until it expires, even
// after a password change. Logging out only discards the client copy.
type TokenIssuer interface {
	// Issue returns a signed token for the subject and its expiry.
	Issue(subject ulid.ULID) (token string, expiresAt time.Time, err error)

	// Verify checks signature and expiry. Returns ErrTokenExpired or
	// ErrTokenInvalid on failure.
	Verify(token string) (*SessionClaims, error)
}

// TokenConfig configures a JWTIssuer.
type TokenConfig struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// JWTIssuer implements TokenIssuer with HS256-signed JWTs.
type JWTIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewJWTIssuer creates a JWTIssuer. now may be nil to use time.Now.
func NewJWTIssuer(cfg TokenConfig, now func() time.Time) (*JWTIssuer, error) {
	if len(cfg.Secret) < MinTokenSecretLength {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinTokenSecretLength).
			Errorf("token secret must be at least %d bytes", MinTokenSecretLength)
	}
	if cfg.TTL < 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("token ttl cannot be negative")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultSessionTokenTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultTokenIssuer
	}
	if now == nil {
		now = time.Now
	}
	return &JWTIssuer{
		secret: cfg.Secret,
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    now,
	}, nil
}

// Issue returns a signed token binding the subject and expiry.
func (i *JWTIssuer) Issue(subject ulid.ULID) (string, time.Time, error) {
	if subject.Compare(ulid.ULID{}) == 0 {
		return "", time.Time{}, oops.Code("TOKEN_INVALID_SUBJECT").Errorf("subject cannot be zero")
	}

	issuedAt := i.now()
	expiresAt := issuedAt.Add(i.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject.String(),
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").
			With("subject", subject.String()).
			Wrap(err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token.
func (i *JWTIssuer) Verify(token string) (*SessionClaims, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	subject, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	verified := &SessionClaims{Subject: subject}
	if claims.IssuedAt != nil {
		verified.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		verified.ExpiresAt = claims.ExpiresAt.Time
	}
	return verified, nil
}
