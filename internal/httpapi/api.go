// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package httpapi exposes the auth service as a JSON REST API.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/storefront/storefront/internal/auth"
)

// DefaultRequestTimeout bounds handler execution.
const DefaultRequestTimeout = 30 * time.Second

// DefaultCookieName is the session cookie read when no Authorization header
// is sent.
const DefaultCookieName = "token"

// AuthService is the part of auth.Service the API calls.
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.AuthResult, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, in auth.ConfirmResetInput) error
	ValidateResetToken(ctx context.Context, userID, token string) error
	Authenticate(ctx context.Context, token string) (*auth.UserSummary, error)
	RequireAdmin(user *auth.UserSummary) error
	GetProfile(ctx context.Context, id ulid.ULID) (*auth.UserSummary, error)
	UpdateProfile(ctx context.Context, id ulid.ULID, in auth.UpdateProfileInput) (*auth.UserSummary, error)
}

var _ AuthService = (*auth.Service)(nil)

// Options configures the API. Zero values use the defaults.
type Options struct {
	// CookieName is the session cookie. Login and register set it; Authorize
	// reads it when no Authorization header is present.
	CookieName string
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
	// RequestTimeout bounds each request.
	RequestTimeout time.Duration
	// RateLimiter throttles the credential endpoints. Nil disables throttling.
	RateLimiter *RateLimiter
	Logger      *slog.Logger
}

// API holds the HTTP handlers.
type API struct {
	svc          AuthService
	logger       *slog.Logger
	cookieName   string
	secureCookie bool
	timeout      time.Duration
	limiter      *RateLimiter
}

// New creates an API over svc.
func New(svc AuthService, opts Options) (*API, error) {
	if svc == nil {
		return nil, oops.Errorf("auth service is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.RequestTimeout < 0 {
		return nil, oops.Errorf("request timeout cannot be negative")
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	return &API{
		svc:          svc,
		logger:       opts.Logger,
		cookieName:   opts.CookieName,
		secureCookie: opts.SecureCookie,
		timeout:      opts.RequestTimeout,
		limiter:      opts.RateLimiter,
	}, nil
}

// Routes builds the router.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.timeout))

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/health", a.health)

	r.Route("/users", func(r chi.Router) {
		throttled := r.With(a.rateLimit)
		throttled.Post("/register", a.register)
		throttled.Post("/login", a.login)
		throttled.Post("/forgot-password", a.forgotPassword)
		throttled.Post("/reset-password", a.resetPassword)
		throttled.Post("/reset-password/{userId}", a.resetPassword)
		r.Get("/reset-password/{userId}", a.validateResetToken)

		r.Group(func(r chi.Router) {
			r.Use(a.Authorize)
			r.Get("/profile", a.getProfile)
			r.Put("/profile", a.updateProfile)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(a.Authorize, a.AuthorizeAdmin)
		r.Get("/users/{userId}", a.getUser)
	})

	return r
}
