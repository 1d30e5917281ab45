// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/storefront/storefront/internal/auth"
)

type ctxKey int

const userKey ctxKey = iota

// UserFromContext returns the user stored by Authorize.
func UserFromContext(ctx context.Context) (*auth.UserSummary, bool) {
	u, ok := ctx.Value(userKey).(*auth.UserSummary)
	return u, ok && u != nil
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *auth.UserSummary) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// bearerToken extracts the credential from the Authorization header, falling
// back to the session cookie when no header is sent. A header with another
// scheme yields an empty token.
func bearerToken(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if cookieName == "" {
		return ""
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// Authorize resolves the request credential to a user and stores it in the
// request context. Requests without a valid credential get 401.
func (a *API) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.svc.Authenticate(r.Context(), bearerToken(r, a.cookieName))
		if err != nil {
			writeError(w, r, a.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// AuthorizeAdmin must run after Authorize. Non-admin users get 403; a
// request that never passed Authorize gets 401.
func (a *API) AuthorizeAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, r, a.logger, oops.Code(string(auth.KindUnauthenticated)).
				With("reason", auth.ReasonMissingToken).
				Errorf("not authorized, no token provided"))
			return
		}
		if err := a.svc.RequireAdmin(user); err != nil {
			writeError(w, r, a.logger, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTP metrics.
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "Total number of HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	HTTPRateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_http_rate_limited_total",
			Help: "Total number of credential requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
)

// RegisterMetrics registers the HTTP metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(HTTPRequestsTotal, HTTPRequestDuration, HTTPRateLimitedTotal)
}

// instrument logs each request and records its metrics under the matched
// route pattern, so path parameters do not explode label cardinality.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)

		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		a.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
			"remote", r.RemoteAddr,
		)
	})
}
