// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package httpapi

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Default rate limiting values for the credential endpoints.
const (
	// DefaultBurstCapacity is the number of credential requests a client can
	// make in a burst before it is throttled.
	DefaultBurstCapacity = 10

	// DefaultSustainedRate is the refill rate in requests per second.
	DefaultSustainedRate = 0.2

	// MinSustainedRate ensures the bucket refills at all.
	MinSustainedRate = 0.01

	// DefaultCleanupInterval is how often idle clients are forgotten.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultClientMaxAge is how long an idle client is remembered.
	DefaultClientMaxAge = time.Hour
)

// kindRateLimited is reported when a client exceeds its credential budget.
const kindRateLimited = "RATE_LIMITED"

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// BurstCapacity defaults to DefaultBurstCapacity if zero or negative.
	BurstCapacity int

	// SustainedRate defaults to DefaultSustainedRate if zero or negative.
	SustainedRate float64

	// CleanupInterval defaults to DefaultCleanupInterval if zero.
	CleanupInterval time.Duration

	// ClientMaxAge defaults to DefaultClientMaxAge if zero.
	ClientMaxAge time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

type clientBucket struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter throttles requests per client address with a token bucket. It
// is safe for concurrent use.
//
// The RateLimiter runs a background goroutine to forget idle clients. Call
// Close to stop it.
type RateLimiter struct {
	mu            sync.Mutex
	clients       map[string]*clientBucket
	burstCapacity int
	sustainedRate float64
	clientMaxAge  time.Duration
	now           func() time.Time

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	clientGauge prometheus.Gauge
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
// reg may be nil; otherwise a tracked-clients gauge is registered with it.
func NewRateLimiter(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	if cfg.BurstCapacity <= 0 {
		cfg.BurstCapacity = DefaultBurstCapacity
	}
	if cfg.SustainedRate <= 0 {
		cfg.SustainedRate = DefaultSustainedRate
	}
	cfg.SustainedRate = math.Max(cfg.SustainedRate, MinSustainedRate)
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.ClientMaxAge <= 0 {
		cfg.ClientMaxAge = DefaultClientMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	rl := &RateLimiter{
		clients:       make(map[string]*clientBucket),
		burstCapacity: cfg.BurstCapacity,
		sustainedRate: cfg.SustainedRate,
		clientMaxAge:  cfg.ClientMaxAge,
		now:           cfg.Now,
		stopChan:      make(chan struct{}),
	}

	if reg != nil {
		rl.clientGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_ratelimiter_clients",
			Help: "Current number of clients tracked by the credential rate limiter",
		})
		reg.MustRegister(rl.clientGauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cfg.CleanupInterval)

	return rl
}

// Allow consumes one token for key. When the bucket is empty it returns
// false and the wait until the next token.
func (rl *RateLimiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.clients[key]
	if !ok {
		bucket = &clientBucket{tokens: float64(rl.burstCapacity), lastCheck: now}
		rl.clients[key] = bucket
	}

	elapsed := now.Sub(bucket.lastCheck).Seconds()
	bucket.tokens = math.Min(bucket.tokens+elapsed*rl.sustainedRate, float64(rl.burstCapacity))
	bucket.lastCheck = now

	if bucket.tokens >= 1.0 {
		bucket.tokens--
		return true, 0
	}

	deficit := 1.0 - bucket.tokens
	return false, time.Duration(deficit / rl.sustainedRate * float64(time.Second))
}

// ClientCount returns the number of tracked clients.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Cleanup forgets clients not seen within maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-maxAge)
	for key, bucket := range rl.clients {
		if bucket.lastCheck.Before(threshold) {
			delete(rl.clients, key)
		}
	}

	if rl.clientGauge != nil {
		rl.clientGauge.Set(float64(len(rl.clients)))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup(rl.clientMaxAge)
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stopChan) })
	rl.wg.Wait()
}

// clientKey identifies the caller by IP. RealIP has already rewritten
// RemoteAddr when a trusted proxy header was present.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// rateLimit throttles the credential endpoints per client. A nil limiter
// disables it.
func (a *API) rateLimit(next http.Handler) http.Handler {
	if a.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := a.limiter.Allow(clientKey(r))
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		HTTPRateLimitedTotal.WithLabelValues(route).Inc()
		a.logger.WarnContext(r.Context(), "credential request throttled",
			"client", clientKey(r),
			"path", r.URL.Path,
			"retry_after", retryAfter,
		)

		seconds := int(math.Ceil(retryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
			Kind:    kindRateLimited,
			Message: "too many requests, try again later",
		}})
	})
}
