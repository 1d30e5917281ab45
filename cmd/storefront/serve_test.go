// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/storefront/internal/auth/memory"
	"github.com/storefront/storefront/internal/config"
	"github.com/storefront/storefront/internal/mail"
	"github.com/storefront/storefront/internal/observability"
)

func testServeConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Driver = config.StoreMemory
	cfg.Metrics.Addr = ""
	cfg.Auth.JWTSecret = strings.Repeat("k", 32)
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	return &cfg
}

func quietCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd
}

// serveHarness runs the service on a loopback listener until stopped.
type serveHarness struct {
	baseURL string
	cancel  context.CancelFunc
	done    chan error
}

func startServe(t *testing.T, cfg *config.Config, deps *ServeDeps) *serveHarness {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.Listen = func(string, string) (net.Listener, error) { return ln, nil }
	deps.LogOutput = io.Discard

	ctx, cancel := context.WithCancel(context.Background())
	h := &serveHarness{
		baseURL: "http://" + ln.Addr().String(),
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() { h.done <- runServeWithDeps(ctx, cfg, quietCmd(), deps) }()
	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *serveHarness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err, ok := <-h.done:
		if !ok {
			return nil
		}
		close(h.done)
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down")
		return nil
	}
}

func TestRunServe_ServesAPIAndShutsDown(t *testing.T) {
	h := startServe(t, testServeConfig(), nil)

	resp, err := http.Get(h.baseURL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(h.baseURL+"/users/register", "application/json",
		strings.NewReader(`{"name":"Ada","email":"ada@example.com","password":"correct-horse"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ada@example.com", body["email"])
	assert.NotEmpty(t, body["token"])

	assert.NoError(t, h.stop(t))
}

func TestRunServe_WiresObservability(t *testing.T) {
	var obs *observability.Server
	cfg := testServeConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"

	users := memory.NewUserRepository()
	ready := errors.New("warming up")
	deps := &ServeDeps{
		StoreOpener: func(context.Context, config.StoreConfig, *slog.Logger) (*OpenedStore, error) {
			return &OpenedStore{
				Users: users,
				Ping:  func(context.Context) error { return ready },
			}, nil
		},
		ObservabilityServerFactory: func(addr string, check observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			obs = observability.NewServer(addr, check, logger)
			return obs
		},
	}
	h := startServe(t, cfg, deps)

	resp, err := http.Get(h.baseURL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.NotNil(t, obs)

	resp, err = http.Get("http://" + obs.Addr() + "/healthz/readiness")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get("http://" + obs.Addr() + "/metrics")
	require.NoError(t, err)
	metrics, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "storefront_http_requests_total")

	assert.NoError(t, h.stop(t))
}

func TestRunServe_StoreFailure(t *testing.T) {
	mailerBuilt := false
	deps := &ServeDeps{
		StoreOpener: func(context.Context, config.StoreConfig, *slog.Logger) (*OpenedStore, error) {
			return nil, errors.New("connection refused")
		},
		MailerFactory: func(config.MailConfig, *slog.Logger) (mail.Sender, error) {
			mailerBuilt = true
			return mail.NewLogSender(nil, false), nil
		},
		LogOutput: io.Discard,
	}

	err := runServeWithDeps(context.Background(), testServeConfig(), quietCmd(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, mailerBuilt, "mailer is not built after a store failure")
}

func TestRunServe_ClosesStoreOnLaterFailure(t *testing.T) {
	var closed bool
	deps := &ServeDeps{
		StoreOpener: func(context.Context, config.StoreConfig, *slog.Logger) (*OpenedStore, error) {
			return &OpenedStore{
				Users: memory.NewUserRepository(),
				Close: func(context.Context) error {
					closed = true
					return nil
				},
			}, nil
		},
		Listen: func(string, string) (net.Listener, error) {
			return nil, errors.New("address in use")
		},
		LogOutput: io.Discard,
	}

	err := runServeWithDeps(context.Background(), testServeConfig(), quietCmd(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.True(t, closed)
}

func TestRunServe_ObservabilityStartFailure(t *testing.T) {
	cfg := testServeConfig()
	cfg.Metrics.Addr = "127.0.0.1:1"
	deps := &ServeDeps{
		ObservabilityServerFactory: func(string, observability.ReadinessChecker, *slog.Logger) ObservabilityServer {
			return &failingObservability{registry: prometheus.NewRegistry()}
		},
		LogOutput: io.Discard,
	}

	err := runServeWithDeps(context.Background(), cfg, quietCmd(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind failed")
}

type failingObservability struct {
	registry *prometheus.Registry
}

func (f *failingObservability) Start() (<-chan error, error) { return nil, errors.New("bind failed") }
func (f *failingObservability) Stop(context.Context) error   { return nil }
func (f *failingObservability) Addr() string                 { return "" }
func (f *failingObservability) Registry() *prometheus.Registry {
	return f.registry
}

func TestMonitorServerErrors(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	t.Run("error cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		errCh <- errors.New("listener closed")

		monitorServerErrors(ctx, cancel, errCh, "observability", logger)
		assert.Error(t, ctx.Err())
	})

	t.Run("closed channel does not cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)

		monitorServerErrors(ctx, cancel, errCh, "observability", logger)
		assert.NoError(t, ctx.Err())
	})
}
