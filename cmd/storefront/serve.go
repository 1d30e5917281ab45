// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/config"
	"github.com/storefront/storefront/internal/httpapi"
	"github.com/storefront/storefront/internal/logging"
)

// serveFlagKeys maps serve flags onto config keys.
var serveFlagKeys = map[string]string{
	"addr":         "http.addr",
	"metrics-addr": "metrics.addr",
	"store":        "store.driver",
	"auto-migrate": "store.auto_migrate",
	"mail":         "mail.driver",
	"log-format":   "log.format",
	"log-level":    "log.level",
}

// stopTimeout bounds shutdown of the store and the observability server.
const stopTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the REST API together with the metrics and health endpoints and
the janitor that clears expired password reset links.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, serveFlagKeys)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().String("addr", defaults.HTTP.Addr, "API listen address")
	cmd.Flags().String("metrics-addr", defaults.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("store", defaults.Store.Driver, "credential store: memory, postgres or mongodb")
	cmd.Flags().Bool("auto-migrate", defaults.Store.AutoMigrate, "apply pending postgres migrations at startup")
	cmd.Flags().String("mail", defaults.Mail.Driver, "reset email transport: smtp or log")
	cmd.Flags().String("log-format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")

	return cmd
}

// runServeWithDeps runs the service until ctx is cancelled, a termination
// signal arrives or a server fails. If deps is nil, default implementations
// are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.setDefaults(cmd.ErrOrStderr())

	logger, err := logging.New(logging.Options{
		Service: "storefront",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	}, deps.LogOutput)
	if err != nil {
		return err
	}

	logger.Info("starting storefront",
		"addr", cfg.HTTP.Addr,
		"store", cfg.Store.Driver,
		"mail", cfg.Mail.Driver,
	)

	opened, err := deps.StoreOpener(ctx, cfg.Store, logger)
	if err != nil {
		return oops.With("operation", "open store").With("driver", cfg.Store.Driver).Wrap(err)
	}
	if opened.Close != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
			defer cancel()
			if closeErr := opened.Close(closeCtx); closeErr != nil {
				logger.Warn("error closing store", "error", closeErr)
			}
		}()
	}

	mailer, err := deps.MailerFactory(cfg.Mail, logger)
	if err != nil {
		return oops.With("operation", "create mailer").Wrap(err)
	}

	tokens, err := auth.NewJWTIssuer(auth.TokenConfig{
		Secret: []byte(cfg.Auth.JWTSecret),
		TTL:    cfg.Auth.TokenTTL,
		Issuer: cfg.Auth.Issuer,
	}, nil)
	if err != nil {
		return err
	}

	svc, err := auth.NewService(auth.ServiceDeps{
		Users:  opened.Users,
		Hasher: auth.NewArgon2idHasher(),
		Tokens: tokens,
		Mailer: mailer,
		Logger: logger,
	}, auth.ServiceConfig{
		ResetURLBase:  cfg.Auth.ResetURLBase,
		ResetTokenTTL: cfg.Auth.ResetTokenTTL,
		MailTimeout:   cfg.Mail.Timeout,
	})
	if err != nil {
		return oops.With("operation", "create auth service").Wrap(err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start observability server if configured
	var obsServer ObservabilityServer
	var registry prometheus.Registerer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, opened.Ping, logger)
		registry = obsServer.Registry()
		auth.RegisterMetrics(registry)
		httpapi.RegisterMetrics(registry)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
			defer stopCancel()
			if stopErr := obsServer.Stop(stopCtx); stopErr != nil {
				logger.Warn("error stopping observability server", "error", stopErr)
			}
		}()
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
	}

	var limiter *httpapi.RateLimiter
	if rl := cfg.HTTP.RateLimit; rl.Enabled {
		limiter = httpapi.NewRateLimiter(httpapi.RateLimiterConfig{
			BurstCapacity: rl.Burst,
			SustainedRate: rl.PerSecond,
		}, registry)
		defer limiter.Close()
	}

	api, err := httpapi.New(svc, httpapi.Options{
		CookieName:     cfg.HTTP.CookieName,
		SecureCookie:   cfg.HTTP.SecureCookie,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		RateLimiter:    limiter,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	listener, err := deps.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           api.Routes(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runJanitor(ctx, cfg.Auth.PurgeInterval, svc.PurgeExpiredResets, logger)
	}()

	cmd.Printf("Storefront listening on %s\n", listener.Addr())
	logger.Info("storefront ready", "addr", listener.Addr().String())

	var runErr error
	select {
	case err := <-serveErr:
		runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down HTTP server", "error", err)
	}
	wg.Wait()

	logger.Info("shutdown complete")
	return runErr
}

// monitorServerErrors cancels the run context when a server reports an error.
// It exits when either an error is received, the channel is closed, or the
// context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
