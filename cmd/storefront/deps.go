// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/config"
	"github.com/storefront/storefront/internal/mail"
	"github.com/storefront/storefront/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreOpener connects the configured credential store.
	// Default: openStore
	StoreOpener func(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*OpenedStore, error)

	// MailerFactory builds the reset email sender.
	// Default: newMailer
	MailerFactory func(cfg config.MailConfig, logger *slog.Logger) (mail.Sender, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// Listen opens the API listener.
	// Default: net.Listen
	Listen func(network, address string) (net.Listener, error)

	// LogOutput receives the service log.
	// Default: the command's stderr
	LogOutput io.Writer
}

// OpenedStore is a connected credential store.
type OpenedStore struct {
	Users auth.UserRepository
	// Ping reports store health to the readiness probe. Nil means always ready.
	Ping observability.ReadinessChecker
	// Close releases the connection. Nil means nothing to release.
	Close func(ctx context.Context) error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() *prometheus.Registry
}

func (d *ServeDeps) setDefaults(w io.Writer) {
	if d.StoreOpener == nil {
		d.StoreOpener = openStore
	}
	if d.MailerFactory == nil {
		d.MailerFactory = newMailer
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if d.Listen == nil {
		d.Listen = net.Listen
	}
	if d.LogOutput == nil {
		d.LogOutput = w
	}
}
