// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/storefront/storefront/internal/auth/memory"
	"github.com/storefront/storefront/internal/auth/mongodb"
	"github.com/storefront/storefront/internal/auth/postgres"
	"github.com/storefront/storefront/internal/config"
	"github.com/storefront/storefront/internal/mail"
	"github.com/storefront/storefront/internal/store"
)

// openStore connects the credential store named by cfg.Driver.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*OpenedStore, error) {
	opts := store.ConnectOptions{
		Attempts: cfg.ConnectAttempts,
		Backoff:  cfg.ConnectBackoff,
		Logger:   logger,
	}

	switch cfg.Driver {
	case config.StoreMemory:
		logger.Warn("using in-memory store, accounts are lost on restart")
		return &OpenedStore{Users: memory.NewUserRepository()}, nil

	case config.StorePostgres:
		pool, err := store.Connect(ctx, cfg.PostgresURL, opts)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := migrateUp(cfg.PostgresURL, logger); err != nil {
				pool.Close()
				return nil, err
			}
		}
		logger.Info("connected to postgres")
		return &OpenedStore{
			Users: postgres.NewUserRepository(pool),
			Ping:  pool.Ping,
			Close: func(context.Context) error {
				pool.Close()
				return nil
			},
		}, nil

	case config.StoreMongoDB:
		client, repo, err := mongodb.Open(ctx, cfg.MongoURI, cfg.MongoDatabase, opts)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to mongodb", "database", cfg.MongoDatabase)
		return &OpenedStore{
			Users: repo,
			Ping: func(ctx context.Context) error {
				return client.Ping(ctx, readpref.Primary())
			},
			Close: client.Disconnect,
		}, nil

	default:
		return nil, oops.Code("CONFIG_INVALID").
			With("field", "store.driver").
			Errorf("unknown store driver %q", cfg.Driver)
	}
}

// migrateUp applies pending schema migrations.
func migrateUp(databaseURL string, logger *slog.Logger) error {
	migrator, err := newMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	pending, err := migrator.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		logger.Info("database schema is up to date")
		return nil
	}
	logger.Info("applying migrations", "count", len(pending))
	return migrator.Up()
}

// newMailer builds the sender for password reset emails.
func newMailer(cfg config.MailConfig, logger *slog.Logger) (mail.Sender, error) {
	switch cfg.Driver {
	case config.MailSMTP:
		sender, err := mail.NewSMTPSender(cfg.SMTP.Mail())
		if err != nil {
			return nil, err
		}
		return sender, nil
	case config.MailLog:
		logger.Warn("reset emails are logged, not delivered")
		return mail.NewLogSender(logger, cfg.LogBody), nil
	default:
		return nil, oops.Code("CONFIG_INVALID").
			With("field", "mail.driver").
			Errorf("unknown mail driver %q", cfg.Driver)
	}
}
