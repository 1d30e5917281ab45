// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/storefront/storefront/pkg/errutil"
)

// purgeFunc clears expired reset challenges and reports how many it cleared.
type purgeFunc func(ctx context.Context) (int64, error)

// runJanitor purges once, then every interval until ctx is done. Failures
// are logged and retried on the next tick.
func runJanitor(ctx context.Context, interval time.Duration, purge purgeFunc, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := purge(ctx); err != nil && ctx.Err() == nil {
			errutil.LogErrorContext(ctx, logger, "reset challenge purge failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
