// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package mail

import (
	"context"
	"log/slog"
)

// LogSender writes messages to a logger instead of delivering them. It is
// meant for local development, where the reset link can be copied from the
// log. IncludeBody controls whether the body (which holds the link) is logged.
type LogSender struct {
	logger      *slog.Logger
	includeBody bool
}

// NewLogSender creates a LogSender. A nil logger discards output.
func NewLogSender(logger *slog.Logger, includeBody bool) *LogSender {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogSender{logger: logger, includeBody: includeBody}
}

// Send logs msg.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	attrs := []any{"to", msg.To, "subject", msg.Subject}
	if s.includeBody {
		attrs = append(attrs, "body", msg.Body)
	}
	s.logger.InfoContext(ctx, "email not sent, log transport", attrs...)
	return nil
}
