// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package mail delivers transactional email such as password reset links.
package mail

import (
	"context"
	"net/mail"

	"github.com/samber/oops"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Validate checks that the message can be delivered.
func (m Message) Validate() error {
	if m.To == "" {
		return oops.Code("MAIL_INVALID_MESSAGE").Errorf("recipient cannot be empty")
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return oops.Code("MAIL_INVALID_MESSAGE").With("to", m.To).Wrap(err)
	}
	if m.Subject == "" {
		return oops.Code("MAIL_INVALID_MESSAGE").Errorf("subject cannot be empty")
	}
	return nil
}

// Sender delivers a message. A nil error means the message was accepted for
// delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f(ctx, msg).
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
