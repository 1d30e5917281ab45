// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

// SMTPConfig configures an SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// RequireTLS fails delivery when the server does not offer STARTTLS.
	RequireTLS bool
}

// Validate checks the configuration.
func (c SMTPConfig) Validate() error {
	if c.Host == "" {
		return oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return oops.Code("MAIL_CONFIG_INVALID").With("port", c.Port).Errorf("smtp port must be between 1 and 65535")
	}
	if _, err := mail.ParseAddress(c.From); err != nil {
		return oops.Code("MAIL_CONFIG_INVALID").With("from", c.From).Wrap(err)
	}
	if (c.Username == "") != (c.Password == "") {
		return oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp username and password must be set together")
	}
	return nil
}

// SMTPSender delivers mail through an SMTP relay, upgrading to TLS with
// STARTTLS when the server offers it and authenticating with PLAIN.
type SMTPSender struct {
	cfg  SMTPConfig
	from *mail.Address
	addr string
	now  func() time.Time
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	from, _ := mail.ParseAddress(cfg.From) //nolint:errcheck // checked by Validate
	var d net.Dialer
	return &SMTPSender{
		cfg:  cfg,
		from: from,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		now:  time.Now,
		dial: d.DialContext,
	}, nil
}

// Send delivers msg. The context deadline bounds the whole SMTP exchange.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return oops.Code("MAIL_INVALID_MESSAGE").With("to", msg.To).Wrap(err)
	}

	conn, err := s.dial(ctx, "tcp", s.addr)
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "dial").With("addr", s.addr).Wrap(err)
	}
	defer conn.Close() //nolint:errcheck // client.Quit reports the meaningful error

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return oops.Code("MAIL_SEND_FAILED").With("operation", "set deadline").Wrap(err)
		}
	}
	// Unblock the exchange if the context is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "handshake").Wrap(err)
	}
	defer client.Close() //nolint:errcheck // Quit already closed it on success

	if err := s.exchange(client, to, msg); err != nil {
		return err
	}
	if err := client.Quit(); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "quit").Wrap(err)
	}
	return nil
}

func (s *SMTPSender) exchange(client *smtp.Client, to *mail.Address, msg Message) error {
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return oops.Code("MAIL_SEND_FAILED").With("operation", "starttls").Wrap(err)
		}
	} else if s.cfg.RequireTLS {
		return oops.Code("MAIL_SEND_FAILED").With("host", s.cfg.Host).Errorf("server does not support STARTTLS")
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return oops.Code("MAIL_SEND_FAILED").With("operation", "auth").Wrap(err)
		}
	}

	if err := client.Mail(s.from.Address); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "mail from").Wrap(err)
	}
	if err := client.Rcpt(to.Address); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "rcpt to").With("to", to.Address).Wrap(err)
	}

	w, err := client.Data()
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "data").Wrap(err)
	}
	if _, err := w.Write(s.render(to, msg)); err != nil {
		_ = w.Close()
		return oops.Code("MAIL_SEND_FAILED").With("operation", "write body").Wrap(err)
	}
	if err := w.Close(); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "end data").Wrap(err)
	}
	return nil
}

// render builds the RFC 5322 message. Header values are encoded, so a
// subject cannot inject extra headers.
func (s *SMTPSender) render(to *mail.Address, msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\r\n")
	}
	return b.Bytes()
}
