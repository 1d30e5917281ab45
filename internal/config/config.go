// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package config loads service configuration from defaults, a YAML file,
// STOREFRONT_* environment variables and command-line flags, in that order of
// precedence (later wins).
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/logging"
	"github.com/storefront/storefront/internal/mail"
	"github.com/storefront/storefront/internal/xdg"
)

// EnvPrefix prefixes every environment variable read. A double underscore
// separates nesting levels: STOREFRONT_AUTH__JWT_SECRET sets auth.jwt_secret.
const EnvPrefix = "STOREFRONT_"

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongoDB  = "mongodb"
)

// Mail drivers.
const (
	MailSMTP = "smtp"
	MailLog  = "log"
)

const redacted = "[redacted]"

// maxResetTokenTTL caps how long a mailed reset link stays usable.
const maxResetTokenTTL = 24 * time.Hour

// Config is the complete service configuration.
type Config struct {
	HTTP    HTTPConfig    `koanf:"http" yaml:"http"`
	Metrics MetricsConfig `koanf:"metrics" yaml:"metrics"`
	Log     LogConfig     `koanf:"log" yaml:"log"`
	Store   StoreConfig   `koanf:"store" yaml:"store"`
	Auth    AuthConfig    `koanf:"auth" yaml:"auth"`
	Mail    MailConfig    `koanf:"mail" yaml:"mail"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" yaml:"idle_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
	CookieName      string        `koanf:"cookie_name" yaml:"cookie_name"`
	SecureCookie    bool          `koanf:"secure_cookie" yaml:"secure_cookie"`
	RateLimit       RateLimit     `koanf:"rate_limit" yaml:"rate_limit"`
}

// RateLimit throttles the credential endpoints per client IP.
type RateLimit struct {
	Enabled   bool    `koanf:"enabled" yaml:"enabled"`
	Burst     int     `koanf:"burst" yaml:"burst"`
	PerSecond float64 `koanf:"per_second" yaml:"per_second"`
}

// MetricsConfig configures the observability server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	Driver          string        `koanf:"driver" yaml:"driver"`
	PostgresURL     string        `koanf:"postgres_url" yaml:"postgres_url"`
	MongoURI        string        `koanf:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase   string        `koanf:"mongo_database" yaml:"mongo_database"`
	ConnectAttempts uint64        `koanf:"connect_attempts" yaml:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff" yaml:"connect_backoff"`
	AutoMigrate     bool          `koanf:"auto_migrate" yaml:"auto_migrate"`
}

// AuthConfig configures tokens and password resets.
type AuthConfig struct {
	JWTSecret     string        `koanf:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL      time.Duration `koanf:"token_ttl" yaml:"token_ttl"`
	Issuer        string        `koanf:"issuer" yaml:"issuer"`
	ResetTokenTTL time.Duration `koanf:"reset_token_ttl" yaml:"reset_token_ttl"`
	ResetURLBase  string        `koanf:"reset_url_base" yaml:"reset_url_base"`
	PurgeInterval time.Duration `koanf:"purge_interval" yaml:"purge_interval"`
}

// MailConfig selects and configures the email transport.
type MailConfig struct {
	Driver  string        `koanf:"driver" yaml:"driver"`
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
	LogBody bool          `koanf:"log_body" yaml:"log_body"`
	SMTP    SMTPConfig    `koanf:"smtp" yaml:"smtp"`
}

// SMTPConfig mirrors mail.SMTPConfig.
type SMTPConfig struct {
	Host       string `koanf:"host" yaml:"host"`
	Port       int    `koanf:"port" yaml:"port"`
	Username   string `koanf:"username" yaml:"username"`
	Password   string `koanf:"password" yaml:"password"`
	From       string `koanf:"from" yaml:"from"`
	RequireTLS bool   `koanf:"require_tls" yaml:"require_tls"`
}

// Mail converts to the transport configuration.
func (c SMTPConfig) Mail() mail.SMTPConfig {
	return mail.SMTPConfig{
		Host:       c.Host,
		Port:       c.Port,
		Username:   c.Username,
		Password:   c.Password,
		From:       c.From,
		RequireTLS: c.RequireTLS,
	}
}

// Default returns the built-in configuration. It has no JWT secret and so
// does not validate on its own.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CookieName:      "token",
			RateLimit:       RateLimit{Enabled: true, Burst: 10, PerSecond: 0.2},
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
		Store: StoreConfig{
			Driver:          StorePostgres,
			MongoDatabase:   "storefront",
			ConnectAttempts: 5,
			ConnectBackoff:  500 * time.Millisecond,
		},
		Auth: AuthConfig{
			TokenTTL:      auth.DefaultSessionTokenTTL,
			Issuer:        auth.DefaultTokenIssuer,
			ResetTokenTTL: auth.ResetTokenExpiry,
			ResetURLBase:  "http://localhost:3000/reset-password",
			PurgeInterval: 10 * time.Minute,
		},
		Mail: MailConfig{
			Driver:  MailLog,
			Timeout: auth.DefaultMailTimeout,
			SMTP:    SMTPConfig{Port: 587},
		},
	}
}

// DefaultConfigFile is the config file read when none is named.
func DefaultConfigFile() string {
	return filepath.Join(xdg.ConfigDir(), "config.yaml")
}

// LoadOptions controls Load.
type LoadOptions struct {
	// File is an explicit config file. It must exist. When empty the
	// default file is read if present.
	File string
	// EnvFile is a dotenv file loaded into the process environment before
	// reading STOREFRONT_* variables. Variables already set win. A missing
	// file is ignored.
	EnvFile string
	// Flags are applied last. Only flags the user changed are used.
	Flags *pflag.FlagSet
	// FlagKeys maps flag names to config keys, for example
	// "http-addr" to "http.addr". Unmapped flags are ignored.
	FlagKeys map[string]string
}

// Load builds the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "load env file").
				With("path", opts.EnvFile).
				Wrap(err)
		}
	}

	k := koanf.New(".")

	path := opts.File
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile()); err == nil {
			path = DefaultConfigFile()
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "read config file").
				With("path", path).
				Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "read environment").Wrap(err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := opts.FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "read flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode config").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps STOREFRONT_AUTH__JWT_SECRET to auth.jwt_secret.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func invalid(field, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}
	for field, d := range map[string]time.Duration{
		"http.read_timeout":     c.HTTP.ReadTimeout,
		"http.write_timeout":    c.HTTP.WriteTimeout,
		"http.idle_timeout":     c.HTTP.IdleTimeout,
		"http.request_timeout":  c.HTTP.RequestTimeout,
		"http.shutdown_timeout": c.HTTP.ShutdownTimeout,
		"auth.token_ttl":        c.Auth.TokenTTL,
		"auth.reset_token_ttl":  c.Auth.ResetTokenTTL,
		"auth.purge_interval":   c.Auth.PurgeInterval,
		"mail.timeout":          c.Mail.Timeout,
	} {
		if d <= 0 {
			return invalid(field, "%s must be positive, got %s", field, d)
		}
	}
	if c.HTTP.CookieName == "" {
		return invalid("http.cookie_name", "http.cookie_name is required")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.Burst < 1 {
			return invalid("http.rate_limit.burst", "http.rate_limit.burst must be at least 1")
		}
		if c.HTTP.RateLimit.PerSecond <= 0 {
			return invalid("http.rate_limit.per_second", "http.rate_limit.per_second must be positive")
		}
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.PostgresURL == "" {
			return invalid("store.postgres_url", "store.postgres_url is required for the postgres store")
		}
	case StoreMongoDB:
		if c.Store.MongoURI == "" {
			return invalid("store.mongo_uri", "store.mongo_uri is required for the mongodb store")
		}
		if c.Store.MongoDatabase == "" {
			return invalid("store.mongo_database", "store.mongo_database is required for the mongodb store")
		}
	default:
		return invalid("store.driver", "store.driver must be one of memory, postgres, mongodb; got %q", c.Store.Driver)
	}
	if c.Store.ConnectAttempts == 0 {
		return invalid("store.connect_attempts", "store.connect_attempts must be at least 1")
	}

	if len(c.Auth.JWTSecret) < auth.MinTokenSecretLength {
		return invalid("auth.jwt_secret", "auth.jwt_secret must be at least %d bytes", auth.MinTokenSecretLength)
	}
	if c.Auth.ResetTokenTTL > maxResetTokenTTL {
		return invalid("auth.reset_token_ttl", "auth.reset_token_ttl must not exceed %s", maxResetTokenTTL)
	}
	u, err := url.Parse(c.Auth.ResetURLBase)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("auth.reset_url_base", "auth.reset_url_base must be an absolute URL")
	}

	switch c.Mail.Driver {
	case MailLog:
	case MailSMTP:
		if err := c.Mail.SMTP.Mail().Validate(); err != nil {
			return invalid("mail.smtp", "mail.smtp is invalid: %s", err.Error())
		}
	default:
		return invalid("mail.driver", "mail.driver must be one of smtp, log; got %q", c.Mail.Driver)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	if c.Auth.JWTSecret != "" {
		c.Auth.JWTSecret = redacted
	}
	if c.Mail.SMTP.Password != "" {
		c.Mail.SMTP.Password = redacted
	}
	c.Store.PostgresURL = redactURL(c.Store.PostgresURL)
	c.Store.MongoURI = redactURL(c.Store.MongoURI)
	return c
}

// redactURL masks the password of a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}
