// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

// Package config loads verigate settings from defaults, an optional YAML
// file and command-line flags, in that order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/verigate/verigate/internal/auth"
	"github.com/verigate/verigate/internal/logging"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Mail delivery modes and transports.
const (
	DeliveryAsync = "async"
	DeliverySync  = "sync"

	TransportLog  = "log"
	TransportSMTP = "smtp"
)

// DatabaseURLEnv is consulted when store.database_url is unset.
const DatabaseURLEnv = "DATABASE_URL"

type HTTPConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
}

type MetricsConfig struct {
	// Addr of the observability listener. Empty disables it.
	Addr string `koanf:"addr"`
}

type StoreConfig struct {
	Driver      string `koanf:"driver"`
	DatabaseURL string `koanf:"database_url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

type AuthConfig struct {
	CodeLength           int           `koanf:"code_length"`
	EmailVerificationTTL time.Duration `koanf:"email_verification_ttl"`
	TwoFactorTTL         time.Duration `koanf:"two_factor_ttl"`
}

type SessionConfig struct {
	CookieName             string        `koanf:"cookie_name"`
	CookieSecure           bool          `koanf:"cookie_secure"`
	IdleTimeout            time.Duration `koanf:"idle_timeout"`
	AbsoluteTimeout        time.Duration `koanf:"absolute_timeout"`
	RevokeOnPasswordChange bool          `koanf:"revoke_on_password_change"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type MailConfig struct {
	Delivery   string        `koanf:"delivery"`
	Transport  string        `koanf:"transport"`
	From       string        `koanf:"from"`
	SMTP       SMTPConfig    `koanf:"smtp"`
	Workers    int           `koanf:"workers"`
	QueueSize  int           `koanf:"queue_size"`
	MaxRetries uint64        `koanf:"max_retries"`
	RetryBase  time.Duration `koanf:"retry_base"`
}

type RetentionConfig struct {
	Interval      time.Duration `koanf:"interval"`
	CodeRetention time.Duration `koanf:"code_retention"`
}

type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Config is the complete verigate configuration.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Store     StoreConfig     `koanf:"store"`
	Auth      AuthConfig      `koanf:"auth"`
	Session   SessionConfig   `koanf:"session"`
	Mail      MailConfig      `koanf:"mail"`
	Retention RetentionConfig `koanf:"retention"`
	Log       LogConfig       `koanf:"log"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTP:    HTTPConfig{Addr: ":8080", ReadHeaderTimeout: 10 * time.Second},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Store:   StoreConfig{Driver: DriverPostgres},
		Auth: AuthConfig{
			CodeLength:           auth.DefaultCodeLength,
			EmailVerificationTTL: auth.DefaultEmailVerification,
			TwoFactorTTL:         auth.DefaultTwoFactor,
		},
		Session: SessionConfig{
			CookieName:             "auth_session",
			CookieSecure:           true,
			IdleTimeout:            auth.DefaultIdleTimeout,
			AbsoluteTimeout:        auth.DefaultAbsoluteTimeout,
			RevokeOnPasswordChange: true,
		},
		Mail: MailConfig{
			Delivery:   DeliveryAsync,
			Transport:  TransportLog,
			From:       "no-reply@localhost",
			SMTP:       SMTPConfig{Port: 587},
			Workers:    2,
			QueueSize:  128,
			MaxRetries: 3,
			RetryBase:  200 * time.Millisecond,
		},
		Retention: RetentionConfig{
			Interval:      auth.DefaultSweepInterval,
			CodeRetention: auth.DefaultCodeRetention,
		},
		Log: LogConfig{Format: "json", Level: "info"},
	}
}

// flagKeys maps command-line flag names to configuration keys. Only flags
// listed here, and only when set explicitly, override the file.
var flagKeys = map[string]string{
	"http-addr":      "http.addr",
	"metrics-addr":   "metrics.addr",
	"store-driver":   "store.driver",
	"database-url":   "store.database_url",
	"auto-migrate":   "store.auto_migrate",
	"mail-delivery":  "mail.delivery",
	"mail-transport": "mail.transport",
	"cookie-secure":  "session.cookie_secure",
	"log-format":     "log.format",
	"log-level":      "log.level",
}

// RegisterFlags adds the overridable settings to fs. Defaults shown in help
// come from Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTP.Addr, "account API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("store-driver", d.Store.Driver, "storage backend (postgres or memory)")
	fs.String("database-url", "", "PostgreSQL URL (default: $"+DatabaseURLEnv+")")
	fs.Bool("auto-migrate", d.Store.AutoMigrate, "apply pending migrations on startup")
	fs.String("mail-delivery", d.Mail.Delivery, "email delivery mode (async or sync)")
	fs.String("mail-transport", d.Mail.Transport, "email transport (log or smtp)")
	fs.Bool("cookie-secure", d.Session.CookieSecure, "set the Secure attribute on session cookies")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
}

// Load builds the configuration. path may be empty to skip the file; flags
// may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	return load(path, flags, os.Getenv)
}

func load(path string, flags *pflag.FlagSet, getenv func(string) string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode configuration").Wrap(err)
	}

	if cfg.Store.DatabaseURL == "" {
		cfg.Store.DatabaseURL = getenv(DatabaseURLEnv)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))

	return &cfg, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}

	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return invalid("store.database_url", "store.database_url or $%s is required for the postgres driver", DatabaseURLEnv)
		}
	case DriverMemory:
	default:
		return invalid("store.driver", "store.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Store.Driver)
	}

	if c.Auth.CodeLength < auth.MinCodeLength || c.Auth.CodeLength > auth.MaxCodeLength {
		return invalid("auth.code_length", "auth.code_length must be between %d and %d", auth.MinCodeLength, auth.MaxCodeLength)
	}
	if c.Auth.EmailVerificationTTL <= 0 || c.Auth.TwoFactorTTL <= 0 {
		return invalid("auth", "code ttls must be positive")
	}

	if c.Session.CookieName == "" {
		return invalid("session.cookie_name", "session.cookie_name is required")
	}
	if c.Session.IdleTimeout <= 0 || c.Session.AbsoluteTimeout < c.Session.IdleTimeout {
		return invalid("session", "session.idle_timeout must be positive and not exceed session.absolute_timeout")
	}

	if err := c.validateMail(invalid); err != nil {
		return err
	}

	if c.Retention.Interval <= 0 || c.Retention.CodeRetention < 0 {
		return invalid("retention", "retention.interval must be positive and retention.code_retention not negative")
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "log.level %q is not a known level", c.Log.Level)
	}
	return nil
}

func (c *Config) validateMail(invalid func(key, format string, args ...any) error) error {
	m := c.Mail
	switch m.Delivery {
	case DeliveryAsync:
		if m.Workers < 1 || m.QueueSize < 1 {
			return invalid("mail", "mail.workers and mail.queue_size must be at least 1 for async delivery")
		}
	case DeliverySync:
	default:
		return invalid("mail.delivery", "mail.delivery must be %q or %q, got %q", DeliveryAsync, DeliverySync, m.Delivery)
	}

	switch m.Transport {
	case TransportLog:
	case TransportSMTP:
		if m.SMTP.Host == "" || m.SMTP.Port <= 0 {
			return invalid("mail.smtp", "mail.smtp.host and mail.smtp.port are required for the smtp transport")
		}
		if m.From == "" {
			return invalid("mail.from", "mail.from is required for the smtp transport")
		}
	default:
		return invalid("mail.transport", "mail.transport must be %q or %q, got %q", TransportLog, TransportSMTP, m.Transport)
	}

	if m.RetryBase <= 0 {
		return invalid("mail.retry_base", "mail.retry_base must be positive")
	}
	return nil
}
