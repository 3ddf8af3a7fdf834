package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mixelka/codewatch/pkg/models"
)

// Retrieval modes
const (
	ModeIMAP   = "imap"
	ModeManual = "manual"
)

// Config application configuration
type Config struct {
	// Mailbox sources
	Primary   models.Credentials `envPrefix:"PRIMARY_IMAP_"`
	Secondary models.Credentials `envPrefix:"SECONDARY_IMAP_"`

	// Retrieval
	Mode            string        `env:"RETRIEVAL_MODE" envDefault:"imap"` // "imap" or "manual"
	RecoveryAddress string        `env:"RECOVERY_ADDRESS"`                 // shown in the manual prompt
	Sender          string        `env:"CODE_SENDER" envDefault:"account@accountprotection.microsoft.com"`
	Timeout         time.Duration `env:"CODE_TIMEOUT" envDefault:"60s"`
	PollInterval    time.Duration `env:"CODE_POLL_INTERVAL" envDefault:"5s"`
	RoundTimeout    time.Duration `env:"CODE_ROUND_TIMEOUT" envDefault:"10s"`
	Lookback        time.Duration `env:"CODE_LOOKBACK" envDefault:"24h"`
	RollingWindow   bool          `env:"CODE_ROLLING_WINDOW" envDefault:"false"`
	MarkSeen        bool          `env:"CODE_MARK_SEEN" envDefault:"false"`
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`

	// Secrets missing from the environment are looked up in the OS keyring
	// (service "codewatch", item "imap:<username>"). `codewatch store-secret
	// primary|secondary` writes them.
	KeyringEnabled bool `env:"KEYRING_ENABLED" envDefault:"false"`

	// Telegram relay (optional)
	TelegramToken   string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID  int64  `env:"TELEGRAM_CHAT_ID"`
	TelegramTopicID int    `env:"TELEGRAM_TOPIC_ID"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// TelegramEnabled returns true if the Telegram relay is configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// Sources returns the configured primary and secondary credentials;
// a source without both username and secret is nil
func (c *Config) Sources() (primary, secondary *models.Credentials) {
	if c.Primary.Configured() {
		p := c.Primary
		primary = &p
	}
	if c.Secondary.Configured() {
		s := c.Secondary
		secondary = &s
	}
	return primary, secondary
}

// Source names used in logs and errors in place of usernames
const (
	SourcePrimary   = "primary"
	SourceSecondary = "secondary"
)

type namedSource struct {
	name  string
	creds *models.Credentials
}

func (c *Config) namedSources() []namedSource {
	return []namedSource{
		{SourcePrimary, &c.Primary},
		{SourceSecondary, &c.Secondary},
	}
}

// Source returns the credentials of the named source for in-place edits
func (c *Config) Source(name string) (*models.Credentials, error) {
	for _, s := range c.namedSources() {
		if s.name == name {
			return s.creds, nil
		}
	}
	return nil, fmt.Errorf("unknown source %q, want %q or %q", name, SourcePrimary, SourceSecondary)
}

// FillHosts resolves the server of every configured source that has no
// host. Call it after FillSecrets. A source that cannot be resolved keeps
// an empty host and is dropped when the watchers connect.
func (c *Config) FillHosts(resolve func(username string) (models.Server, error)) []error {
	var errs []error
	for _, s := range c.namedSources() {
		if !s.creds.Configured() || s.creds.Host != "" {
			continue
		}
		server, err := resolve(s.creds.Username)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to resolve IMAP server for %s source: %w", s.name, err))
			continue
		}
		s.creds.Host = server.Host
		s.creds.Port = server.Port
		s.creds.UseTLS = server.UseTLS
	}
	return errs
}

// FillSecrets looks up the secret of every source that has a username but
// no secret. Lookup failures leave the source unconfigured.
func (c *Config) FillSecrets(lookup func(username string) (string, error)) []error {
	var errs []error
	for _, s := range c.namedSources() {
		if s.creds.Username == "" || s.creds.Secret != "" {
			continue
		}
		secret, err := lookup(s.creds.Username)
		if err != nil {
			errs = append(errs, fmt.Errorf("no secret for %s source: %w", s.name, err))
			continue
		}
		s.creds.Secret = secret
	}
	return errs
}

// Validate checks values env parsing cannot
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeIMAP, ModeManual:
	default:
		errs = append(errs, fmt.Errorf("RETRIEVAL_MODE must be %q or %q, got %q", ModeIMAP, ModeManual, c.Mode))
	}

	for name, d := range map[string]time.Duration{
		"CODE_TIMEOUT":       c.Timeout,
		"CODE_POLL_INTERVAL": c.PollInterval,
		"CODE_ROUND_TIMEOUT": c.RoundTimeout,
		"CODE_LOOKBACK":      c.Lookback,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set"))
	}

	return errors.Join(errs...)
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
