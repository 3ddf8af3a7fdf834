package models

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
)

// Credentials identifies and authenticates one mailbox source
type Credentials struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"993"`
	Username string `env:"USERNAME"`
	Secret   string `env:"PASSWORD"`
	UseTLS   bool   `env:"TLS" envDefault:"true"` // false means STARTTLS
}

// Server is where a mailbox is reached
type Server struct {
	Host   string
	Port   int
	UseTLS bool
}

// Configured reports whether both username and secret are present
func (c Credentials) Configured() bool {
	return c.Username != "" && c.Secret != ""
}

// Validate checks that every field needed to connect is set
func (c Credentials) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.Secret == "" {
		errs = append(errs, errors.New("secret is required"))
	}
	return errors.Join(errs...)
}

// Addr returns host:port
func (c Credentials) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String hides everything but the server address
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{%s}", c.Addr())
}

// LogValue keeps credentials out of structured logs
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("server", c.Addr()))
}
