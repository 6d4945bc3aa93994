// Package mailer builds MIME messages and delivers them to an authenticated
// SMTP relay.
package mailer

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrMissingCredentials is returned when SMTP_USER or SMTP_PASS is not set
var ErrMissingCredentials = errors.New("SMTP credentials are not configured (SMTP_USER, SMTP_PASS)")

// Settings is the outbound relay configuration read from the environment
type Settings struct {
	Host      string        `env:"SMTP_HOST" envDefault:"smtp.example.com"`
	Port      int           `env:"SMTP_PORT" envDefault:"587"`
	Secure    bool          `env:"SMTP_SECURE" envDefault:"false"`
	User      string        `env:"SMTP_USER"`
	Password  string        `env:"SMTP_PASS"`
	From      string        `env:"SMTP_FROM" envDefault:"✧ <noreply@constellation.void>"`
	HeloName  string        `env:"SMTP_HELO" envDefault:"localhost"`
	Timeout   time.Duration `env:"SMTP_TIMEOUT" envDefault:"30s"`
	TestEmail string        `env:"TEST_EMAIL"`
}

// LoadSettings reads the optional dotenv files, then the process environment.
// Variables already set in the environment win over dotenv values.
func LoadSettings(dotenvFiles ...string) (*Settings, error) {
	// Missing dotenv files are not an error
	_ = godotenv.Load(dotenvFiles...)

	s := &Settings{}
	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("failed to parse SMTP settings: %w", err)
	}
	return s, nil
}

// Validate checks that credentials are present
func (s *Settings) Validate() error {
	if s.User == "" || s.Password == "" {
		return ErrMissingCredentials
	}
	if s.Host == "" {
		return fmt.Errorf("SMTP_HOST is required")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid SMTP_PORT: %d", s.Port)
	}
	return nil
}

// Addr returns host:port
func (s *Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
