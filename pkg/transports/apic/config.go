package apic

import (
	"fmt"
	"time"
)

// Config holds controller connection configuration.
type Config struct {
	// Host is the controller address, optionally with a port.
	Host string

	// User is the login user name.
	User string

	// Password is the login password.
	Password string

	// VerifyTLS enables certificate verification. Controllers usually run
	// with self-signed certificates, so it is off by default.
	VerifyTLS bool

	// RequestTimeout bounds every single HTTP request.
	RequestTimeout time.Duration

	// RefreshInterval is how long a token is used before it is refreshed
	// through /api/aaaRefresh.
	RefreshInterval time.Duration

	// SessionLifetime makes sessions stale after this duration so the retry
	// loop logs in again. Zero keeps sessions until they are rejected.
	SessionLifetime time.Duration

	// RateLimit is the maximum number of requests per second. Zero disables limiting.
	RateLimit float64

	// Burst is the limiter burst size.
	Burst int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host, user, password string) *Config {
	return &Config{
		Host:            host,
		User:            user,
		Password:        password,
		VerifyTLS:       false,
		RequestTimeout:  5 * time.Second,
		RefreshInterval: 8 * time.Minute,
		RateLimit:       0,
		Burst:           1,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}

	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}

	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive")
	}

	if c.SessionLifetime < 0 {
		return fmt.Errorf("session lifetime must not be negative")
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	if c.RateLimit > 0 && c.Burst <= 0 {
		return fmt.Errorf("burst must be positive when rate limiting is enabled")
	}

	return nil
}

// URL returns the absolute URL of an API path.
func (c *Config) URL(path string) string {
	return fmt.Sprintf("https://%s%s.json", c.Host, path)
}
