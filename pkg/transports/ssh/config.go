package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
)

// Config describes how to reach a controller over SSH.
type Config struct {
	Host string
	Port int
	User string

	// Password enables password and keyboard-interactive authentication.
	Password string

	// KeyFile enables public key authentication. Keys are tried before the
	// password when both are set.
	KeyFile       string
	KeyPassphrase string

	// KnownHosts is the known_hosts file the host key is verified against.
	// Empty accepts any host key.
	KnownHosts string

	// DialTimeout bounds the TCP connect and SSH handshake.
	DialTimeout time.Duration
}

// DefaultConfig returns a Config verifying host keys against the user's
// known_hosts file.
func DefaultConfig(host string, user string) *Config {
	c := &Config{
		Host:        host,
		Port:        22,
		User:        user,
		DialTimeout: 30 * time.Second,
	}
	if home, err := os.UserHomeDir(); err == nil {
		c.KnownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}
	return c
}

// Validate reports every problem of the configuration as one permanent error.
func (c *Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Port))
	}
	if c.User == "" {
		errs = append(errs, errors.New("user is required"))
	}
	if c.Password == "" && c.KeyFile == "" {
		errs = append(errs, errors.New("password or key file is required"))
	}
	if c.KeyFile != "" {
		if _, err := os.Stat(c.KeyFile); err != nil {
			errs = append(errs, fmt.Errorf("key file: %w", err))
		}
	}
	if c.DialTimeout <= 0 {
		errs = append(errs, errors.New("dial timeout must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return engine.NewPermanentError("invalid ssh config", err).WithCode(engine.ErrCodeValidation)
	}
	return nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if c.KeyFile != "" {
		pem, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		var signer ssh.Signer
		if c.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse key file %s: %w", c.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if c.Password != "" {
		// Controllers ask for the password through keyboard-interactive.
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		methods = append(methods, ssh.Password(c.Password), ssh.KeyboardInteractive(answer))
	}
	return methods, nil
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.KnownHosts == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// ClientConfig builds the handshake configuration.
func (c *Config) ClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.DialTimeout,
	}, nil
}

// Address returns host:port, bracketing IPv6 hosts.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
