package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

// SSHClient implements Transport over a single connection.
type SSHClient struct {
	config *Config
	logger *telemetry.Logger

	mu          sync.Mutex
	client      *ssh.Client
	connectedAt time.Time
}

var _ Transport = (*SSHClient)(nil)

// Option configures an SSHClient.
type Option func(*SSHClient)

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(c *SSHClient) {
		c.logger = l
	}
}

// NewSSHClient validates config and returns an unconnected client.
func NewSSHClient(config *Config, opts ...Option) (*SSHClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &SSHClient{config: config, logger: telemetry.NewNopLogger()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.NewComponentLogger("ssh").WithField("address", config.Address())
	return c, nil
}

// Connect dials the host and performs the SSH handshake. Cancelling ctx
// aborts both. A live connection is reused.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, err := c.config.ClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	addr := c.config.Address()
	c.logger.Debug("Dialing controller")

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	deadline := time.Now().Add(c.config.DialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	stop()
	if err != nil {
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &TransportError{Op: "connect", Err: ctxErr, IsTemporary: true}
		}
		auth := isAuthFailure(err)
		return &TransportError{Op: "connect", Err: err, IsTemporary: !auth, IsAuthError: auth}
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.connectedAt = time.Now()
	c.logger.Info("SSH connection established")
	return nil
}

// isAuthFailure reports handshake failures that retrying cannot fix: the
// credentials or the host key were rejected.
func isAuthFailure(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "knownhosts:")
}

// Disconnect closes the connection. It is a no-op when not connected.
func (c *SSHClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.logger.Debug("SSH connection closed")

	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// IsConnected implements Transport.
func (c *SSHClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// GetConnectionInfo implements Transport.
func (c *SSHClient) GetConnectionInfo() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ConnectionInfo{
		Host:        c.config.Host,
		Port:        c.config.Port,
		User:        c.config.User,
		ConnectedAt: c.connectedAt,
	}
}

func (c *SSHClient) conn() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, &TransportError{Op: "sftp-init", Err: fmt.Errorf("not connected")}
	}
	return c.client, nil
}
