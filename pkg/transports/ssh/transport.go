// Package ssh copies artifacts such as tech-support bundles off the
// controllers over SFTP.
package ssh

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
)

// Transport copies files off a controller. Errors are *TransportError
// values; Classify maps them onto the engine error classes.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	DownloadFile(ctx context.Context, remotePath string, localPath string) (*FileTransferResult, error)

	// DownloadMatching downloads every regular file of remoteDir whose name
	// matches pattern into localDir.
	DownloadMatching(ctx context.Context, remoteDir, pattern, localDir string) ([]FileTransferResult, error)

	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo describes the current connection.
type ConnectionInfo struct {
	Host        string
	Port        int
	User        string
	ConnectedAt time.Time
}

// FileTransferResult describes one downloaded file.
type FileTransferResult struct {
	RemotePath       string
	LocalPath        string
	BytesTransferred int64
	Duration         time.Duration

	// Checksum is the hex SHA-256 of the local copy.
	Checksum string
}

// TransportError is a failed SSH or SFTP operation.
type TransportError struct {
	Op  string
	Err error

	// IsTemporary marks network failures worth retrying.
	IsTemporary bool

	// IsAuthError marks rejected credentials or host keys.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return "ssh " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// Classify converts a transport error into the matching engine error class.
func Classify(err error) error {
	var te *TransportError
	if !errors.As(err, &te) {
		return err
	}
	switch {
	case te.IsAuthError:
		return engine.NewAuthError("artifact host rejected "+te.Op, te).WithOperation(te.Op)
	case te.IsTemporary:
		return engine.NewTransientError("artifact "+te.Op+" failed", te).WithOperation(te.Op)
	default:
		return engine.NewPermanentError("artifact "+te.Op+" failed", te).WithOperation(te.Op)
	}
}
