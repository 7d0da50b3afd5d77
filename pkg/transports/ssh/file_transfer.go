package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/pkg/sftp"
)

// DownloadFile implements Transport.
func (c *SSHClient) DownloadFile(ctx context.Context, remotePath string, localPath string) (*FileTransferResult, error) {
	client, err := c.sftp()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	return c.download(ctx, client, remotePath, localPath)
}

// DownloadMatching downloads the regular files of remoteDir whose name
// matches the shell pattern into localDir, in name order.
func (c *SSHClient) DownloadMatching(ctx context.Context, remoteDir, pattern, localDir string) ([]FileTransferResult, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, &TransportError{Op: "download", Err: fmt.Errorf("invalid pattern %q: %w", pattern, err)}
	}

	client, err := c.sftp()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	entries, err := client.ReadDir(remoteDir)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: fmt.Errorf("failed to list %s: %w", remoteDir, err), IsTemporary: true}
	}

	var names []string
	for _, entry := range entries {
		if !entry.Mode().IsRegular() {
			continue
		}
		if ok, _ := filepath.Match(pattern, entry.Name()); ok {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)

	results := make([]FileTransferResult, 0, len(names))
	for _, name := range names {
		res, err := c.download(ctx, client, path.Join(remoteDir, name), filepath.Join(localDir, name))
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

func (c *SSHClient) sftp() (*sftp.Client, error) {
	conn, err := c.conn()
	if err != nil {
		return nil, err
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, &TransportError{Op: "sftp-init", Err: err, IsTemporary: true}
	}
	return client, nil
}

// download copies remotePath to localPath through a temporary file so an
// interrupted transfer never leaves a partial bundle behind.
func (c *SSHClient) download(ctx context.Context, client *sftp.Client, remotePath, localPath string) (*FileTransferResult, error) {
	start := time.Now()

	src, err := client.Open(remotePath)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: fmt.Errorf("failed to open %s: %w", remotePath, err), IsTemporary: true}
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".*")
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hash), &ctxReader{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, &TransportError{Op: "download", Err: fmt.Errorf("failed to copy %s: %w", remotePath, err), IsTemporary: true}
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}

	res := &FileTransferResult{
		RemotePath:       remotePath,
		LocalPath:        localPath,
		BytesTransferred: n,
		Duration:         time.Since(start),
		Checksum:         hex.EncodeToString(hash.Sum(nil)),
	}
	c.logger.WithFields(map[string]interface{}{
		"remote":   remotePath,
		"local":    localPath,
		"bytes":    n,
		"duration": res.Duration.String(),
	}).Debug("File downloaded")
	return res, nil
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
