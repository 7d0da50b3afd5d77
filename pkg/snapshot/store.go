package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when no snapshot has been stored yet.
var ErrNotFound = errors.New("snapshot not found")

// Store persists the single snapshot of a fabric.
type Store interface {
	// Load returns the stored snapshot or ErrNotFound.
	Load(ctx context.Context) (*Snapshot, error)

	// Save stores the snapshot, replacing any previous one.
	Save(ctx context.Context, s *Snapshot) error

	// Delete removes the stored snapshot. Deleting nothing is not an error.
	Delete(ctx context.Context) error

	// Exists reports whether a snapshot is stored.
	Exists(ctx context.Context) (bool, error)

	// Close releases the resources of the store.
	Close() error
}

// Backend names.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open opens the store of the given backend at path.
func Open(ctx context.Context, backend, path string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(path), nil
	case BackendSQLite:
		s, err := NewSQLiteStore(SQLiteConfig{Path: path})
		if err != nil {
			return nil, err
		}
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported snapshot backend: %s", backend)
	}
}

// FileStore keeps the snapshot as an indented JSON document.
type FileStore struct {
	path string
}

// NewFileStore creates a file store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file path.
func (f *FileStore) Path() string {
	return f.path
}

// Load implements Store.
func (f *FileStore) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", f.path, err)
	}
	return &s, nil
}

// Save implements Store.
func (f *FileStore) Save(_ context.Context, s *Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Delete implements Store.
func (f *FileStore) Delete(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Exists implements Store.
func (f *FileStore) Exists(_ context.Context) (bool, error) {
	_, err := os.Stat(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close implements Store.
func (f *FileStore) Close() error {
	return nil
}
