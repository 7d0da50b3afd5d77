package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/fabric/fabrictest"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Faults: []engine.Attributes{
			fabrictest.Record("dn", "topology/pod-1/node-101/sys/fault-F0532", "code", "F0532", "severity", "warning"),
		},
		Devices: []engine.Attributes{
			fabrictest.Record("dn", "topology/pod-1/node-1/sys", "name", "apic1", "role", "controller"),
			fabrictest.Record("dn", "topology/pod-1/node-101/sys", "name", "leaf-101", "role", "leaf"),
		},
		Routes: []engine.Attributes{},
	}
}

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	sqlite, err := Open(ctx, BackendSQLite, filepath.Join(dir, "snapshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		BackendFile:   NewFileStore(filepath.Join(dir, "snapshot.json")),
		BackendSQLite: sqlite,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := store.Exists(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = store.Load(ctx)
			assert.ErrorIs(t, err, ErrNotFound)

			want := testSnapshot()
			require.NoError(t, store.Save(ctx, want))

			ok, err = store.Exists(ctx)
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got)

			// Saving again replaces the snapshot.
			want.Devices = want.Devices[:1]
			require.NoError(t, store.Save(ctx, want))
			got, err = store.Load(ctx)
			require.NoError(t, err)
			assert.Len(t, got.Devices, 1)

			require.NoError(t, store.Delete(ctx))
			_, err = store.Load(ctx)
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting twice is fine.
			require.NoError(t, store.Delete(ctx))
		})
	}
}

func TestFileStore_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshot.json")
	store := NewFileStore(path)
	assert.Equal(t, path, store.Path())

	require.NoError(t, store.Save(context.Background(), testSnapshot()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"faults": [`)
	assert.Contains(t, string(data), `"devices": [`)
	assert.Contains(t, string(data), `"isis_routes": []`)
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path).Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.db")

	store, err := Open(ctx, BackendSQLite, path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, testSnapshot()))
	require.NoError(t, store.Close())

	// Migrations are idempotent and data survives.
	store, err = Open(ctx, BackendSQLite, path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Devices, 2)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, "", filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	_, err = Open(ctx, "etcd", "x")
	assert.EqualError(t, err, "unsupported snapshot backend: etcd")

	_, err = NewSQLiteStore(SQLiteConfig{})
	assert.Error(t, err)
}
