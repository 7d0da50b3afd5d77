package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

func TestWatchHaltFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HALT")

	ctx, stop, err := watchHaltFile(context.Background(), path, telemetry.NewNopLogger())
	require.NoError(t, err)
	defer stop()

	select {
	case <-ctx.Done():
		t.Fatal("context cancelled before the halt file exists")
	default:
	}

	require.NoError(t, os.WriteFile(path, nil, 0o600))

	select {
	case <-ctx.Done():
		assert.ErrorIs(t, context.Cause(ctx), ErrHalted)
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled after the halt file was created")
	}
}

func TestWatchHaltFile_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()

	ctx, stop, err := watchHaltFile(context.Background(), filepath.Join(dir, "HALT"), telemetry.NewNopLogger())
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "upgrade.log"), []byte("x"), 0o600))

	select {
	case <-ctx.Done():
		t.Fatal("context cancelled by an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchHaltFile_Existing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HALT")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, _, err := watchHaltFile(context.Background(), path, telemetry.NewNopLogger())
	assert.Error(t, err)
}

func TestWatchHaltFile_Stop(t *testing.T) {
	ctx, stop, err := watchHaltFile(context.Background(), filepath.Join(t.TempDir(), "HALT"), telemetry.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, stop())
	<-ctx.Done()
	assert.ErrorIs(t, context.Cause(ctx), context.Canceled)
}
