package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

// ErrHalted is the cancellation cause when the halt file is created.
var ErrHalted = errors.New("halt file created")

// watchHaltFile returns a context that is cancelled once path is created.
// The parent directory is watched because path does not exist yet.
func watchHaltFile(ctx context.Context, path string, logger *telemetry.Logger) (context.Context, func() error, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid halt file %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err == nil {
		return nil, nil, fmt.Errorf("halt file %s already exists, remove it before starting", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, nil, fmt.Errorf("failed to watch halt file %s: %w", path, err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	logger = logger.WithField("halt_file", abs)
	logger.Info("Watching for halt file")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					logger.Warn("Halt file created, aborting upgrade...")
					cancel(ErrHalted)
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Halt file watcher error")
			}
		}
	}()

	stop := func() error {
		cancel(nil)
		return watcher.Close()
	}
	return ctx, stop, nil
}
