package policy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Loader reads fault policies from disk. A .rego file is one enabled policy
// named after the file; a .json file holds a full Policy definition.
type Loader struct {
	logger zerolog.Logger

	// ReloadDelay is how long the watcher waits for a burst of file events
	// to settle before reloading.
	ReloadDelay time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewLoader returns a Loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:      logger.With().Str("component", "policy-loader").Logger(),
		ReloadDelay: 500 * time.Millisecond,
	}
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

// LoadFromPaths loads every policy file named by paths. Directories are
// walked recursively and unreadable files inside them are skipped; a file
// named directly must load.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if path != root && !isPolicyFile(path) {
				return nil
			}

			p, err := l.loadFromFile(ctx, path)
			switch {
			case err == nil:
				policies = append(policies, *p)
			case path == root:
				return err
			default:
				l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", root, err)
		}
	}

	l.logger.Debug().Int("policies", len(policies)).Strs("paths", paths).Msg("Policies loaded")
	return policies, nil
}

func (l *Loader) loadFromFile(_ context.Context, path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Policy
	switch filepath.Ext(path) {
	case ".rego":
		p = Policy{
			Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
			Description: leadingComment(string(data)),
			Rego:        string(data),
			Enabled:     true,
			Tags:        []string{},
		}
	case ".json":
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid policy %s: %w", path, err)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("policy %s has no name", path)
		}
	default:
		return nil, fmt.Errorf("unsupported policy file %s", path)
	}
	p.Source = path

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy loaded")
	return &p, nil
}

// leadingComment joins the comment lines heading a Rego module.
func leadingComment(src string) string {
	var parts []string
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		text, ok := strings.CutPrefix(line, "#")
		if !ok {
			break
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Watch calls reload with freshly loaded policies after a policy file under
// paths is created or written, until ctx is done or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range paths {
		if err := addWatches(watcher, path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Not watching policy path")
		}
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.watch(ctx, watcher, paths, reload)
	l.logger.Info().Strs("paths", paths).Msg("Watching fault policies")
	return nil
}

// addWatches watches every directory under a directory path, or the parent
// of a file path since editors replace files instead of writing them.
func addWatches(w *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return w.Add(p)
	})
}

func (l *Loader) watch(ctx context.Context, w *fsnotify.Watcher, paths []string, reload func([]Policy) error) {
	settle := time.NewTimer(0)
	<-settle.C
	defer func() {
		settle.Stop()
		_ = w.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) || !isPolicyFile(event.Name) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Stringer("op", event.Op).Msg("Policy file changed")
			settle.Reset(l.ReloadDelay)

		case <-settle.C:
			if err := l.reload(ctx, paths, reload); err != nil {
				l.logger.Error().Err(err).Msg("Keeping previous fault policies")
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Warn().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	if err := apply(policies); err != nil {
		return fmt.Errorf("failed to apply policies: %w", err)
	}
	l.logger.Info().Int("policies", len(policies)).Msg("Fault policies reloaded")
	return nil
}

// StopWatching closes the watcher started by Watch.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	if errors.Is(err, fsnotify.ErrClosed) {
		return nil
	}
	return err
}
