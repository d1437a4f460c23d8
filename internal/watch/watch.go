// Package watch triggers re-indexing when the documents directory changes.
// It watches the whole directory tree with fsnotify, picks up subdirectories
// created after startup, and coalesces bursts of events (an editor save, a
// bulk copy) into a single callback after a quiet period.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/leann-go/internal/logging"
)

// DefaultDebounce is the quiet period after the last relevant event before
// the callback fires.
const DefaultDebounce = 2 * time.Second

// Config controls a Watcher.
type Config struct {
	// Debounce is the quiet period before OnChange runs.
	// Defaults to DefaultDebounce if zero.
	Debounce time.Duration

	// Extensions limits file events to these extensions (lower-case, with
	// the leading dot). Empty means every file is relevant.
	Extensions []string
}

// Watcher observes a directory tree and calls a function after changes.
type Watcher struct {
	// root is the watched directory.
	root string

	// onChange runs once per debounced burst of relevant events.
	onChange func(ctx context.Context)

	// cfg holds the resolved configuration.
	cfg Config

	// fsw is the underlying notifier.
	fsw *fsnotify.Watcher
}

// New creates a Watcher on root and registers every existing subdirectory.
// The caller must call Run to start delivering callbacks.
func New(root string, onChange func(ctx context.Context), cfg *Config) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("watch: onChange must not be nil")
	}
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	w := &Watcher{root: root, onChange: onChange, cfg: c, fsw: fsw}

	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers callbacks until ctx is cancelled, then closes the watcher.
// Callbacks run on the Run goroutine, so a slow callback delays (but never
// drops) the next one.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	log := logging.FromContext(ctx).With(slog.String("component", "watch"), slog.String("dir", w.root))

	timer := time.NewTimer(w.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()
	pending := false

	log.Info("watching documents directory", slog.Duration("debounce", w.cfg.Debounce))

	for {
		select {
		case <-ctx.Done():
			log.Info("watcher stopped")
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.handleEvent(ctx, ev) {
				continue
			}
			log.Debug("change detected", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			timer.Reset(w.cfg.Debounce)
			pending = true

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", slog.Any("error", err))

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			w.onChange(ctx)
		}
	}
}

// Close stops the watcher without waiting for Run to return.
func (w *Watcher) Close() error {
	if err := w.fsw.Close(); err != nil {
		return fmt.Errorf("watch: close: %w", err)
	}
	return nil
}

// handleEvent reports whether ev should trigger a callback. New directories
// are added to the watch list as a side effect.
func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod || isHidden(ev.Name) {
		return false
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				logging.FromContext(ctx).Warn("failed to watch new directory",
					slog.String("path", ev.Name),
					slog.Any("error", err),
				)
			}
			// Files copied in with the directory may predate the watch.
			return true
		}
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		// The path is gone, so a removed directory can only be recognised by
		// having no extension.
		ext := filepath.Ext(ev.Name)
		return ext == "" || w.relevantExt(ext)
	}

	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
		return w.relevantExt(filepath.Ext(ev.Name))
	}
	return false
}

// relevantExt reports whether files with ext should trigger a callback.
func (w *Watcher) relevantExt(ext string) bool {
	if len(w.cfg.Extensions) == 0 {
		return true
	}
	return slices.Contains(w.cfg.Extensions, strings.ToLower(ext))
}

// addTree watches dir and every non-hidden directory below it.
func (w *Watcher) addTree(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && isHidden(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: add %s: %w", dir, err)
	}
	return nil
}

// isHidden reports whether the base name of path starts with a dot.
func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
