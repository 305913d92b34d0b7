// SPDX-License-Identifier: MPL-2.0

package compiler

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is the quiet period after the last filesystem event before
// an emission pass re-runs. Editors often write, then rename a temp file;
// the window folds that burst into one pass.
const defaultDebounce = 500 * time.Millisecond

type (
	// WatchConfig configures a WatchDriver.
	WatchConfig struct {
		// Service runs one emission pass per change burst.
		Service Service

		// Dirs are the package directories to watch recursively.
		Dirs []string

		// ExtraFiles are loose watched files outside any package. Events on
		// them re-trigger emission like any source change.
		ExtraFiles []string

		// Debounce is the quiet period before re-emitting. Zero or negative
		// falls back to defaultDebounce.
		Debounce time.Duration

		// Logger receives diagnostics and pass status. nil defaults to a
		// stderr logger.
		Logger *log.Logger
	}

	// WatchDriver turns a batch Service into a continuous one: it runs an
	// initial emission, then re-runs the same request whenever watched
	// sources change. Diagnostics are logged, never returned; the session
	// stays alive and retries on the next change. Run must be called exactly
	// once.
	WatchDriver struct {
		cfg      WatchConfig
		fsw      *fsnotify.Watcher
		extra    map[string]struct{}
		debounce time.Duration
		logger   *log.Logger
		started  atomic.Bool
	}
)

// NewWatchDriver initializes the fsnotify watcher and registers every
// directory under cfg.Dirs.
func NewWatchDriver(cfg WatchConfig) (*WatchDriver, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("compiler: watch driver needs a service")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("compiler: create fsnotify watcher: %w", err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "watch"})
	}

	extra := make(map[string]struct{}, len(cfg.ExtraFiles))
	for _, f := range cfg.ExtraFiles {
		extra[filepath.Clean(f)] = struct{}{}
	}

	d := &WatchDriver{
		cfg:      cfg,
		fsw:      fsw,
		extra:    extra,
		debounce: debounce,
		logger:   logger,
	}

	for _, dir := range cfg.Dirs {
		if err := d.addTree(dir); err != nil {
			fsw.Close() //nolint:errcheck // best-effort cleanup
			return nil, err
		}
	}
	for f := range extra {
		if err := fsw.Add(filepath.Dir(f)); err != nil {
			fsw.Close() //nolint:errcheck // best-effort cleanup
			return nil, fmt.Errorf("compiler: watch %q: %w", f, err)
		}
	}

	return d, nil
}

// addTree registers dir and every subdirectory with the watcher.
func (d *WatchDriver) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("compiler: walk %q: %w", path, err)
		}
		if !entry.IsDir() {
			return nil
		}
		if base := entry.Name(); base == "dist" || base == "node_modules" || strings.HasPrefix(base, ".") && path != dir {
			return filepath.SkipDir
		}
		if err := d.fsw.Add(path); err != nil {
			return fmt.Errorf("compiler: watch %q: %w", path, err)
		}
		return nil
	})
}

// relevant reports whether an event path should re-trigger emission: sources
// under watched trees plus the extra watched files. Compiled outputs written
// back into the tree (pass-through copies, test artifacts) must not loop.
func (d *WatchDriver) relevant(path string) bool {
	clean := filepath.Clean(path)
	if _, ok := d.extra[clean]; ok {
		return true
	}
	if strings.HasSuffix(clean, ".d.ts") {
		return false
	}
	return strings.HasSuffix(clean, ".ts")
}

// Run performs the initial emission, then blocks until ctx is cancelled,
// re-emitting after each debounced change burst. A second call returns an
// error immediately.
func (d *WatchDriver) Run(ctx context.Context, req Request, io FileIO) error {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("compiler: Run called more than once")
	}
	defer func() {
		if err := d.fsw.Close(); err != nil {
			d.logger.Error("close fsnotify", "err", err)
		}
	}()

	d.emit(ctx, req, io)

	var (
		mu      sync.Mutex
		timer   *time.Timer
		running atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			// An emission pass is still in flight; re-arm so this burst is
			// not silently dropped.
			mu.Lock()
			if timer != nil {
				timer.Reset(d.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)
		d.emit(ctx, req, io)
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return nil

		case evt, ok := <-d.fsw.Events:
			if !ok {
				return fmt.Errorf("compiler: fsnotify event channel closed")
			}
			if evt.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					if err := d.addTree(evt.Name); err != nil {
						d.logger.Error("watch new directory", "path", evt.Name, "err", err)
					}
					continue
				}
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !d.relevant(evt.Name) {
				continue
			}
			mu.Lock()
			if timer == nil {
				timer = time.AfterFunc(d.debounce, fire)
			} else {
				timer.Reset(d.debounce)
			}
			mu.Unlock()

		case err, ok := <-d.fsw.Errors:
			if !ok {
				return fmt.Errorf("compiler: fsnotify error channel closed")
			}
			d.logger.Error("fsnotify", "err", err)
		}
	}
}

// emit runs one pass and logs its diagnostics. Failures never end the watch
// session; the next change retries.
func (d *WatchDriver) emit(ctx context.Context, req Request, io FileIO) {
	start := time.Now()
	diags, err := d.cfg.Service.Emit(ctx, req, io)
	for _, diag := range diags {
		switch diag.Severity {
		case SeverityError:
			d.logger.Error(diag.String())
		case SeverityWarning:
			d.logger.Warn(diag.String())
		default:
			d.logger.Info(diag.String())
		}
	}
	switch {
	case err != nil:
		d.logger.Error("emission failed", "err", err)
	case HasBlocking(diags):
		d.logger.Error("emission blocked by errors", "count", len(diags))
	default:
		d.logger.Info("emission complete", "took", time.Since(start).Round(time.Millisecond))
	}
}
