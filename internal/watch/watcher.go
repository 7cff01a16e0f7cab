// SPDX-License-Identifier: MPL-2.0

// Package watch turns filesystem events under an app root into debounced
// rebuild requests, mapping each batch of changed files back to the virtual
// modules that must be regenerated.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"

	"github.com/invowk/stitch/internal/virtual"
)

const defaultDebounce = 200 * time.Millisecond

// defaultIgnores never trigger a rebuild unless a virtual module watches
// them explicitly.
var defaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

var (
	// ErrInvalidConfig is wrapped by Config.Validate failures.
	ErrInvalidConfig = errors.New("invalid watch configuration")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("watcher already running")
)

type (
	// Change is one debounced batch of filesystem events.
	Change struct {
		// Paths are the changed files, absolute and sorted.
		Paths []string
		// Virtual are the rendered virtual modules that depend on any of
		// Paths, sorted.
		Virtual []string
	}

	// Config configures a Watcher.
	Config struct {
		// Root is watched recursively. Defaults to the working directory.
		Root string
		// Patterns select, relative to Root, which files trigger a change.
		// Empty selects every file that is not ignored.
		Patterns []string
		// Ignore adds to the default ignore patterns.
		Ignore   []string
		Debounce time.Duration
		// Registry maps changed paths to virtual modules. Paths it watches
		// outside Root are watched too.
		Registry *virtual.Registry
		OnChange func(ctx context.Context, change Change) error
		Logger   *log.Logger
	}

	// Watcher delivers debounced changes to Config.OnChange.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		root     string
		ignores  []string
		debounce time.Duration
		logger   *log.Logger
		started  atomic.Bool
	}
)

// Validate reports every invalid glob in the configuration.
func (c Config) Validate() error {
	var errs *multierror.Error
	for _, group := range []struct {
		label    string
		patterns []string
	}{{"watch", c.Patterns}, {"ignore", c.Ignore}} {
		for _, p := range group.patterns {
			if p == "" || !doublestar.ValidatePattern(p) {
				errs = multierror.Append(errs, fmt.Errorf("%s pattern %q is not a valid glob", group.label, p))
			}
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// New validates cfg and registers every directory under Root, plus the
// directories of paths the registry watches outside it.
func New(cfg Config) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root := cfg.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		root:     root,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}
	if w.logger == nil {
		w.logger = log.New(io.Discard)
	}

	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	if cfg.Registry != nil {
		for _, p := range cfg.Registry.WatchedPaths() {
			if !w.underRoot(p) {
				w.addPath(p)
			}
		}
	}
	return w, nil
}

// Run delivers changes until ctx is canceled. A batch that arrives while
// OnChange is still running is held and delivered after it returns.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() { _ = w.fsw.Close() }()

	var (
		mu      sync.Mutex
		pending = make(map[string]bool)
		timer   *time.Timer
		busy    atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !busy.CompareAndSwap(false, true) {
			mu.Lock()
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		defer busy.Store(false)

		mu.Lock()
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		clear(pending)
		mu.Unlock()
		if len(paths) == 0 {
			return
		}

		change := w.change(paths)
		w.logger.Debug("files changed", "paths", len(change.Paths), "virtual", len(change.Virtual))
		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, change); err != nil {
				w.logger.Error("change handler failed", "err", err)
			}
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("filesystem event channel closed")
			}
			if evt.Has(fsnotify.Create) {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() && !w.ignored(evt.Name) {
					if err := w.addTree(evt.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "dir", evt.Name, "err", err)
					}
				}
			}
			if !w.relevant(evt.Name) {
				continue
			}

			mu.Lock()
			pending[filepath.Clean(evt.Name)] = true
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("filesystem error channel closed")
			}
			if isFatal(err) {
				return fmt.Errorf("filesystem watcher failed: %w", err)
			}
			w.logger.Warn("filesystem watcher error", "err", err)
		}
	}
}

// change sorts paths and collects the virtual modules they invalidate.
func (w *Watcher) change(paths []string) Change {
	slices.Sort(paths)
	c := Change{Paths: paths}
	if w.cfg.Registry == nil {
		return c
	}
	seen := make(map[string]bool)
	for _, p := range paths {
		for _, v := range w.cfg.Registry.Affected(p) {
			if !seen[v] {
				seen[v] = true
				c.Virtual = append(c.Virtual, v)
			}
		}
	}
	slices.Sort(c.Virtual)
	return c
}

// relevant reports whether a change to path should be delivered. Paths a
// virtual module depends on always are.
func (w *Watcher) relevant(path string) bool {
	if w.cfg.Registry != nil && len(w.cfg.Registry.Affected(path)) > 0 {
		return true
	}
	if w.ignored(path) {
		return false
	}
	if len(w.cfg.Patterns) == 0 {
		return true
	}
	rel, ok := w.rel(path)
	if !ok {
		return false
	}
	for _, p := range w.cfg.Patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (w *Watcher) ignored(path string) bool {
	rel, ok := w.rel(path)
	if !ok {
		return false
	}
	return matchesAny(w.ignores, rel) || matchesAny(w.ignores, rel+"/")
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) underRoot(path string) bool {
	_, ok := w.rel(path)
	return ok
}

// addTree watches dir and every non-ignored directory beneath it.
// Unreadable directories are skipped.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("skipping unreadable path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// addPath watches a directory, or the directory holding a file.
func (w *Watcher) addPath(path string) {
	dir := path
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		dir = filepath.Dir(path)
	}
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Debug("cannot watch path", "path", dir, "err", err)
	}
}

func matchesAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string { return slices.Clone(defaultIgnores) }
