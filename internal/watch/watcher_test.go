// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invowk/stitch/internal/testutil"
	"github.com/invowk/stitch/internal/virtual"
)

// collector records delivered changes.
type collector struct {
	mu      sync.Mutex
	changes []Change
}

func (c *collector) onChange(_ context.Context, change Change) error {
	c.mu.Lock()
	c.changes = append(c.changes, change)
	c.mu.Unlock()
	return nil
}

func (c *collector) paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ch := range c.changes {
		out = append(out, ch.Paths...)
	}
	return out
}

func (c *collector) virtual() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ch := range c.changes {
		out = append(out, ch.Virtual...)
	}
	return out
}

func startWatcher(t *testing.T, cfg Config) *collector {
	t.Helper()

	c := &collector{}
	cfg.OnChange = c.onChange
	if cfg.Debounce == 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	w, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	require.Eventually(t, w.started.Load, time.Second, 10*time.Millisecond)
	return c
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty", Config{}, false},
		{"valid globs", Config{Patterns: []string{"app/**/*.{js,hbs}"}, Ignore: []string{"dist/**"}}, false},
		{"empty pattern", Config{Patterns: []string{""}}, true},
		{"unclosed brace", Config{Patterns: []string{"app/**/*.{js"}}, true},
		{"bad ignore", Config{Ignore: []string{"[abc"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Root: t.TempDir(), Patterns: []string{"{"}})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDefaultIgnoresIsACopy(t *testing.T) {
	t.Parallel()

	ignores := DefaultIgnores()
	require.Contains(t, ignores, "**/node_modules/**")
	ignores[0] = "mutated"
	assert.NotEqual(t, "mutated", DefaultIgnores()[0])
}

func TestWatcherReportsAffectedVirtualModules(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	tmpl := filepath.Join(root, "app", "components", "card.hbs")
	writeFile(t, tmpl, "<p>card</p>\n")

	reg := virtual.NewRegistry()
	d := virtual.TemplateOnly(tmpl, "5.0.0")
	_, err := reg.Load(d.Filename())
	require.NoError(t, err)

	c := startWatcher(t, Config{Root: root, Registry: reg})

	other := filepath.Join(root, "app", "router.js")
	writeFile(t, tmpl, "<p>updated</p>\n")
	writeFile(t, other, "export default 1;\n")

	require.Eventually(t, func() bool {
		paths := c.paths()
		return slices.Contains(paths, tmpl) && slices.Contains(paths, other)
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, c.virtual(), d.Filename())
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	c := startWatcher(t, Config{Root: root})

	dir := filepath.Join(root, "app", "helpers")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// Give the watcher time to register the new directory.
	time.Sleep(200 * time.Millisecond)

	file := filepath.Join(dir, "format.js")
	writeFile(t, file, "export default 1;\n")
	require.Eventually(t, func() bool {
		return slices.Contains(c.paths(), file)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcherFiltersPatternsAndIgnores(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app"), 0o755))

	c := startWatcher(t, Config{Root: root, Patterns: []string{"app/**/*.js"}, Ignore: []string{"app/tmp-*"}})

	writeFile(t, filepath.Join(root, "app", "notes.txt"), "x")
	writeFile(t, filepath.Join(root, "app", "tmp-1.js"), "x")
	writeFile(t, filepath.Join(root, "node_modules", "dep", "index.js"), "x")
	wanted := filepath.Join(root, "app", "app.js")
	writeFile(t, wanted, "export default 1;\n")

	require.Eventually(t, func() bool {
		return slices.Contains(c.paths(), wanted)
	}, 5*time.Second, 20*time.Millisecond)
	for _, p := range c.paths() {
		assert.Equal(t, wanted, p)
	}
}

func TestRunTwiceFails(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Root: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, w.started.Load, time.Second, 10*time.Millisecond)

	require.ErrorIs(t, w.Run(ctx), ErrAlreadyRunning)
	cancel()
	require.NoError(t, <-done)
}

func TestRelevantOutsideRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outside := t.TempDir()
	tmpl := filepath.Join(outside, "card.hbs")
	writeFile(t, tmpl, "x")

	reg := virtual.NewRegistry()
	_, err := reg.Load(virtual.TemplateOnly(tmpl, "5.0.0").Filename())
	require.NoError(t, err)

	w, err := New(Config{Root: root, Registry: reg, Patterns: []string{"app/**"}})
	require.NoError(t, err)
	t.Cleanup(func() { testutil.MustClose(t, w.fsw) })

	assert.True(t, w.relevant(tmpl))
	assert.False(t, w.relevant(filepath.Join(outside, "other.js")))
	assert.True(t, w.relevant(filepath.Join(root, "app", "x.js")))
	assert.False(t, w.relevant(filepath.Join(root, ".git", "HEAD")))
}
