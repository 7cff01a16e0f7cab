// SPDX-License-Identifier: MPL-2.0

package bundler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/invowk/stitch/internal/jsscan"
	"github.com/invowk/stitch/internal/resolver"
	"github.com/invowk/stitch/internal/virtual"
)

const (
	pluginName = "stitch"
	// virtualNamespace holds modules rendered from virtual descriptors.
	virtualNamespace = "stitch-virtual"
	fileNamespace    = "file"
)

var (
	// DefaultEntrypoints select the app modules registered by the entrypoint.
	DefaultEntrypoints = []string{"app/**/*.{js,mjs,hbs}"}

	// ErrBuildFailed is returned when esbuild reports errors.
	ErrBuildFailed = errors.New("build failed")
	// ErrBootModuleMissing is returned when Options.Main does not exist.
	ErrBootModuleMissing = errors.New("cannot start build")
	// ErrNoResolver is returned when Options has no Resolver.
	ErrNoResolver = errors.New("bundler requires a resolver")
)

type (
	// Options configures a Bundler.
	Options struct {
		Resolver *resolver.Resolver
		// Registry tracks rendered virtual modules. A fresh one is created
		// when nil.
		Registry *virtual.Registry
		// Entrypoints are doublestar patterns, relative to the app root.
		Entrypoints []string
		// Main is the boot module, relative to the app root.
		Main string
		// OutDir receives the bundle.
		OutDir string
		// Write makes esbuild write OutDir; otherwise outputs stay in memory.
		Write     bool
		Minify    bool
		Sourcemap bool
		Logger    *log.Logger
	}

	// Output is one emitted file.
	Output struct {
		Path     string
		Contents []byte
	}

	// Result is a finished build.
	Result struct {
		// Entrypoint is the virtual filename the build started from.
		Entrypoint string
		Outputs    []Output
		Warnings   []string
	}

	// Bundler drives esbuild with the resolver bound through a plugin.
	Bundler struct {
		opts     Options
		r        *resolver.Resolver
		fs       afero.Fs
		registry *virtual.Registry
		logger   *log.Logger

		// ctx is the context of the build in progress; esbuild callbacks
		// carry none.
		ctx   context.Context
		scans sync.Map // filename -> *jsscan.Result

		mu       sync.Mutex
		failures []error
	}
)

// New creates a Bundler.
func New(opts Options) (*Bundler, error) {
	if opts.Resolver == nil {
		return nil, ErrNoResolver
	}
	if len(opts.Entrypoints) == 0 {
		opts.Entrypoints = DefaultEntrypoints
	}
	if opts.Main == "" {
		opts.Main = "app/app.js"
	}
	if opts.OutDir == "" {
		opts.OutDir = filepath.Join(opts.Resolver.AppRoot(), "dist")
	}
	b := &Bundler{
		opts:     opts,
		r:        opts.Resolver,
		fs:       opts.Resolver.Cache().FS(),
		registry: opts.Registry,
		logger:   opts.Logger,
		ctx:      context.Background(),
	}
	if b.registry == nil {
		b.registry = virtual.NewRegistry()
	}
	if b.logger == nil {
		b.logger = log.New(io.Discard)
	}
	return b, nil
}

// Registry returns the virtual module registry the bundler renders into.
func (b *Bundler) Registry() *virtual.Registry { return b.registry }

// Entrypoint describes the module esbuild starts from: every app module
// matched by the entrypoint patterns registered under its runtime name, then
// the boot module.
func (b *Bundler) Entrypoint() (virtual.Descriptor, error) {
	root := b.r.AppRoot()
	fsys := afero.NewIOFS(afero.NewBasePathFs(b.fs, root))

	var entries []virtual.Entry
	seen := make(map[string]bool)
	for _, pattern := range b.opts.Entrypoints {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return virtual.Descriptor{}, fmt.Errorf("invalid entrypoint pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			file := filepath.Join(root, filepath.FromSlash(m))
			if seen[file] {
				continue
			}
			seen[file] = true
			entries = append(entries, virtual.Entry{RuntimeName: b.moduleName(file), Path: file})
		}
	}
	main := filepath.Join(root, filepath.FromSlash(b.opts.Main))
	if _, err := b.fs.Stat(main); err != nil {
		return virtual.Descriptor{}, fmt.Errorf("%w: boot module %s: %w", ErrBootModuleMissing, b.opts.Main, err)
	}
	return virtual.Entrypoint(root, main, entries, watchDirs(root, b.opts.Entrypoints)), nil
}

// watchDirs returns the static directory prefix of each pattern, so new
// files appearing there regenerate the entrypoint.
func watchDirs(root string, patterns []string) []string {
	var out []string
	for _, p := range patterns {
		base, _ := doublestar.SplitPattern(p)
		out = append(out, filepath.Join(root, filepath.FromSlash(base)))
	}
	return out
}

// BuildOptions returns the esbuild options for building from entry.
func (b *Bundler) BuildOptions(entry string) api.BuildOptions {
	opts := api.BuildOptions{
		EntryPoints:       []string{entry},
		Bundle:            true,
		Outdir:            b.opts.OutDir,
		Write:             b.opts.Write,
		Format:            api.FormatESModule,
		Splitting:         true,
		Platform:          api.PlatformBrowser,
		Target:            api.ES2020,
		AbsWorkingDir:     b.r.AppRoot(),
		LogLevel:          api.LogLevelSilent,
		MinifyWhitespace:  b.opts.Minify,
		MinifyIdentifiers: b.opts.Minify,
		MinifySyntax:      b.opts.Minify,
		EntryNames:        "assets/app",
		ChunkNames:        "assets/chunk-[hash]",
		Plugins:           []api.Plugin{b.Plugin()},
	}
	if b.opts.Sourcemap {
		opts.Sourcemap = api.SourceMapLinked
	}
	return opts
}

// Build bundles the app once.
func (b *Bundler) Build(ctx context.Context) (*Result, error) {
	d, err := b.Entrypoint()
	if err != nil {
		return nil, err
	}
	b.begin(ctx)
	entry := d.Filename()
	b.logger.Debug("building", "entrypoint", entry, "modules", len(d.Entries))
	return b.finish(entry, api.Build(b.BuildOptions(entry)))
}

// Session is an incremental build context for watch mode.
type Session struct {
	b     *Bundler
	entry string
	ctx   api.BuildContext
}

// Session prepares an incremental build. Call Close when done.
func (b *Bundler) Session() (*Session, error) {
	s := &Session{b: b}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) open() error {
	d, err := s.b.Entrypoint()
	if err != nil {
		return err
	}
	ctx, ctxErr := api.Context(s.b.BuildOptions(d.Filename()))
	if ctxErr != nil {
		var errs *multierror.Error
		for _, m := range ctxErr.Errors {
			errs = multierror.Append(errs, errors.New(formatMessage(m)))
		}
		return fmt.Errorf("%w: %w", ErrBuildFailed, errs.ErrorOrNil())
	}
	if s.ctx != nil {
		s.ctx.Dispose()
	}
	s.entry, s.ctx = d.Filename(), ctx
	return nil
}

// Entrypoint returns the virtual filename the session builds from.
func (s *Session) Entrypoint() string { return s.entry }

// Rebuild runs the build again, forgetting the given virtual modules first.
// An invalidated entrypoint is regenerated, since the set of app modules
// may have changed.
func (s *Session) Rebuild(ctx context.Context, invalidated []string) (*Result, error) {
	for _, f := range invalidated {
		s.b.registry.Forget(f)
	}
	if slices.Contains(invalidated, s.entry) {
		if err := s.open(); err != nil {
			return nil, err
		}
	}
	s.b.begin(ctx)
	return s.b.finish(s.entry, s.ctx.Rebuild())
}

// Close releases the esbuild context.
func (s *Session) Close() { s.ctx.Dispose() }

func (b *Bundler) begin(ctx context.Context) {
	b.mu.Lock()
	b.ctx = ctx
	b.failures = nil
	b.mu.Unlock()
}

func (b *Bundler) buildContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

// fail records err so Build returns it with its type intact.
func (b *Bundler) fail(err error) error {
	b.mu.Lock()
	b.failures = append(b.failures, err)
	b.mu.Unlock()
	return err
}

func (b *Bundler) finish(entry string, res api.BuildResult) (*Result, error) {
	b.mu.Lock()
	failures := slices.Clone(b.failures)
	b.mu.Unlock()

	if len(failures) > 0 || len(res.Errors) > 0 {
		var errs *multierror.Error
		for _, f := range failures {
			errs = multierror.Append(errs, f)
		}
		if len(failures) == 0 {
			for _, m := range res.Errors {
				errs = multierror.Append(errs, errors.New(formatMessage(m)))
			}
		}
		return nil, fmt.Errorf("%w: %w", ErrBuildFailed, errs.ErrorOrNil())
	}

	out := &Result{Entrypoint: entry}
	for _, f := range res.OutputFiles {
		out.Outputs = append(out.Outputs, Output{Path: f.Path, Contents: f.Contents})
	}
	for _, m := range res.Warnings {
		out.Warnings = append(out.Warnings, formatMessage(m))
	}
	return out, nil
}

func formatMessage(m api.Message) string {
	if m.Location == nil {
		return m.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text)
}

// moduleName is the runtime name of file: the app's module prefix for files
// under app/, the owning package's name otherwise.
func (b *Bundler) moduleName(file string) string {
	root := b.r.AppRoot()
	if rel, ok := relativeTo(filepath.Join(root, "app"), file); ok {
		return b.r.ModulePrefix() + "/" + trimExt(rel)
	}
	if owner := b.r.Cache().OwnerOfFile(file); owner != nil && !owner.IsApp() {
		if rel, ok := relativeTo(owner.Root(), file); ok {
			return owner.Name() + "/" + trimExt(strings.TrimPrefix(rel, "addon/"))
		}
	}
	rel, ok := relativeTo(root, file)
	if !ok {
		return trimExt(filepath.ToSlash(file))
	}
	return b.r.ModulePrefix() + "/" + trimExt(rel)
}

func relativeTo(dir, file string) (string, bool) {
	rel, err := filepath.Rel(dir, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func trimExt(rel string) string { return strings.TrimSuffix(rel, path.Ext(rel)) }

// importedNames lists the named bindings importer takes from specifier, so
// external shims can surface them.
func (b *Bundler) importedNames(importer, specifier string) []string {
	v, ok := b.scans.Load(importer)
	if !ok {
		return nil
	}
	scanned := v.(*jsscan.Result)
	var names []string
	for _, decl := range scanned.Imports {
		if decl.Source.Specifier != specifier {
			continue
		}
		for _, bnd := range decl.Bindings {
			if bnd.Imported != "default" && bnd.Imported != "*" {
				names = append(names, bnd.Imported)
			}
		}
	}
	for _, decl := range scanned.Exports {
		if decl.Source == nil || decl.Source.Specifier != specifier {
			continue
		}
		for _, n := range decl.Names {
			if n.Local != "default" && n.Local != "*" {
				names = append(names, n.Local)
			}
		}
	}
	return names
}
