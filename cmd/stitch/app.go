// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/invowk/stitch/internal/config"
	"github.com/invowk/stitch/internal/resolver"
	"github.com/invowk/stitch/pkg/pkgcache"
)

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer; every command handler receives it.
	App struct {
		Config ConfigProvider
		FS     afero.Fs
		stdin  io.Reader
		stdout io.Writer
		stderr io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config ConfigProvider
		FS     afero.Fs
		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// workspace is one app opened for a command: its configuration, a
	// logger at the configured level and the resolver built from both.
	workspace struct {
		cfg *config.Config
		// root is the app root as the resolver sees it, symlinks resolved.
		root     string
		logger   *log.Logger
		cache    *pkgcache.Cache
		resolver *resolver.Resolver
		// metrics is nil unless the command asked for them.
		metrics *prometheus.Registry
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	return &App{
		Config: deps.Config,
		FS:     deps.FS,
		stdin:  deps.Stdin,
		stdout: deps.Stdout,
		stderr: deps.Stderr,
	}
}

func (a *App) loadConfig(ctx context.Context, opts *rootOptions) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{
		ConfigFilePath: opts.configPath,
		AppRoot:        opts.appRoot,
	})
}

// newLogger logs to stderr at the configured level; --verbose forces debug.
func (a *App) newLogger(cfg *config.Config, verbose bool) *log.Logger {
	level, err := cfg.Log.Level.Level()
	if err != nil {
		level = log.InfoLevel
	}
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{
		Prefix: config.AppName,
		Level:  level,
	})
}

// openWorkspace loads the configuration and builds the package cache and
// resolver for the app it names.
func (a *App) openWorkspace(ctx context.Context, opts *rootOptions, withMetrics bool) (*workspace, error) {
	cfg, err := a.loadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	return a.newWorkspace(cfg, a.newLogger(cfg, opts.verbose), withMetrics)
}

func (a *App) newWorkspace(cfg *config.Config, logger *log.Logger, withMetrics bool) (*workspace, error) {
	ws := &workspace{cfg: cfg, logger: logger}
	if cfg.Source != "" {
		ws.logger.Debug("loaded configuration", "file", cfg.Source)
	}

	// Build and audit in one invocation share the package cache.
	var err error
	ws.cache, err = pkgcache.Shared(config.AppName, cfg.AppRoot, pkgcache.Options{FS: a.FS, Logger: ws.logger})
	if err != nil {
		return nil, appError(err, cfg.AppRoot)
	}

	var metrics *resolver.Metrics
	if withMetrics {
		ws.metrics = prometheus.NewRegistry()
		metrics = resolver.NewMetrics(ws.metrics)
	}
	ws.resolver, err = resolver.New(resolverOptions(cfg, ws.cache, ws.logger, metrics, a.FS))
	if err != nil {
		return nil, appError(err, cfg.AppRoot)
	}
	ws.root = ws.resolver.AppRoot()
	return ws, nil
}

// resolverOptions maps the configuration onto resolver options. Addon,
// engine and shim paths are relative to the app root.
func resolverOptions(cfg *config.Config, cache *pkgcache.Cache, logger *log.Logger, metrics *resolver.Metrics, fsys afero.Fs) resolver.Options {
	opts := resolver.Options{
		Cache:                        cache,
		ModulePrefix:                 cfg.ModulePrefix,
		PodModulePrefix:              cfg.PodModulePrefix,
		RenamePackages:               cfg.RenamePackages,
		RenameModules:                cfg.RenameModules,
		Externals:                    cfg.Externals,
		AllowRuntimeFailure:          cfg.AllowRuntimeFailure,
		ResolvableExtensions:         cfg.ResolvableExtensions,
		EmberVersion:                 cfg.EmberVersion,
		StaticComponents:             cfg.StaticComponents,
		StaticHelpers:                cfg.StaticHelpers,
		StaticModifiers:              cfg.StaticModifiers,
		AllowUnsafeDynamicComponents: cfg.AllowUnsafeDynamicComponents,
		Logger:                       logger,
		Metrics:                      metrics,
		FS:                           fsys,
	}
	if cfg.ExternalsDir != "" {
		opts.ExternalsDir = underRoot(cfg.AppRoot, cfg.ExternalsDir)
	}
	if len(cfg.ActiveAddons) > 0 {
		opts.ActiveAddons = make(map[string]string, len(cfg.ActiveAddons))
		for name, root := range cfg.ActiveAddons {
			opts.ActiveAddons[name] = underRoot(cfg.AppRoot, root)
		}
	}
	for _, e := range cfg.Engines {
		opts.Engines = append(opts.Engines, resolver.EngineConfig{
			PackageName:  e.PackageName,
			Root:         underRoot(cfg.AppRoot, e.Root),
			IsLazy:       e.IsLazy,
			ActiveAddons: e.ActiveAddons,
		})
	}
	for _, extra := range cfg.ExtraImports {
		opts.ExtraImports = append(opts.ExtraImports, resolver.ExtraImport{File: extra.File, Imports: extra.Imports})
	}
	return opts
}

// underRoot resolves p against root unless it is already absolute.
func underRoot(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, filepath.FromSlash(p))
}

// relToRoot renders path relative to root for display. Paths outside root
// are returned unchanged.
func relToRoot(root, path string) string {
	if rel, ok := within(root, path); ok {
		return rel
	}
	return path
}

// outDir is the --out flag relative to the working directory, or the
// configured output directory relative to the app root.
func (ws *workspace) outDir(override string) (string, error) {
	if override == "" {
		return underRoot(ws.root, ws.cfg.Build.OutDir), nil
	}
	abs, err := filepath.Abs(override)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory: %w", err)
	}
	return abs, nil
}
