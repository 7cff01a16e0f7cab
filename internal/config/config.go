// SPDX-License-Identifier: MPL-2.0

package config

import (
	"cmp"
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/invowk/stitch/internal/issue"
)

const (
	// AppName is the application name and the environment prefix.
	AppName = "stitch"
	// ConfigFileName is the configuration file looked up in the app root.
	ConfigFileName = "stitch.cue"

	// maxConfigSize bounds the configuration file read into memory.
	maxConfigSize = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// Load reads the configuration for opts using the default provider.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	return NewProvider().Load(ctx, opts)
}

func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	path := opts.ConfigFilePath
	if path == "" {
		candidate := filepath.Join(opts.AppRoot, ConfigFileName)
		if fileExists(candidate) {
			path = candidate
		}
	} else if !fileExists(path) {
		return nil, issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(path).
			WithSuggestion("Verify the path passed with --config").
			WithSuggestion("Run 'stitch config show' to print the defaults").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(fmt.Errorf("config file not found: %s", path)).
			BuildError()
	}

	var keyed caseSensitive
	if path != "" {
		var err error
		if keyed, err = loadCUEIntoViper(v, path); err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify field names and values against 'stitch config show'").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	// Viper lowercases map keys; package and module names keep their case.
	cfg.RenamePackages = keyed.RenamePackages
	cfg.RenameModules = keyed.RenameModules
	cfg.ActiveAddons = keyed.ActiveAddons
	cfg.Source = path

	base := opts.AppRoot
	if path != "" {
		base = filepath.Dir(path)
	}
	if !filepath.IsAbs(cfg.AppRoot) {
		cfg.AppRoot = filepath.Join(base, cfg.AppRoot)
	}
	abs, err := filepath.Abs(cfg.AppRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve app root: %w", err)
	}
	cfg.AppRoot = abs

	if err := cfg.Validate(); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(cmp.Or(path, "environment")).
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}
	return &cfg, nil
}

// caseSensitive holds the map fields decoded straight from CUE.
type caseSensitive struct {
	RenamePackages map[string]string `json:"renamePackages"`
	RenameModules  map[string]string `json:"renameModules"`
	ActiveAddons   map[string]string `json:"activeAddons"`
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("appRoot", d.AppRoot)
	v.SetDefault("modulePrefix", d.ModulePrefix)
	v.SetDefault("podModulePrefix", d.PodModulePrefix)
	v.SetDefault("externals", d.Externals)
	v.SetDefault("allowRuntimeFailure", d.AllowRuntimeFailure)
	v.SetDefault("resolvableExtensions", d.ResolvableExtensions)
	v.SetDefault("staticComponents", d.StaticComponents)
	v.SetDefault("staticHelpers", d.StaticHelpers)
	v.SetDefault("staticModifiers", d.StaticModifiers)
	v.SetDefault("allowUnsafeDynamicComponents", d.AllowUnsafeDynamicComponents)
	v.SetDefault("externalsDir", d.ExternalsDir)
	v.SetDefault("emberVersion", d.EmberVersion)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("audit.filter", d.Audit.Filter)
	v.SetDefault("build.outDir", d.Build.OutDir)
	v.SetDefault("build.main", d.Build.Main)
	v.SetDefault("build.entrypoints", d.Build.Entrypoints)
	v.SetDefault("build.minify", d.Build.Minify)
	v.SetDefault("build.sourcemap", d.Build.Sourcemap)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
}

// loadCUEIntoViper validates the file against #Config and merges it into v.
// Fields stay optional, so the value is validated without requiring
// concreteness.
func loadCUEIntoViper(v *viper.Viper, path string) (caseSensitive, error) {
	var keyed caseSensitive

	data, err := os.ReadFile(path)
	if err != nil {
		return keyed, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxConfigSize {
		return keyed, fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", path, len(data), maxConfigSize)
	}

	ctx := cuecontext.New()
	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return keyed, fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}
	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return keyed, formatCUEError(userValue.Err(), path)
	}

	unified := schemaValue.LookupPath(cue.ParsePath("#Config")).Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return keyed, formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return keyed, formatCUEError(err, path)
	}
	if err := unified.Decode(&keyed); err != nil {
		return keyed, formatCUEError(err, path)
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return keyed, fmt.Errorf("failed to merge config: %w", err)
	}
	return keyed, nil
}

// formatCUEError renders each CUE error as "<file>: <path>: <message>",
// with list indices written as [n].
func formatCUEError(err error, file string) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return fmt.Errorf("%s: %w", file, err)
	}
	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		path := cuePath(cueerrors.Path(e))
		msg := e.Error()
		if path != "" {
			msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, path), ":"))
			msg = path + ": " + msg
		}
		if !slices.Contains(lines, msg) {
			lines = append(lines, msg)
		}
	}
	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", file, lines[0])
	}
	return fmt.Errorf("%s: validation failed:\n  %s", file, strings.Join(lines, "\n  "))
}

func cuePath(parts []string) string {
	var sb strings.Builder
	for i, part := range parts {
		if i > 0 && strings.Trim(part, "0123456789") == "" {
			sb.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			sb.WriteString(".")
		}
		sb.WriteString(part)
	}
	return sb.String()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
