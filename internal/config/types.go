// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
)

const (
	// LogLevelDebug logs every rule that fires.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default.
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"

	defaultOutDir   = "dist"
	defaultMain     = "app/app.js"
	defaultDebounce = 200 * time.Millisecond
)

// defaultEntrypoints mirrors the bundler's app module patterns.
var defaultEntrypoints = []string{"app/**/*.{js,mjs,hbs}"}

var (
	// ErrInvalidLogLevel is returned for an unrecognized log level.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidGlob is returned for a malformed doublestar pattern.
	ErrInvalidGlob = errors.New("invalid glob")
	// ErrInvalidEngine is returned for an engine missing its name or root.
	ErrInvalidEngine = errors.New("invalid engine")
	// ErrInvalidExtension is returned for a resolvable extension without a
	// leading dot.
	ErrInvalidExtension = errors.New("invalid resolvable extension")
	// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum level logged.
	LogLevel string

	// InvalidConfigError collects every field error of a Config. It wraps
	// ErrInvalidConfig for errors.Is() and each field error for errors.As().
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Engine is an Ember engine whose app tree is scoped to its own addons.
	Engine struct {
		PackageName  string   `json:"packageName" mapstructure:"packageName"`
		Root         string   `json:"root" mapstructure:"root"`
		IsLazy       bool     `json:"isLazy,omitempty" mapstructure:"isLazy"`
		ActiveAddons []string `json:"activeAddons,omitempty" mapstructure:"activeAddons"`
	}

	// ExtraImport injects Imports into every file matching the File glob.
	ExtraImport struct {
		File    string   `json:"file" mapstructure:"file"`
		Imports []string `json:"imports" mapstructure:"imports"`
	}

	// LogConfig configures logging.
	LogConfig struct {
		Level LogLevel `json:"level" mapstructure:"level"`
	}

	// AuditConfig configures stitch audit.
	AuditConfig struct {
		// Filter is a filter module silencing acknowledged findings.
		Filter string `json:"filter,omitempty" mapstructure:"filter"`
	}

	// BuildConfig configures stitch build.
	BuildConfig struct {
		// OutDir is relative to the app root unless absolute.
		OutDir string `json:"outDir" mapstructure:"outDir"`
		// Main is the boot module, relative to the app root.
		Main        string   `json:"main" mapstructure:"main"`
		Entrypoints []string `json:"entrypoints" mapstructure:"entrypoints"`
		Minify      bool     `json:"minify" mapstructure:"minify"`
		Sourcemap   bool     `json:"sourcemap" mapstructure:"sourcemap"`
	}

	// WatchConfig configures stitch build --watch.
	WatchConfig struct {
		Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
	}

	// Config holds the stitch configuration.
	Config struct {
		// AppRoot is the directory holding the app's package.json. Relative
		// values are resolved against the configuration file's directory.
		AppRoot         string `json:"appRoot" mapstructure:"appRoot"`
		ModulePrefix    string `json:"modulePrefix,omitempty" mapstructure:"modulePrefix"`
		PodModulePrefix string `json:"podModulePrefix,omitempty" mapstructure:"podModulePrefix"`

		RenamePackages map[string]string `json:"renamePackages,omitempty" mapstructure:"renamePackages"`
		RenameModules  map[string]string `json:"renameModules,omitempty" mapstructure:"renameModules"`

		ActiveAddons map[string]string `json:"activeAddons,omitempty" mapstructure:"activeAddons"`
		Engines      []Engine          `json:"engines,omitempty" mapstructure:"engines"`

		Externals            []string `json:"externals,omitempty" mapstructure:"externals"`
		AllowRuntimeFailure  []string `json:"allowRuntimeFailure,omitempty" mapstructure:"allowRuntimeFailure"`
		ResolvableExtensions []string `json:"resolvableExtensions,omitempty" mapstructure:"resolvableExtensions"`

		StaticComponents             bool `json:"staticComponents" mapstructure:"staticComponents"`
		StaticHelpers                bool `json:"staticHelpers" mapstructure:"staticHelpers"`
		StaticModifiers              bool `json:"staticModifiers" mapstructure:"staticModifiers"`
		AllowUnsafeDynamicComponents bool `json:"allowUnsafeDynamicComponents" mapstructure:"allowUnsafeDynamicComponents"`

		ExternalsDir string        `json:"externalsDir,omitempty" mapstructure:"externalsDir"`
		ExtraImports []ExtraImport `json:"extraImports,omitempty" mapstructure:"extraImports"`
		EmberVersion string        `json:"emberVersion,omitempty" mapstructure:"emberVersion"`

		Log   LogConfig   `json:"log" mapstructure:"log"`
		Audit AuditConfig `json:"audit" mapstructure:"audit"`
		Build BuildConfig `json:"build" mapstructure:"build"`
		Watch WatchConfig `json:"watch" mapstructure:"watch"`

		// Source is the file the configuration was read from, empty when only
		// defaults and the environment applied.
		Source string `json:"-" mapstructure:"-"`
	}
)

// DefaultConfig returns the configuration used when stitch.cue is absent.
func DefaultConfig() *Config {
	return &Config{
		AppRoot: ".",
		Log:     LogConfig{Level: LogLevelInfo},
		Build: BuildConfig{
			OutDir:      defaultOutDir,
			Main:        defaultMain,
			Entrypoints: append([]string(nil), defaultEntrypoints...),
		},
		Watch: WatchConfig{Debounce: defaultDebounce},
	}
}

// Level converts the level to a charmbracelet/log level.
func (l LogLevel) Level() (log.Level, error) {
	lvl, err := log.ParseLevel(string(l))
	if err != nil || l == "" {
		return log.InfoLevel, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l)
	}
	return lvl, nil
}

// Validate checks the constraints the schema cannot express: glob syntax,
// durations and engine completeness. Values from STITCH_* variables never
// pass through the schema, so they are checked here too.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Log.Level.Level(); err != nil {
		errs = append(errs, err)
	}
	globs := map[string][]string{
		"allowRuntimeFailure": c.AllowRuntimeFailure,
		"externals":           c.Externals,
		"build.entrypoints":   c.Build.Entrypoints,
	}
	for i, extra := range c.ExtraImports {
		globs[fmt.Sprintf("extraImports[%d].file", i)] = []string{extra.File}
	}
	for _, field := range sortedKeys(globs) {
		for _, p := range globs[field] {
			if p == "" || !doublestar.ValidatePattern(p) {
				errs = append(errs, fmt.Errorf("%w in %s: %q", ErrInvalidGlob, field, p))
			}
		}
	}
	for i, e := range c.Engines {
		if strings.TrimSpace(e.PackageName) == "" || strings.TrimSpace(e.Root) == "" {
			errs = append(errs, fmt.Errorf("%w: engines[%d] needs packageName and root", ErrInvalidEngine, i))
		}
	}
	for _, ext := range c.ResolvableExtensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidExtension, ext))
		}
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Error lists every field error.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig followed by the field errors.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
