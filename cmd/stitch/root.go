// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for stitch.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/invowk/stitch/internal/issue"
)

// glamourStyle renders issue guidance in verbose error output.
const glamourStyle = "dark"

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	verbose    bool
	configPath string
	appRoot    string
}

// NewRootCommand builds the stitch command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "stitch",
		Short: "Resolve, build and audit classic Ember apps with esbuild",
		Long: TitleStyle.Render("stitch") + SubtitleStyle.Render(" - a compatibility layer between classic Ember apps and esbuild") + `

stitch answers every import a classic Ember app makes, including the ones the
runtime loader used to satisfy: renamed packages, app-tree merging from addons,
template invokables and runtime externals. It then bundles the app with esbuild
and audits the output for imports that would fail in the browser.

` + SubtitleStyle.Render("Examples:") + `
  stitch build                       Bundle the app into dist/
  stitch build --watch               Rebuild on every change
  stitch resolve lodash --from app/app.js --trace
  stitch templates app/templates/application.hbs
  stitch audit --reuse-build         Audit the existing dist/
  stitch config show                 Show the effective configuration`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging and full error chains")
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is <app>/stitch.cue)")
	rootCmd.PersistentFlags().StringVar(&opts.appRoot, "app", "", "app root holding package.json (default is the working directory)")

	rootCmd.AddCommand(
		newBuildCommand(app, opts),
		newResolveCommand(app, opts),
		newTemplatesCommand(app, opts),
		newAuditCommand(app, opts),
		newConfigCommand(app, opts),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	rootCmd := NewRootCommand(app)
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(errorHandler(isVerbose(rootCmd))),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

func isVerbose(rootCmd *cobra.Command) func() bool {
	return func() bool {
		v, err := rootCmd.PersistentFlags().GetBool("verbose")
		return err == nil && v
	}
}

// errorHandler prints command failures. Exit errors without a cause were
// already reported by the command; actionable errors get their suggestions
// and, in verbose mode, the linked guidance.
func errorHandler(verbose func() bool) fang.ErrorHandler {
	return func(w io.Writer, styles fang.Styles, err error) {
		var exitErr *ExitError
		if errors.As(err, &exitErr) && exitErr.Err == nil {
			return
		}
		var ae *issue.ActionableError
		if !errors.As(err, &ae) {
			fang.DefaultErrorHandler(w, styles, err)
			return
		}
		fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose()))
		if !verbose() {
			return
		}
		if guidance, gErr := ae.Guidance(glamourStyle); gErr == nil && guidance != "" {
			fmt.Fprint(w, guidance)
		}
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
