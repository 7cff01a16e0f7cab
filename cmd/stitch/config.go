// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/stitch/internal/config"
)

// newConfigCommand creates the `stitch config` command tree.
func newConfigCommand(app *App, root *rootOptions) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect stitch configuration",
		Long: `Inspect stitch configuration.

Configuration is read from stitch.cue in the app root, or the file passed
with --config. STITCH_* environment variables override file values, for
example STITCH_BUILD_OUTDIR=build.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context(), app, root)
		},
	})
	return cfgCmd
}

// showConfig prints CUE to stdout, so the output can seed a stitch.cue, and
// names its source on stderr.
func showConfig(ctx context.Context, app *App, root *rootOptions) error {
	cfg, err := app.loadConfig(ctx, root)
	if err != nil {
		return err
	}

	source := SubtitleStyle.Render("(using defaults)")
	if cfg.Source != "" {
		source = CmdStyle.Render(cfg.Source)
	}
	fmt.Fprintf(app.stderr, "%s: %s\n", TitleStyle.Render("Config file"), source)

	out, err := config.GenerateCUE(cfg)
	if err != nil {
		return err
	}
	fmt.Fprint(app.stdout, out)
	return nil
}
