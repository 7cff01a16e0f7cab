// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/invowk/stitch/internal/resolver"
)

type resolveOptions struct {
	from  string
	trace bool
}

func newResolveCommand(app *App, root *rootOptions) *cobra.Command {
	opts := &resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve <specifier>",
		Short: "Show how an import is resolved",
		Long: `Show how an import is resolved.

Prints whether the specifier is found on disk, rendered as a virtual module,
left to the runtime as an external, or not found. With --trace, every rule
that rewrote the request is listed in order.`,
		Example: `  stitch resolve @ember/component --from app/components/card.js
  stitch resolve my-app/helpers/format --trace`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.Context(), app, root, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.from, "from", "", "importing file, relative to the app root (default is build.main)")
	cmd.Flags().BoolVar(&opts.trace, "trace", false, "list every rule that rewrote the request")
	return cmd
}

func runResolve(ctx context.Context, app *App, root *rootOptions, opts *resolveOptions, specifier string) error {
	ws, err := app.openWorkspace(ctx, root, false)
	if err != nil {
		return err
	}
	from := opts.from
	if from == "" {
		from = ws.cfg.Build.Main
	}
	from = underRoot(ws.root, from)

	req := resolver.NewRequest(specifier, from, nil)
	var (
		res   resolver.Resolution
		steps []resolver.Step
	)
	if opts.trace {
		res, steps, err = ws.resolver.ResolveTrace(ctx, req)
	} else {
		res, err = ws.resolver.Resolve(ctx, req)
	}
	if err != nil {
		return actionable(err, "resolve", specifier)
	}

	writeResolution(app.stdout, ws.root, specifier, res)
	if opts.trace {
		writeTrace(app.stdout, ws.root, steps)
	}
	if _, ok := res.(resolver.NotFound); ok {
		return &ExitError{Code: 1}
	}
	return nil
}

func writeResolution(w io.Writer, appRoot, specifier string, res resolver.Resolution) {
	outcome := resolver.Outcome(res)
	var detail string
	switch v := res.(type) {
	case resolver.Found:
		detail = relToRoot(appRoot, v.Filename)
	case resolver.Virtual:
		detail = fmt.Sprintf("%s (%s)", relToRoot(appRoot, v.Filename), v.Descriptor.Kind)
	case resolver.External:
		detail = v.RuntimeName
	case resolver.NotFound:
		if v.Err != nil {
			detail = v.Err.Error()
		}
	}
	style := outcomeStyles[outcome]
	fmt.Fprintf(w, "%s %s %s\n", CmdStyle.Render(specifier), style.Render(outcome), detail)
}

func writeTrace(w io.Writer, appRoot string, steps []resolver.Step) {
	fmt.Fprintln(w, SubtitleStyle.Render("trace:"))
	for i, s := range steps {
		from := s.FromFile
		if from != "" {
			from = relToRoot(appRoot, from)
		}
		fmt.Fprintln(w, VerboseStyle.Render(fmt.Sprintf("  %d. %-10s %s from %s", i+1, s.Name, s.Specifier, from)))
	}
}
