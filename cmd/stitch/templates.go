// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/invowk/stitch/internal/template"
)

type (
	templatesOptions struct {
		json bool
	}

	// templateReport is the --json shape of one template.
	templateReport struct {
		File         string            `json:"file"`
		Dependencies []template.Record `json:"dependencies"`
	}
)

func newTemplatesCommand(app *App, root *rootOptions) *cobra.Command {
	opts := &templatesOptions{}
	cmd := &cobra.Command{
		Use:   "templates <file.hbs>...",
		Short: "List the components, helpers and modifiers templates depend on",
		Long: `List the components, helpers and modifiers templates depend on.

Each template is compiled the way stitch build compiles it. Invokables the
resolver answers statically are printed in document order with their runtime
name and implementing module.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplates(cmd.Context(), app, root, opts, args)
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "print dependency records as JSON")
	return cmd
}

func runTemplates(ctx context.Context, app *App, root *rootOptions, opts *templatesOptions, files []string) error {
	ws, err := app.openWorkspace(ctx, root, false)
	if err != nil {
		return err
	}

	reports := make([]templateReport, 0, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", f, err)
		}
		// Package roots are symlink free; the importer must be too.
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		src, err := afero.ReadFile(app.FS, abs)
		if err != nil {
			return actionable(err, "read template", f)
		}
		_, records, err := template.Compile(ctx, string(src), template.CompileOptions{
			FromFile:   abs,
			ModuleName: templateModuleName(ws.root, ws.resolver.ModulePrefix(), abs),
			Resolver:   ws.resolver,
		})
		if err != nil {
			return actionable(err, "compile template", f)
		}
		if records == nil {
			records = []template.Record{}
		}
		reports = append(reports, templateReport{File: relToRoot(ws.root, abs), Dependencies: records})
	}

	if opts.json {
		encoder := json.NewEncoder(app.stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(reports); err != nil {
			return fmt.Errorf("encode template records: %w", err)
		}
		return nil
	}
	for _, r := range reports {
		writeTemplateReport(app.stdout, ws.root, r)
	}
	return nil
}

func writeTemplateReport(w io.Writer, appRoot string, r templateReport) {
	fmt.Fprintln(w, TitleStyle.Render(r.File))
	if len(r.Dependencies) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("  no static dependencies"))
		return
	}
	for _, rec := range r.Dependencies {
		fmt.Fprintf(w, "  %d:%d %-9s %s %s %s\n",
			rec.Loc.Line, rec.Loc.Column,
			string(rec.Kind), CmdStyle.Render(rec.Name),
			rec.RuntimeName, SubtitleStyle.Render(relToRoot(appRoot, rec.Path)))
	}
}

// templateModuleName is the runtime name the build registers file under.
func templateModuleName(appRoot, prefix, file string) string {
	if rel, ok := within(filepath.Join(appRoot, "app"), file); ok {
		return prefix + "/" + strings.TrimSuffix(rel, path.Ext(rel))
	}
	if rel, ok := within(appRoot, file); ok {
		return prefix + "/" + strings.TrimSuffix(rel, path.Ext(rel))
	}
	return strings.TrimSuffix(filepath.ToSlash(file), filepath.Ext(file))
}
