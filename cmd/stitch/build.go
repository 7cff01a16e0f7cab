// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/invowk/stitch/internal/bundler"
	"github.com/invowk/stitch/internal/issue"
	"github.com/invowk/stitch/internal/watch"
)

type buildOptions struct {
	watch   bool
	out     string
	metrics bool
}

func newBuildCommand(app *App, root *rootOptions) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Bundle the app with esbuild",
		Long: `Bundle the app with esbuild.

Every import is answered by the stitch resolver. Templates are compiled on
load and runtime externals become shims. With --watch, stitch rebuilds when
app files or the inputs of a virtual module change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd.Context(), app, root, opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "rebuild on changes until interrupted")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output directory (default is build.outDir)")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "print resolver metrics after each build")
	return cmd
}

func runBuild(ctx context.Context, app *App, root *rootOptions, opts *buildOptions) error {
	ws, err := app.openWorkspace(ctx, root, opts.metrics)
	if err != nil {
		return err
	}
	outDir, err := ws.outDir(opts.out)
	if err != nil {
		return err
	}
	b, err := newBundler(ws, outDir)
	if err != nil {
		return err
	}
	if !opts.watch {
		res, err := b.Build(ctx)
		if err != nil {
			return buildError(err, ws.cfg.Build.Main)
		}
		app.reportBuild(ws, res)
		return app.reportMetrics(ws.metrics)
	}
	return app.watchBuild(ctx, ws, b, outDir)
}

func newBundler(ws *workspace, outDir string) (*bundler.Bundler, error) {
	return bundler.New(bundler.Options{
		Resolver:    ws.resolver,
		Entrypoints: ws.cfg.Build.Entrypoints,
		Main:        ws.cfg.Build.Main,
		OutDir:      outDir,
		Write:       true,
		Minify:      ws.cfg.Build.Minify,
		Sourcemap:   ws.cfg.Build.Sourcemap,
		Logger:      ws.logger,
	})
}

// watchBuild builds once, then rebuilds on every change until ctx is done.
// Rebuild failures are logged and the watcher keeps going.
func (a *App) watchBuild(ctx context.Context, ws *workspace, b *bundler.Bundler, outDir string) error {
	session, err := b.Session()
	if err != nil {
		return buildError(err, ws.cfg.Build.Main)
	}
	defer session.Close()

	rebuild := func(ctx context.Context, invalidated []string) {
		res, err := session.Rebuild(ctx, invalidated)
		if err != nil {
			ws.logger.Error("build failed", "err", err)
			return
		}
		a.reportBuild(ws, res)
		if err := a.reportMetrics(ws.metrics); err != nil {
			ws.logger.Warn("failed to gather metrics", "err", err)
		}
	}
	rebuild(ctx, nil)

	// The build writes these; watching them would rebuild forever.
	var ignore []string
	for _, dir := range []string{outDir, ws.cfg.ExternalsDir} {
		if dir == "" {
			continue
		}
		if rel, ok := within(ws.root, underRoot(ws.root, dir)); ok && rel != "." {
			ignore = append(ignore, rel+"/**")
		}
	}
	w, err := watch.New(watch.Config{
		Root:     ws.root,
		Ignore:   ignore,
		Debounce: ws.cfg.Watch.Debounce,
		Registry: b.Registry(),
		Logger:   ws.logger,
		OnChange: func(ctx context.Context, change watch.Change) error {
			ws.logger.Info("rebuilding", "changed", len(change.Paths), "virtual", len(change.Virtual))
			rebuild(ctx, change.Virtual)
			return nil
		},
	})
	if err != nil {
		return actionable(err, "watch app", ws.root)
	}
	ws.logger.Info("watching for changes", "root", ws.root)
	if err := w.Run(ctx); err != nil {
		return issue.NewErrorContext().
			WithOperation("watch app").
			WithResource(ws.root).
			WithSuggestion("Raise the inotify watch limit or narrow build.entrypoints").
			WithIssue(issue.WatchLimitReachedId).
			Wrap(err).
			BuildError()
	}
	return nil
}

func buildError(err error, main string) error {
	if errors.Is(err, bundler.ErrBootModuleMissing) {
		return issue.NewErrorContext().
			WithOperation("build app").
			WithResource(main).
			WithSuggestion("Set build.main in stitch.cue to the module that boots the app").
			WithIssue(issue.BootModuleMissingId).
			Wrap(err).
			BuildError()
	}
	return actionable(err, "build app", main)
}

func (a *App) reportBuild(ws *workspace, res *bundler.Result) {
	for _, w := range res.Warnings {
		ws.logger.Warn(w)
	}
	for _, out := range res.Outputs {
		fmt.Fprintf(a.stdout, "  %s %s\n", CmdStyle.Render(relToRoot(ws.root, out.Path)),
			SubtitleStyle.Render(formatSize(len(out.Contents))))
	}
	fmt.Fprintln(a.stdout, SuccessStyle.Render(fmt.Sprintf("Built %d file(s)", len(res.Outputs))))
}

// reportMetrics prints every sample in reg. A nil registry prints nothing.
func (a *App) reportMetrics(reg *prometheus.Registry) error {
	if reg == nil {
		return nil
	}
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	writeMetrics(a.stdout, families)
	return nil
}

func writeMetrics(w io.Writer, families []*dto.MetricFamily) {
	fmt.Fprintln(w, TitleStyle.Render("Resolver metrics"))
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("  %s %g", name, m.GetCounter().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				lines = append(lines, fmt.Sprintf("  %s count=%d sum=%.6fs", name, h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}
	slices.Sort(lines)
	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

func formatSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// within reports path relative to dir, if path is inside it.
func within(dir, path string) (string, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
