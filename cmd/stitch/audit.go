// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/invowk/stitch/internal/audit"
	"github.com/invowk/stitch/internal/config"
	"github.com/invowk/stitch/internal/issue"
	"github.com/invowk/stitch/internal/resolver"
)

// httpRetryMax bounds retries of module requests in --url mode.
const httpRetryMax = 2

type auditOptions struct {
	debug        bool
	json         bool
	reuseBuild   bool
	load         string
	save         string
	url          string
	filter       string
	createFilter string
}

func newAuditCommand(app *App, root *rootOptions) *cobra.Command {
	opts := &auditOptions{}
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check that every import in the build output resolves",
		Long: `Check that every import in the build output resolves.

stitch audit builds the app (unless --reuse-build), then walks the output from
its entry module. Unresolvable dependencies, imports of names a module does
not export and files that fail to parse are reported as findings.

The command exits 0 only when no finding remains after filtering.`,
		Example: `  stitch audit
  stitch audit --reuse-build --json > audit.json
  stitch audit --url http://localhost:4200/
  stitch audit pretty --markdown < audit.json
  stitch audit acknowledge < audit.json > audit-filter.js`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAudit(cmd.Context(), app, root, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "log every module visited and print module counts by state")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&opts.reuseBuild, "reuse-build", false, "audit the existing output directory without building")
	cmd.Flags().StringVar(&opts.load, "load", "", "load a result saved with --save instead of auditing")
	cmd.Flags().StringVar(&opts.save, "save", "", "save the unfiltered result as JSON")
	cmd.Flags().StringVar(&opts.url, "url", "", "audit a running app at this base URL instead of the output directory")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "filter module silencing acknowledged findings (default is audit.filter)")
	cmd.Flags().StringVar(&opts.createFilter, "create-filter", "", "write a filter module acknowledging every remaining finding")
	cmd.MarkFlagsMutuallyExclusive("load", "url")

	cmd.AddCommand(newAuditPrettyCommand(app), newAuditAcknowledgeCommand(app))
	return cmd
}

func runAudit(ctx context.Context, app *App, root *rootOptions, opts *auditOptions) error {
	cfg, err := app.loadConfig(ctx, root)
	if err != nil {
		return err
	}
	logger := app.newLogger(cfg, root.verbose || opts.debug)

	res, err := app.auditResult(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	if opts.save != "" {
		if err := app.writeResult(opts.save, res); err != nil {
			return err
		}
		logger.Info("saved audit result", "file", opts.save)
	}

	filterPath := opts.filter
	if filterPath == "" && cfg.Audit.Filter != "" {
		filterPath = underRoot(cfg.AppRoot, cfg.Audit.Filter)
	}
	if res, err = app.applyFilter(res, filterPath); err != nil {
		return err
	}

	if opts.createFilter != "" {
		src, err := audit.Acknowledge(res.Findings)
		if err != nil {
			return err
		}
		if err := afero.WriteFile(app.FS, opts.createFilter, src, 0o644); err != nil {
			return actionable(err, "write audit filter", opts.createFilter)
		}
		logger.Info("acknowledged findings", "count", len(res.Findings), "file", opts.createFilter)
		return nil
	}

	if opts.json {
		if err := audit.WriteJSON(app.stdout, res); err != nil {
			return err
		}
	} else {
		fmt.Fprint(app.stdout, res.HumanReadable())
		if opts.debug {
			writeStateCounts(app.stdout, res.Summary)
		}
	}

	if len(res.Findings) == 0 {
		if !opts.json {
			fmt.Fprintln(app.stderr, SuccessStyle.Render("Audit passed"))
		}
		return nil
	}
	return &ExitError{Code: 1, Err: issue.NewErrorContext().
		WithOperation("audit build output").
		WithResource(fmt.Sprintf("%d finding(s)", len(res.Findings))).
		WithSuggestion("Run stitch audit acknowledge to silence findings you accept").
		WithIssue(issue.AuditFindingsId).
		BuildError()}
}

// auditResult loads a saved result, audits a running app, or builds and
// audits the output directory.
func (a *App) auditResult(ctx context.Context, cfg *config.Config, logger *log.Logger, opts *auditOptions) (*audit.Result, error) {
	if opts.load != "" {
		data, err := afero.ReadFile(a.FS, opts.load)
		if err != nil {
			return nil, actionable(err, "load audit result", opts.load)
		}
		return audit.ReadResult(bytes.NewReader(data))
	}

	if opts.url != "" {
		host, err := audit.NewHTTPHost(opts.url, audit.HTTPHostOptions{RetryMax: httpRetryMax, Logger: logger})
		if err != nil {
			return nil, actionable(err, "audit app", opts.url)
		}
		res, err := audit.Run(ctx, audit.Options{Host: host, Entrypoints: []string{host.Entrypoint()}, Logger: logger})
		if err != nil {
			return nil, actionable(err, "audit app", opts.url)
		}
		return res, nil
	}

	ws, err := a.newWorkspace(cfg, logger, false)
	if err != nil {
		return nil, err
	}
	outDir, err := ws.outDir("")
	if err != nil {
		return nil, err
	}
	if !opts.reuseBuild {
		b, err := newBundler(ws, outDir)
		if err != nil {
			return nil, err
		}
		built, err := b.Build(ctx)
		if err != nil {
			return nil, buildError(err, cfg.Build.Main)
		}
		logger.Info("built app", "files", len(built.Outputs), "out", relToRoot(cfg.AppRoot, outDir))
	}

	entry, err := auditEntrypoint(a.FS, outDir)
	if err != nil {
		return nil, err
	}
	host := audit.NewFSHost(audit.FSHostOptions{
		FS:   a.FS,
		Root: outDir,
		Bare: bareResolver(ws.resolver),
	})
	res, err := audit.Run(ctx, audit.Options{Host: host, Entrypoints: []string{host.Entrypoint(entry)}, Logger: logger})
	if err != nil {
		return nil, actionable(err, "audit build output", outDir)
	}
	return res, nil
}

// auditEntrypoint picks the module the audit starts from: index.html when
// the output has one, the bundle entry otherwise.
func auditEntrypoint(fsys afero.Fs, outDir string) (string, error) {
	for _, candidate := range []string{"index.html", "assets/app.js"} {
		if ok, _ := afero.Exists(fsys, filepath.Join(outDir, filepath.FromSlash(candidate))); ok {
			return candidate, nil
		}
	}
	return "", issue.NewErrorContext().
		WithOperation("find build output").
		WithResource(outDir).
		WithSuggestion("Run stitch build first, or drop --reuse-build").
		Wrap(errors.New("neither index.html nor assets/app.js exists")).
		BuildError()
}

// bareResolver answers package specifiers in the build output with the
// app's resolver. Anything the resolver does not find on disk is provided
// at runtime, except outright misses.
func bareResolver(r *resolver.Resolver) audit.BareResolver {
	return func(ctx context.Context, specifier, fromFile string) (audit.Target, error) {
		res, err := r.Resolve(ctx, resolver.NewRequest(specifier, fromFile, nil))
		if err != nil {
			return audit.Target{}, err
		}
		switch v := res.(type) {
		case resolver.Found:
			return audit.Target{Kind: audit.TargetModule, ID: v.Filename}, nil
		case resolver.NotFound:
			return audit.Target{Kind: audit.TargetMissing}, nil
		default:
			return audit.Target{Kind: audit.TargetExternal}, nil
		}
	}
}

func (a *App) applyFilter(res *audit.Result, path string) (*audit.Result, error) {
	if path == "" {
		return res, nil
	}
	f, err := audit.LoadFilter(a.FS, path)
	if err != nil {
		return nil, actionable(err, "load audit filter", path,
			"Regenerate the filter with stitch audit --create-filter")
	}
	return res.WithFindings(f.Apply(res.Findings)), nil
}

func (a *App) writeResult(path string, res *audit.Result) error {
	var buf bytes.Buffer
	if err := audit.WriteJSON(&buf, res); err != nil {
		return err
	}
	if err := afero.WriteFile(a.FS, path, buf.Bytes(), 0o644); err != nil {
		return actionable(err, "save audit result", path)
	}
	return nil
}

func writeStateCounts(w io.Writer, s audit.Summary) {
	fmt.Fprintln(w, SubtitleStyle.Render("modules by state:"))
	for _, state := range slices.Sorted(maps.Keys(s.CountsByState)) {
		fmt.Fprintf(w, "  %-10s %d\n", state, s.CountsByState[state])
	}
}

type prettyOptions struct {
	filter   string
	markdown bool
}

func newAuditPrettyCommand(app *App) *cobra.Command {
	opts := &prettyOptions{}
	cmd := &cobra.Command{
		Use:   "pretty",
		Short: "Format a saved audit result from stdin",
		Long: `Format a saved audit result from stdin.

Reads the JSON written by stitch audit --json or --save and prints the
findings grouped by file. Always exits 0.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runAuditPretty(opts)
		},
	}
	cmd.Flags().StringVar(&opts.filter, "filter", "", "filter module silencing acknowledged findings")
	cmd.Flags().BoolVar(&opts.markdown, "markdown", false, "render a markdown report")
	return cmd
}

func (a *App) runAuditPretty(opts *prettyOptions) error {
	res, err := audit.ReadResult(a.stdin)
	if err != nil {
		return err
	}
	if res, err = a.applyFilter(res, opts.filter); err != nil {
		return err
	}
	if !opts.markdown {
		fmt.Fprint(a.stdout, res.HumanReadable())
		return nil
	}
	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := renderer.Render(res.Markdown())
	if err != nil {
		return fmt.Errorf("failed to render markdown: %w", err)
	}
	fmt.Fprint(a.stdout, out)
	return nil
}

func newAuditAcknowledgeCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "acknowledge",
		Short: "Write a filter module silencing the findings on stdin",
		Long: `Write a filter module silencing the findings on stdin.

Accepts a saved audit result or a bare JSON array of findings and prints a
module that, passed to --filter, silences exactly those findings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			findings, err := readFindings(app.stdin)
			if err != nil {
				return err
			}
			src, err := audit.Acknowledge(findings)
			if err != nil {
				return err
			}
			_, err = app.stdout.Write(src)
			return err
		},
	}
}

// readFindings accepts either an audit result or a findings array.
func readFindings(r io.Reader) ([]audit.Finding, error) {
	br := bufio.NewReader(r)
	for {
		b, err := br.Peek(1)
		if err != nil {
			return nil, fmt.Errorf("decode findings: %w", err)
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.ReadByte()
			continue
		case '[':
			var findings []audit.Finding
			if err := json.NewDecoder(br).Decode(&findings); err != nil {
				return nil, fmt.Errorf("decode findings: %w", err)
			}
			return findings, nil
		}
		res, err := audit.ReadResult(br)
		if err != nil {
			return nil, err
		}
		return res.Findings, nil
	}
}
