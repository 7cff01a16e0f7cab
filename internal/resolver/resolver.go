// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/invowk/stitch/internal/virtual"
	"github.com/invowk/stitch/pkg/pkgcache"
)

// maxRedirects bounds rule-driven re-resolution of one request.
const maxRedirects = 32

// ErrRedirectLoop is returned when rules keep redirecting a request.
var ErrRedirectLoop = errors.New("too many resolver redirects")

// runtimeOnlyPackages are provided by the runtime loader rather than npm.
var runtimeOnlyPackages = map[string]bool{
	"ember":             true,
	"rsvp":              true,
	"require":           true,
	"@embroider/macros": true,
}

const (
	outcomeContinue outcomeKind = iota
	outcomeRedirect
	outcomeExternal
	outcomeRuntimeFailure
)

type (
	outcomeKind int

	// outcome is what a rule decides about a request.
	outcome struct {
		kind outcomeKind
		// req is the rewritten request for outcomeRedirect.
		req *Request
		// runtimeName is set for outcomeExternal.
		runtimeName string
	}

	rule struct {
		name  string
		apply func(ctx context.Context, req *Request, owner *pkgcache.Package) (outcome, error)
	}

	// Resolver decides what a host bundler should load for each request.
	Resolver struct {
		opts       Options
		cache      *pkgcache.Cache
		host       Host
		fs         afero.Fs
		logger     *log.Logger
		metrics    *Metrics
		shims      *ShimWriter
		extensions []string

		app *appTree
		// engines are consulted before app for ownership.
		engines []*appTree
		rules   []rule
	}
)

var proceed = outcome{}

func redirect(req *Request) outcome { return outcome{kind: outcomeRedirect, req: req} }

// New builds a Resolver, indexing the app tree of the app and every engine.
func New(opts Options) (*Resolver, error) {
	if opts.Cache == nil {
		return nil, errors.New("resolver requires a package cache")
	}
	r := &Resolver{
		opts:       opts,
		cache:      opts.Cache,
		host:       opts.Host,
		fs:         opts.FS,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		extensions: opts.ResolvableExtensions,
	}
	if len(r.extensions) == 0 {
		r.extensions = DefaultExtensions
	}
	if r.fs == nil {
		r.fs = r.cache.FS()
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard)
	}
	if r.host == nil {
		r.host = NewFSHost(r.cache, r.extensions)
	}
	if opts.ExternalsDir != "" {
		r.shims = NewShimWriter(r.fs, opts.ExternalsDir)
	}

	if err := r.buildTrees(); err != nil {
		return nil, err
	}

	r.rules = []rule{
		{name: "implicit-modules", apply: r.implicitModules},
		{name: "module-rename", apply: r.moduleRename},
		{name: "package-rename", apply: r.packageRename},
		{name: "externals", apply: r.externals},
		{name: "app-tree", apply: r.appTreeRule},
	}
	return r, nil
}

func (r *Resolver) buildTrees() error {
	app, err := r.cache.App()
	if err != nil {
		return fmt.Errorf("failed to load app package: %w", err)
	}
	prefix := r.opts.ModulePrefix
	if prefix == "" {
		prefix = app.Name()
	}
	r.app = newAppTree(prefix, app.Root(), filepath.Join(app.Root(), "app"))

	var addons []*pkgcache.Package
	if len(r.opts.ActiveAddons) == 0 {
		addons, err = discoverAddons(app)
		if err != nil {
			return err
		}
	} else {
		for _, name := range slices.Sorted(maps.Keys(r.opts.ActiveAddons)) {
			pkg, err := r.cache.Get(r.opts.ActiveAddons[name])
			if err != nil {
				return fmt.Errorf("failed to load active addon %s: %w", name, err)
			}
			if pkg, err = r.cache.MaybeMoved(pkg); err != nil {
				return err
			}
			addons = append(addons, pkg)
		}
	}
	if err := r.app.merge(addons); err != nil {
		return err
	}
	r.logger.Debug("indexed app tree", "prefix", prefix, "addons", len(r.app.addons), "files", len(r.app.files))

	for _, ec := range r.opts.Engines {
		tree, err := r.engineTree(app, ec)
		if err != nil {
			return err
		}
		r.engines = append(r.engines, tree)
	}
	return nil
}

func (r *Resolver) engineTree(app *pkgcache.Package, ec EngineConfig) (*appTree, error) {
	var (
		engine *pkgcache.Package
		err    error
	)
	if ec.Root != "" {
		engine, err = r.cache.Get(ec.Root)
	} else {
		engine, err = r.cache.Resolve(ec.PackageName, app)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load engine %s: %w", ec.PackageName, err)
	}

	tree := newAppTree(ec.PackageName, engine.Root(), filepath.Join(engine.Root(), "addon"))
	var addons []*pkgcache.Package
	for _, name := range ec.ActiveAddons {
		pkg, err := r.cache.Resolve(name, engine)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve addon %s of engine %s: %w", name, ec.PackageName, err)
		}
		addons = append(addons, pkg)
	}
	if err := tree.merge(addons); err != nil {
		return nil, err
	}
	return tree, nil
}

// treeFor returns the app tree requests from owner resolve in.
func (r *Resolver) treeFor(owner *pkgcache.Package) *appTree {
	for _, t := range r.engines {
		if t.members[owner.Root()] {
			return t
		}
	}
	return r.app
}

// Resolve runs req through the rule chain and the host's default resolution.
func (r *Resolver) Resolve(ctx context.Context, req *Request) (Resolution, error) {
	started := time.Now()
	res, err := r.resolve(ctx, req, 0)
	if err != nil {
		return nil, err
	}
	r.metrics.observe(res, started)
	r.logger.Debug("resolved", "specifier", req.Specifier(), "from", req.FromFile(), "outcome", Outcome(res))
	return res, nil
}

// ResolveTrace is Resolve that also returns the history of the last request
// the rule chain produced.
func (r *Resolver) ResolveTrace(ctx context.Context, req *Request) (Resolution, []Step, error) {
	t := &tracer{last: req}
	res, err := r.Resolve(context.WithValue(ctx, tracerKey{}, t), req)
	return res, t.last.History(), err
}

type (
	tracerKey struct{}
	tracer    struct{ last *Request }
)

func (r *Resolver) resolve(ctx context.Context, req *Request, depth int) (Resolution, error) {
	if t, ok := ctx.Value(tracerKey{}).(*tracer); ok {
		t.last = req
	}
	if res := req.Resolved(); res != nil {
		return res, nil
	}
	if req.IsNotFound() {
		return NotFound{Specifier: req.Specifier(), FromFile: req.FromFile()}, nil
	}
	if req.IsVirtual() || virtual.IsVirtual(req.Specifier()) {
		return r.virtualResolution(req.Specifier())
	}
	if depth > maxRedirects {
		return nil, fmt.Errorf("%w: %s", ErrRedirectLoop, req)
	}

	owner := r.cache.OwnerOfFile(req.FromFile())
	if owner == nil {
		return r.fallback(ctx, req, nil, depth)
	}

	for _, rl := range r.rules {
		out, err := rl.apply(ctx, req, owner)
		if err != nil {
			return nil, err
		}
		if out.kind == outcomeContinue {
			continue
		}
		r.metrics.hit(rl.name)
		r.logger.Debug("rule applied", "rule", rl.name, "specifier", req.Specifier(), "from", req.FromFile())
		return r.settle(ctx, req, out, depth)
	}
	return r.fallback(ctx, req, owner, depth)
}

// settle turns a non-continue outcome into a Resolution.
func (r *Resolver) settle(ctx context.Context, req *Request, out outcome, depth int) (Resolution, error) {
	switch out.kind {
	case outcomeRedirect:
		return r.resolve(ctx, out.req, depth+1)
	case outcomeExternal:
		return External{RuntimeName: out.runtimeName}, nil
	case outcomeRuntimeFailure:
		return r.materialize(virtual.Missing(r.app.root, req.Specifier(), r.relative(req.FromFile())))
	default:
		return nil, fmt.Errorf("unexpected rule outcome %d", out.kind)
	}
}

// fallback calls the host and post-processes a not-found answer.
func (r *Resolver) fallback(ctx context.Context, req *Request, owner *pkgcache.Package, depth int) (Resolution, error) {
	res, err := r.host.DefaultResolve(ctx, req)
	if err != nil {
		return nil, err
	}
	nf, missing := res.(NotFound)
	if !missing {
		return res, nil
	}

	if isRuntimeOnly(req.Specifier()) {
		r.metrics.hit("runtime-package")
		return r.settle(ctx, req, outcome{kind: outcomeExternal, runtimeName: req.Specifier()}, depth)
	}

	if owner != nil && owner.AutoUpgraded() && !owner.IsApp() && pkgcache.PackageName(req.Specifier()) != "" {
		if _, retried := req.MetaValue(MetaFallback); !retried {
			meta := req.Meta()
			if meta == nil {
				meta = Meta{}
			}
			meta[MetaFallback] = owner.Name()
			retry := req.Rehome(filepath.Join(r.app.root, pkgcache.ManifestFileName)).WithMeta(meta)
			r.metrics.hit("v1-fallback")
			res, err := r.resolve(ctx, retry, depth+1)
			if err != nil {
				return nil, err
			}
			if _, still := res.(NotFound); !still {
				return res, nil
			}
		}
	}

	if r.allowsRuntimeFailure(req.Specifier()) {
		r.metrics.hit("runtime-failure")
		return r.settle(ctx, req, outcome{kind: outcomeRuntimeFailure}, depth)
	}
	return nf, nil
}

func (r *Resolver) virtualResolution(filename string) (Resolution, error) {
	d, err := virtual.Decode(filename)
	if err != nil {
		return nil, err
	}
	content, err := virtual.Render(d)
	if err != nil {
		return nil, err
	}
	return Virtual{Filename: filename, Descriptor: d, WatchedPaths: content.Watched}, nil
}

// materialize turns a shim descriptor into a file under ExternalsDir, or
// into a virtual module when no directory is configured.
func (r *Resolver) materialize(d virtual.Descriptor) (Resolution, error) {
	if r.shims != nil {
		path, err := r.shims.Write(d)
		if err != nil {
			return nil, err
		}
		return Found{Filename: path}, nil
	}
	return r.virtualResolution(d.Filename())
}

// MaterializeExternal produces the runtime-lookup shim for ext, surfacing the
// named exports the importer uses.
func (r *Resolver) MaterializeExternal(ext External, names []string) (Resolution, error) {
	return r.materialize(virtual.External(r.app.root, ext.RuntimeName, names))
}

// AppRoot returns the application root.
func (r *Resolver) AppRoot() string { return r.app.root }

// ModulePrefix returns the app's runtime module prefix.
func (r *Resolver) ModulePrefix() string { return r.app.prefix }

// Cache returns the package model.
func (r *Resolver) Cache() *pkgcache.Cache { return r.cache }

func (r *Resolver) moduleRename(_ context.Context, req *Request, _ *pkgcache.Package) (outcome, error) {
	if target, ok := r.opts.RenameModules[req.Specifier()]; ok && target != req.Specifier() {
		return redirect(req.Alias(target)), nil
	}
	return proceed, nil
}

func (r *Resolver) packageRename(_ context.Context, req *Request, _ *pkgcache.Package) (outcome, error) {
	if renamed, ok := renamePackage(r.opts.RenamePackages, req.Specifier()); ok {
		return redirect(req.Alias(renamed)), nil
	}
	return proceed, nil
}

func (r *Resolver) externals(_ context.Context, req *Request, owner *pkgcache.Package) (outcome, error) {
	spec := req.Specifier()
	if r.isConfiguredExternal(spec) {
		return outcome{kind: outcomeExternal, runtimeName: spec}, nil
	}
	if meta := owner.Meta(); meta != nil && slices.Contains(meta.Externals, spec) {
		return outcome{kind: outcomeExternal, runtimeName: spec}, nil
	}
	return proceed, nil
}

func (r *Resolver) appTreeRule(_ context.Context, req *Request, owner *pkgcache.Package) (outcome, error) {
	t := r.treeFor(owner)
	spec := req.Specifier()

	if rel, ok := t.relFromPrefix(spec); ok {
		if file, ok := probeFile(r.fs, r.extensions, filepath.Join(t.dir, filepath.FromSlash(rel))); ok {
			return redirect(req.Alias(file)), nil
		}
		if file, ok := t.lookup(rel, r.extensions); ok {
			return redirect(req.Alias(file)), nil
		}
		return proceed, nil
	}
	if !isRelative(spec) {
		return proceed, nil
	}

	from := req.FromFile()
	logicalRel, contributed := t.logical[from]
	var target string
	if contributed {
		// A file an addon contributes behaves as if it lived in the app tree.
		target = filepath.Join(t.dir, filepath.Dir(filepath.FromSlash(logicalRel)), filepath.FromSlash(spec))
	} else {
		if !within(t.dir, from) {
			return proceed, nil
		}
		target = filepath.Join(importerDir(from), filepath.FromSlash(spec))
	}
	if !within(t.dir, target) {
		return proceed, nil
	}

	if file, ok := probeFile(r.fs, r.extensions, target); ok {
		if contributed {
			return redirect(req.Alias(file)), nil
		}
		return proceed, nil
	}
	rel, err := filepath.Rel(t.dir, target)
	if err != nil {
		return proceed, nil
	}
	if file, ok := t.lookup(filepath.ToSlash(rel), r.extensions); ok {
		return redirect(req.Alias(file)), nil
	}
	return proceed, nil
}

func (r *Resolver) isConfiguredExternal(spec string) bool {
	for _, pattern := range r.opts.Externals {
		if pattern == spec {
			return true
		}
		if strings.ContainsAny(pattern, "*?[{") {
			if ok, err := doublestar.Match(pattern, spec); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func (r *Resolver) allowsRuntimeFailure(spec string) bool {
	for _, pattern := range r.opts.AllowRuntimeFailure {
		if ok, err := doublestar.Match(pattern, spec); err == nil && ok {
			return true
		}
	}
	return false
}

// relative renders path relative to the app root in ./ form.
func (r *Resolver) relative(path string) string {
	rel, err := filepath.Rel(r.app.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return rel
	}
	return "./" + rel
}

// RenameSpecifier applies module renames then package renames until the
// specifier stops changing.
func (r *Resolver) RenameSpecifier(spec string) string {
	for range maxRedirects {
		next := spec
		if target, ok := r.opts.RenameModules[next]; ok {
			next = target
		} else if renamed, ok := renamePackage(r.opts.RenamePackages, next); ok {
			next = renamed
		}
		if next == spec {
			return spec
		}
		spec = next
	}
	return spec
}

// renamePackage rewrites the leading package segment of spec, keeping the
// subpath verbatim.
func renamePackage(renames map[string]string, spec string) (string, bool) {
	name := pkgcache.PackageName(spec)
	if name == "" {
		return "", false
	}
	target, ok := renames[name]
	if !ok || target == name {
		return "", false
	}
	return target + spec[len(name):], true
}

func isRuntimeOnly(spec string) bool {
	name := pkgcache.PackageName(spec)
	if runtimeOnlyPackages[name] {
		return true
	}
	return strings.HasPrefix(name, "@ember/") || strings.HasPrefix(name, "@glimmer/")
}
