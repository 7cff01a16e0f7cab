// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/invowk/stitch/internal/virtual"
	"github.com/invowk/stitch/pkg/pkgcache"
)

// DefaultExtensions is used when no resolvable extensions are configured.
var DefaultExtensions = []string{".js", ".mjs", ".ts", ".hbs", ".json"}

// exportConditions are tried in order when a package.json exports entry is a
// conditions object.
var exportConditions = []string{"import", "browser", "module", "default", "require"}

// ErrNotExported is wrapped by NotFound when a package's exports field does
// not expose the requested subpath.
var ErrNotExported = errors.New("subpath not exported by package")

type (
	// Host performs the host bundler's own resolution. It reports a missing
	// module as a NotFound resolution and reserves errors for I/O failures.
	Host interface {
		DefaultResolve(ctx context.Context, req *Request) (Resolution, error)
	}

	// FSHost is a node-style resolver over an afero filesystem: relative and
	// absolute paths with extension probing, node_modules lookup through the
	// package cache, package.json exports/module/main, and self-reference.
	FSHost struct {
		fs         afero.Fs
		cache      *pkgcache.Cache
		extensions []string
	}
)

// NewFSHost creates an FSHost. A nil extensions list uses DefaultExtensions.
func NewFSHost(cache *pkgcache.Cache, extensions []string) *FSHost {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	return &FSHost{fs: cache.FS(), cache: cache, extensions: extensions}
}

// DefaultResolve implements Host.
func (h *FSHost) DefaultResolve(_ context.Context, req *Request) (Resolution, error) {
	spec := req.Specifier()
	notFound := func(err error) (Resolution, error) {
		return NotFound{Specifier: spec, FromFile: req.FromFile(), Err: err}, nil
	}

	switch {
	case filepath.IsAbs(spec):
		if file, ok := h.probe(spec); ok {
			return Found{Filename: file}, nil
		}
		return notFound(nil)
	case isRelative(spec):
		target := filepath.Join(importerDir(req.FromFile()), filepath.FromSlash(spec))
		if file, ok := h.probe(target); ok {
			return Found{Filename: file}, nil
		}
		return notFound(nil)
	}

	name := pkgcache.PackageName(spec)
	if name == "" {
		return notFound(fmt.Errorf("invalid specifier %q", spec))
	}
	pkg, err := h.locate(name, req.FromFile())
	if err != nil {
		if errors.Is(err, pkgcache.ErrPackageNotFound) {
			return notFound(err)
		}
		return nil, err
	}

	subpath := strings.TrimPrefix(spec, name)
	file, err := h.entry(pkg, subpath)
	if err != nil {
		return notFound(err)
	}
	return Found{Filename: file}, nil
}

func (h *FSHost) locate(name, fromFile string) (*pkgcache.Package, error) {
	owner := h.cache.OwnerOfFile(fromFile)
	if owner == nil {
		root, ok := pkgcache.NodeModulesLocator(h.fs, name, importerDir(fromFile))
		if !ok {
			return nil, &pkgcache.NotFoundError{Name: name, From: importerDir(fromFile)}
		}
		return h.cache.Get(root)
	}
	if owner.Name() == name {
		return owner, nil
	}
	return h.cache.Resolve(name, owner)
}

// entry resolves subpath ("" or "/x/y") inside pkg.
func (h *FSHost) entry(pkg *pkgcache.Package, subpath string) (string, error) {
	m := pkg.Manifest()
	if len(m.Exports) > 0 && string(m.Exports) != "null" {
		target, err := exportTarget(m.Exports, "."+subpath)
		if err != nil {
			return "", err
		}
		file := filepath.Join(pkg.Root(), filepath.FromSlash(target))
		if h.isFile(file) {
			return file, nil
		}
		return "", fmt.Errorf("exported file %s does not exist", file)
	}

	if subpath == "" {
		for _, main := range []string{m.Module, m.Main, "index"} {
			if main == "" {
				continue
			}
			if file, ok := h.probe(filepath.Join(pkg.Root(), filepath.FromSlash(main))); ok {
				return file, nil
			}
		}
		return "", fmt.Errorf("package %s has no entry point", pkg.Name())
	}
	if file, ok := h.probe(filepath.Join(pkg.Root(), filepath.FromSlash(subpath))); ok {
		return file, nil
	}
	return "", fmt.Errorf("%s not found in package %s", subpath, pkg.Name())
}

func (h *FSHost) probe(p string) (string, bool) { return probeFile(h.fs, h.extensions, p) }

func (h *FSHost) isFile(p string) bool { return isFile(h.fs, p) }

// probeFile tries p as a file, with each extension, then as a directory index.
func probeFile(fsys afero.Fs, extensions []string, p string) (string, bool) {
	if isFile(fsys, p) {
		return p, true
	}
	for _, ext := range extensions {
		if isFile(fsys, p+ext) {
			return p + ext, true
		}
	}
	for _, ext := range extensions {
		index := filepath.Join(p, "index"+ext)
		if isFile(fsys, index) {
			return index, true
		}
	}
	return "", false
}

func isFile(fsys afero.Fs, p string) bool {
	info, err := fsys.Stat(p)
	return err == nil && !info.IsDir()
}

// exportTarget evaluates a package.json exports field for subpath ("." or "./x").
func exportTarget(raw json.RawMessage, subpath string) (string, error) {
	var exports any
	if err := json.Unmarshal(raw, &exports); err != nil {
		return "", fmt.Errorf("invalid exports field: %w", err)
	}

	if obj, ok := exports.(map[string]any); ok && hasSubpathKeys(obj) {
		if v, ok := obj[subpath]; ok {
			if t, ok := conditionTarget(v); ok {
				return t, nil
			}
			return "", fmt.Errorf("%w: %s", ErrNotExported, subpath)
		}
		if t, ok := patternTarget(obj, subpath); ok {
			return t, nil
		}
		return "", fmt.Errorf("%w: %s", ErrNotExported, subpath)
	}

	// Sugar: the whole field is the "." export.
	if subpath != "." {
		return "", fmt.Errorf("%w: %s", ErrNotExported, subpath)
	}
	if t, ok := conditionTarget(exports); ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotExported, subpath)
}

func hasSubpathKeys(obj map[string]any) bool {
	for k := range obj {
		if strings.HasPrefix(k, ".") {
			return true
		}
	}
	return false
}

func conditionTarget(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case map[string]any:
		for _, cond := range exportConditions {
			if next, ok := t[cond]; ok {
				if target, ok := conditionTarget(next); ok {
					return target, true
				}
			}
		}
	case []any:
		for _, alt := range t {
			if target, ok := conditionTarget(alt); ok {
				return target, true
			}
		}
	}
	return "", false
}

// patternTarget matches "./x/*" style keys, preferring the longest prefix.
func patternTarget(obj map[string]any, subpath string) (string, bool) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if strings.Count(k, "*") == 1 {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b string) int {
		if d := len(b) - len(a); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})

	for _, k := range keys {
		prefix, suffix, _ := strings.Cut(k, "*")
		if !strings.HasPrefix(subpath, prefix) || !strings.HasSuffix(subpath, suffix) || len(subpath) < len(prefix)+len(suffix) {
			continue
		}
		match := subpath[len(prefix) : len(subpath)-len(suffix)]
		target, ok := conditionTarget(obj[k])
		if !ok {
			return "", false
		}
		return path.Clean(strings.ReplaceAll(target, "*", match)), true
	}
	return "", false
}

func isRelative(spec string) bool {
	return spec == "." || spec == ".." || strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}

// importerDir is the directory relative specifiers resolve against. Virtual
// modules resolve against their anchor.
func importerDir(fromFile string) string {
	dir := filepath.Dir(fromFile)
	if virtual.IsVirtual(fromFile) {
		return filepath.Dir(dir)
	}
	return dir
}
