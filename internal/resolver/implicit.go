// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/invowk/stitch/internal/virtual"
	"github.com/invowk/stitch/pkg/pkgcache"
)

const (
	// ImplicitModulesSpecifier imports the implicit-modules of every addon
	// the importing package depends on, registered under runtime names.
	ImplicitModulesSpecifier = "./-stitch-implicit-modules.js"
	// ImplicitTestModulesSpecifier is the implicit-test-modules counterpart.
	ImplicitTestModulesSpecifier = "./-stitch-implicit-test-modules.js"
)

func (r *Resolver) implicitModules(_ context.Context, req *Request, owner *pkgcache.Package) (outcome, error) {
	var test bool
	switch req.Specifier() {
	case ImplicitModulesSpecifier:
	case ImplicitTestModulesSpecifier:
		test = true
	default:
		return proceed, nil
	}
	d, err := r.implicitManifest(owner, test)
	if err != nil {
		return proceed, err
	}
	return redirect(req.Virtualize(d.Filename())), nil
}

// implicitManifest walks owner's ember addon dependencies depth first, each
// package once, and collects their implicit modules.
func (r *Resolver) implicitManifest(owner *pkgcache.Package, test bool) (virtual.Descriptor, error) {
	name := "implicit-modules"
	if test {
		name = "implicit-test-modules"
	}

	var (
		entries []virtual.Entry
		watch   []string
		seen    = map[string]bool{owner.Root(): true}
	)
	var walk func(pkg *pkgcache.Package) error
	walk = func(pkg *pkgcache.Package) error {
		deps, err := pkg.Dependencies()
		if err != nil {
			return fmt.Errorf("failed to collect %s of %s: %w", name, pkg.Name(), err)
		}
		for _, dep := range deps {
			if seen[dep.Root()] || !dep.IsEmberPackage() {
				continue
			}
			seen[dep.Root()] = true
			watch = append(watch, filepath.Join(dep.Root(), pkgcache.ManifestFileName))
			if meta := dep.Meta(); meta != nil {
				list := meta.ImplicitModules
				if test {
					list = meta.ImplicitTestModules
				}
				for _, m := range list {
					entries = append(entries, r.implicitEntry(dep, m))
				}
			}
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(owner); err != nil {
		return virtual.Descriptor{}, err
	}
	return virtual.Manifest(owner.Root(), name, entries, watch), nil
}

// implicitEntry maps an implicit module path of pkg to its runtime name and
// file. Paths that do not exist on disk are kept so the bundler reports them.
func (r *Resolver) implicitEntry(pkg *pkgcache.Package, module string) virtual.Entry {
	rel := path.Clean(strings.TrimPrefix(module, "./"))
	file := filepath.Join(pkg.Root(), filepath.FromSlash(rel))
	if found, ok := probeFile(r.fs, r.extensions, file); ok {
		file = found
	}
	return virtual.Entry{
		RuntimeName: pkg.Name() + "/" + strings.TrimSuffix(rel, path.Ext(rel)),
		Path:        file,
	}
}
