// SPDX-License-Identifier: MPL-2.0

package pkgcache

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Masterminds/semver/v3"
)

// Package is a single on-disk package. Instances are created by a [Cache] and
// are never mutated after construction.
type Package struct {
	root     string
	manifest Manifest
	cache    *Cache
	isApp    bool

	// origin is the pre-rewrite package when this package is a relocated copy.
	origin *Package
}

// Root returns the normalized absolute root directory of the package.
func (p *Package) Root() string { return p.root }

// Name returns the package name from its manifest.
func (p *Package) Name() string { return p.manifest.Name }

// Manifest returns the parsed package.json.
func (p *Package) Manifest() Manifest { return p.manifest }

// Meta returns the ember-addon section, or nil for non-Ember packages.
func (p *Package) Meta() *AddonMeta { return p.manifest.EmberAddon }

// IsApp reports whether this package is the application being built.
func (p *Package) IsApp() bool { return p.isApp }

// Version parses the manifest version.
func (p *Package) Version() (*semver.Version, error) {
	if p.manifest.Version == "" {
		return nil, fmt.Errorf("package %s has no version", p.Name())
	}
	v, err := semver.NewVersion(p.manifest.Version)
	if err != nil {
		return nil, fmt.Errorf("package %s: invalid version %q: %w", p.Name(), p.manifest.Version, err)
	}
	return v, nil
}

// IsEmberPackage reports whether the package participates in the Ember
// module namespace (addons, engines and the app itself).
func (p *Package) IsEmberPackage() bool {
	if p.isApp {
		return true
	}
	return p.manifest.HasKeyword("ember-addon") || p.manifest.HasKeyword("ember-engine")
}

// IsEngine reports whether the package is an Ember engine.
func (p *Package) IsEngine() bool {
	return p.manifest.HasKeyword("ember-engine")
}

// IsLazyEngine reports whether the package is an engine with lazy loading enabled.
func (p *Package) IsLazyEngine() bool {
	meta := p.Meta()
	return p.IsEngine() && meta != nil && meta.LazyLoading != nil && meta.LazyLoading.Enabled
}

// IsV2Ember reports whether the package uses the native (v2) Ember package format.
func (p *Package) IsV2Ember() bool {
	meta := p.Meta()
	return p.IsEmberPackage() && meta != nil && meta.Version == 2
}

// IsV2Addon reports whether the package is a native addon.
func (p *Package) IsV2Addon() bool {
	return p.IsV2Ember() && p.Meta().Type != AddonTypeApp
}

// IsV2App reports whether the package is a native application.
func (p *Package) IsV2App() bool {
	return p.IsV2Ember() && p.Meta().Type == AddonTypeApp
}

// AutoUpgraded reports whether the package is a classic addon converted to v2 format.
func (p *Package) AutoUpgraded() bool {
	meta := p.Meta()
	return meta != nil && meta.AutoUpgraded
}

// IsRewritten reports whether the package is a relocated copy of another package.
func (p *Package) IsRewritten() bool { return p.origin != nil }

// declarations returns the manifest whose dependency declarations apply to
// this package. Rewritten copies keep the declarations of their original.
func (p *Package) declarations() Manifest {
	if p.origin != nil {
		return p.origin.manifest
	}
	return p.manifest
}

// DependencyNames returns the declared dependency names in sorted order.
// The app (and any top-level package) also counts its devDependencies.
func (p *Package) DependencyNames() []string {
	m := p.declarations()
	seen := make(map[string]struct{})
	add := func(deps map[string]string) {
		for name := range deps {
			seen[name] = struct{}{}
		}
	}
	add(m.Dependencies)
	add(m.PeerDependencies)
	add(m.OptionalDependencies)
	if p.isApp {
		add(m.DevDependencies)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// HasDependency reports whether name is declared as a dependency.
func (p *Package) HasDependency(name string) bool {
	return slices.Contains(p.DependencyNames(), name)
}

// isOptional reports whether a missing dependency is acceptable.
func (p *Package) isOptional(name string) bool {
	m := p.declarations()
	if _, ok := m.OptionalDependencies[name]; ok {
		return true
	}
	if _, ok := m.PeerDependencies[name]; ok {
		return true
	}
	if meta, ok := m.PeerDependenciesMeta[name]; ok && meta.Optional {
		return true
	}
	return false
}

// Dependencies resolves every declared dependency. Optional and peer
// dependencies that cannot be found are skipped; any other failure is returned.
func (p *Package) Dependencies() ([]*Package, error) {
	var deps []*Package
	for _, name := range p.DependencyNames() {
		dep, err := p.cache.Resolve(name, p)
		if err != nil {
			if errors.Is(err, ErrPackageNotFound) && p.isOptional(name) {
				continue
			}
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// String returns "name@root" for logging.
func (p *Package) String() string {
	return p.Name() + "@" + p.root
}
