// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/invowk/stitch/internal/dag"
	"github.com/invowk/stitch/pkg/pkgcache"
)

// appTree is the merged module namespace of an app (or engine) plus the files
// its active addons contribute through ember-addon.app-js.
type appTree struct {
	// prefix is the runtime module prefix ("my-app", or an engine's name).
	prefix string
	root   string
	// dir holds the tree's own modules (app/ for apps, addon/ for engines).
	dir string
	// files maps a slash-separated tree-relative path to the contributing
	// addon file. Later addons in dependency order win.
	files map[string]string
	// logical maps a contributed addon file back to its tree-relative path.
	logical map[string]string
	// members are the package roots whose requests resolve in this tree.
	members map[string]bool
	addons  []*pkgcache.Package
}

func newAppTree(prefix, root, dir string) *appTree {
	return &appTree{
		prefix:  prefix,
		root:    root,
		dir:     dir,
		files:   make(map[string]string),
		logical: make(map[string]string),
		members: map[string]bool{root: true},
	}
}

// merge adds addons in before/after order.
func (t *appTree) merge(addons []*pkgcache.Package) error {
	ordered, err := orderAddons(addons)
	if err != nil {
		return err
	}
	t.addons = ordered
	for _, addon := range ordered {
		t.members[addon.Root()] = true
		meta := addon.Meta()
		if meta == nil {
			continue
		}
		keys := make([]string, 0, len(meta.AppJS))
		for k := range meta.AppJS {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			rel := strings.TrimPrefix(filepath.ToSlash(k), "./")
			file := filepath.Join(addon.Root(), filepath.FromSlash(meta.AppJS[k]))
			if prev, ok := t.files[rel]; ok {
				delete(t.logical, prev)
			}
			t.files[rel] = file
			t.logical[file] = rel
		}
	}
	return nil
}

// lookup finds a contributed file for a tree-relative path written without
// or with an extension.
func (t *appTree) lookup(rel string, extensions []string) (string, bool) {
	if f, ok := t.files[rel]; ok {
		return f, true
	}
	for _, ext := range extensions {
		if f, ok := t.files[rel+ext]; ok {
			return f, true
		}
	}
	for _, ext := range extensions {
		if f, ok := t.files[rel+"/index"+ext]; ok {
			return f, true
		}
	}
	return "", false
}

// relFromPrefix strips the module prefix from spec.
func (t *appTree) relFromPrefix(spec string) (string, bool) {
	rest, ok := strings.CutPrefix(spec, t.prefix+"/")
	if !ok || t.prefix == "" || rest == "" {
		return "", false
	}
	return rest, true
}

// orderAddons sorts addons by name, then applies before/after constraints.
func orderAddons(addons []*pkgcache.Package) ([]*pkgcache.Package, error) {
	byName := make(map[string]*pkgcache.Package, len(addons))
	names := make([]string, 0, len(addons))
	for _, a := range addons {
		if _, dup := byName[a.Name()]; dup {
			continue
		}
		byName[a.Name()] = a
		names = append(names, a.Name())
	}
	slices.Sort(names)

	g := dag.New()
	for _, n := range names {
		g.AddNode(n)
	}
	for _, n := range names {
		meta := byName[n].Meta()
		if meta == nil {
			continue
		}
		for _, other := range meta.Before {
			g.Constrain(n, other)
		}
		for _, other := range meta.After {
			g.Constrain(other, n)
		}
	}

	order, err := g.TopologicalSort()
	if err != nil {
		var cycle *dag.CycleError
		if errors.As(err, &cycle) {
			return nil, fmt.Errorf("addons have conflicting before/after constraints: %w", err)
		}
		return nil, err
	}
	out := make([]*pkgcache.Package, 0, len(order))
	for _, n := range order {
		out = append(out, byName[n])
	}
	return out, nil
}

// discoverAddons walks the dependency graph from pkg and returns every Ember
// addon reachable through Ember packages. Engines are excluded; they get their
// own tree when configured.
func discoverAddons(pkg *pkgcache.Package) ([]*pkgcache.Package, error) {
	seen := map[string]bool{pkg.Root(): true}
	queue := []*pkgcache.Package{pkg}
	var out []*pkgcache.Package

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		deps, err := cur.Dependencies()
		if err != nil {
			return nil, fmt.Errorf("failed to read dependencies of %s: %w", cur.Name(), err)
		}
		for _, dep := range deps {
			if seen[dep.Root()] || !dep.IsEmberPackage() || dep.IsEngine() {
				continue
			}
			seen[dep.Root()] = true
			out = append(out, dep)
			queue = append(queue, dep)
		}
	}
	return out, nil
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
