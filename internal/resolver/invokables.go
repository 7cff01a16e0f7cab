// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"context"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/invowk/stitch/internal/template"
	"github.com/invowk/stitch/internal/virtual"
)

var _ template.Resolver = (*Resolver)(nil)

// scriptExtensions are the resolvable extensions minus templates.
func (r *Resolver) scriptExtensions() []string {
	out := make([]string, 0, len(r.extensions))
	for _, ext := range r.extensions {
		if ext != ".hbs" {
			out = append(out, ext)
		}
	}
	return out
}

// ResolveMustache implements template.Resolver.
func (r *Resolver) ResolveMustache(ctx context.Context, name, fromFile string, hasArgs bool) (*template.Record, error) {
	if rec := r.findComponent(name, fromFile); rec != nil {
		return rec, nil
	}
	if rec := r.findIn(template.KindHelper, "helpers", name, fromFile); rec != nil {
		return rec, nil
	}
	if hasArgs && (r.opts.StaticComponents || r.opts.StaticHelpers) {
		return nil, &template.InvokableError{
			Kind:     template.KindComponent,
			Name:     name,
			FromFile: fromFile,
			Reason:   "it has arguments, so it must be a component or helper",
		}
	}
	return nil, nil
}

// ResolveSubExpression implements template.Resolver.
func (r *Resolver) ResolveSubExpression(ctx context.Context, name, fromFile string) (*template.Record, error) {
	if rec := r.findIn(template.KindHelper, "helpers", name, fromFile); rec != nil {
		return rec, nil
	}
	if r.opts.StaticHelpers {
		return nil, &template.InvokableError{Kind: template.KindHelper, Name: name, FromFile: fromFile}
	}
	return nil, nil
}

// ResolveElement implements template.Resolver.
func (r *Resolver) ResolveElement(ctx context.Context, tag, fromFile string) (*template.Record, error) {
	if rec := r.findComponent(tag, fromFile); rec != nil {
		return rec, nil
	}
	if r.opts.StaticComponents {
		return nil, &template.InvokableError{Kind: template.KindComponent, Name: tag, FromFile: fromFile}
	}
	return nil, nil
}

// ResolveModifier implements template.Resolver.
func (r *Resolver) ResolveModifier(ctx context.Context, name, fromFile string) (*template.Record, error) {
	if rec := r.findIn(template.KindModifier, "modifiers", name, fromFile); rec != nil {
		return rec, nil
	}
	if r.opts.StaticModifiers {
		return nil, &template.InvokableError{Kind: template.KindModifier, Name: name, FromFile: fromFile}
	}
	return nil, nil
}

// ResolveComponentName implements template.Resolver.
func (r *Resolver) ResolveComponentName(ctx context.Context, name, fromFile string, literal bool) (*template.Record, error) {
	if !literal {
		if r.opts.StaticComponents && !r.opts.AllowUnsafeDynamicComponents {
			return nil, &template.InvokableError{
				Kind:     template.KindComponent,
				Name:     name,
				FromFile: fromFile,
				Reason:   "dynamic component names cannot be resolved statically; enable allowUnsafeDynamicComponents to accept them",
			}
		}
		if !isComponentName(name) {
			return nil, nil
		}
		return r.findComponent(name, fromFile), nil
	}
	if rec := r.findComponent(name, fromFile); rec != nil {
		return rec, nil
	}
	if r.opts.StaticComponents {
		return nil, &template.InvokableError{Kind: template.KindComponent, Name: name, FromFile: fromFile}
	}
	return nil, nil
}

// findComponent looks for a component module, then a lone template that
// becomes a template-only component.
func (r *Resolver) findComponent(name, fromFile string) *template.Record {
	t := r.treeForFile(fromFile)
	path := dasherize(name)
	runtimeName := t.prefix + "/components/" + path

	for _, rel := range r.componentCandidates(t, path) {
		if file, ok := r.findInTree(t, rel, r.scriptExtensions()); ok {
			return &template.Record{Kind: template.KindComponent, Name: name, RuntimeName: runtimeName, Path: file}
		}
	}
	for _, rel := range r.templateCandidates(t, path) {
		if file, ok := r.findInTree(t, rel, []string{".hbs"}); ok {
			d := virtual.TemplateOnly(file, r.opts.EmberVersion)
			return &template.Record{Kind: template.KindComponent, Name: name, RuntimeName: runtimeName, Path: d.Filename()}
		}
	}
	return nil
}

func (r *Resolver) componentCandidates(t *appTree, path string) []string {
	out := []string{"components/" + path, "components/" + path + "/index"}
	if pod := r.podDir(t); pod != "" {
		out = append(out, pod+"components/"+path+"/component")
	}
	return out
}

func (r *Resolver) templateCandidates(t *appTree, path string) []string {
	out := []string{"components/" + path, "components/" + path + "/index", "templates/components/" + path}
	if pod := r.podDir(t); pod != "" {
		out = append(out, pod+"components/"+path+"/template")
	}
	return out
}

// podDir is the tree-relative directory of the pod module prefix, with a
// trailing slash, or "" when pods are not configured.
func (r *Resolver) podDir(t *appTree) string {
	if r.opts.PodModulePrefix == "" {
		return ""
	}
	rel, ok := t.relFromPrefix(r.opts.PodModulePrefix)
	if !ok {
		return ""
	}
	return rel + "/"
}

func (r *Resolver) findIn(kind template.Kind, dir, name, fromFile string) *template.Record {
	t := r.treeForFile(fromFile)
	path := dasherize(name)
	candidates := []string{dir + "/" + path}
	if pod := r.podDir(t); pod != "" {
		candidates = append(candidates, pod+dir+"/"+path+"/"+string(kind))
	}
	for _, rel := range candidates {
		if file, ok := r.findInTree(t, rel, r.scriptExtensions()); ok {
			return &template.Record{Kind: kind, Name: name, RuntimeName: t.prefix + "/" + dir + "/" + path, Path: file}
		}
	}
	return nil
}

// findInTree probes the tree's own directory, then addon contributions.
func (r *Resolver) findInTree(t *appTree, rel string, exts []string) (string, bool) {
	for _, ext := range exts {
		if file := filepath.Join(t.dir, filepath.FromSlash(rel+ext)); isFile(r.fs, file) {
			return file, true
		}
	}
	for _, ext := range exts {
		if file, ok := t.files[rel+ext]; ok {
			return file, true
		}
	}
	return "", false
}

func (r *Resolver) treeForFile(fromFile string) *appTree {
	if owner := r.cache.OwnerOfFile(fromFile); owner != nil {
		return r.treeFor(owner)
	}
	return r.app
}

// dasherize maps an invocation name to a module path: "Foo::BarBaz" becomes
// "foo/bar-baz" and "x-foo" is unchanged.
func dasherize(name string) string {
	var b strings.Builder
	parts := strings.Split(name, "::")
	for i, part := range parts {
		if i > 0 {
			b.WriteByte('/')
		}
		for j, c := range part {
			if unicode.IsUpper(c) {
				if j > 0 && part[j-1] != '-' && part[j-1] != '/' {
					b.WriteByte('-')
				}
				c = unicode.ToLower(c)
			}
			b.WriteRune(c)
		}
	}
	return b.String()
}

// isComponentName reports whether a dynamic component argument could be a
// literal component name rather than a property path.
func isComponentName(name string) bool {
	return name != "" && !strings.HasPrefix(name, "this.") && !strings.HasPrefix(name, "@") && !strings.Contains(name, ".")
}
