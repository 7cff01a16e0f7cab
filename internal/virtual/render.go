// SPDX-License-Identifier: MPL-2.0

package virtual

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"

	"github.com/invowk/stitch/internal/jsscan"
)

// templateOnlyConstraint is the ember-source range that ships
// @ember/component/template-only and setComponentTemplate.
var templateOnlyConstraint = mustConstraint(">= 3.25.0-0")

// Content is the output of Render.
type Content struct {
	Source string
	// Watched lists every on-disk path whose change invalidates Source.
	Watched []string
}

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

// Render produces the source text of d. It depends only on d.
func Render(d Descriptor) (Content, error) {
	switch d.Kind {
	case KindExternal:
		return Content{Source: renderExternal(d)}, nil
	case KindMissing:
		return Content{Source: renderMissing(d)}, nil
	case KindTemplateOnly:
		src, err := renderTemplateOnly(d)
		if err != nil {
			return Content{}, err
		}
		return Content{Source: src, Watched: []string{d.Template}}, nil
	case KindManifest, KindEntrypoint:
		return Content{Source: renderManifest(d), Watched: manifestWatched(d)}, nil
	default:
		return Content{}, fmt.Errorf("%w: %q", ErrUnknownKind, d.Kind)
	}
}

func quote(s string) string { return jsscan.Quote(s) }

func renderExternal(d Descriptor) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "const m = window.require(%s);\n", quote(d.Specifier))
	sb.WriteString("const esm = m && m.__esModule;\n")
	sb.WriteString("export default esm ? m.default : m;\n")
	for _, name := range d.Names {
		if name == "default" || !isIdentifier(name) {
			continue
		}
		fmt.Fprintf(&sb, "export const %s = m[%s];\n", name, quote(name))
	}
	return sb.String()
}

func renderMissing(d Descriptor) string {
	msg := fmt.Sprintf("Could not find module `%s`", d.Specifier)
	if d.From != "" {
		msg += fmt.Sprintf(" imported from `%s`", d.From)
	}
	return fmt.Sprintf("throw new Error(%s);\n", quote(msg))
}

func renderTemplateOnly(d Descriptor) (string, error) {
	modern := true
	if d.EmberVersion != "" {
		v, err := semver.NewVersion(d.EmberVersion)
		if err != nil {
			return "", fmt.Errorf("invalid ember version %q for template-only component: %w", d.EmberVersion, err)
		}
		modern = templateOnlyConstraint.Check(v)
	}

	tmpl := quote("./" + filepath.ToSlash(filepath.Base(d.Template)))
	var sb strings.Builder
	fmt.Fprintf(&sb, "import template from %s;\n", tmpl)
	if modern {
		sb.WriteString("import { setComponentTemplate } from \"@ember/component\";\n")
		sb.WriteString("import templateOnly from \"@ember/component/template-only\";\n")
		sb.WriteString("export default setComponentTemplate(template, templateOnly());\n")
	} else {
		sb.WriteString("import Component from \"@ember/component\";\n")
		sb.WriteString("export default Component.extend({ layout: template, tagName: \"\" });\n")
	}
	return sb.String(), nil
}

func renderManifest(d Descriptor) string {
	var sb strings.Builder
	if d.Kind == KindManifest {
		fmt.Fprintf(&sb, "// %s\n", d.Name)
	}
	for i, e := range d.Entries {
		fmt.Fprintf(&sb, "import * as m%d from %s;\n", i, quote(importPath(d.Anchor, e.Path)))
	}
	if len(d.Entries) > 0 {
		sb.WriteString("const d = window.define;\n")
	}
	for i, e := range d.Entries {
		fmt.Fprintf(&sb, "d(%s, [], () => m%d);\n", quote(e.RuntimeName), i)
	}
	if d.Kind == KindEntrypoint && d.Main != "" {
		fmt.Fprintf(&sb, "export { default } from %s;\n", quote(importPath(d.Anchor, d.Main)))
	}
	return sb.String()
}

// importPath makes path relative to anchor when it lives beneath it, so the
// rendered source is independent of where the app is checked out.
func importPath(anchor, path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(anchor, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return "./" + filepath.ToSlash(rel)
}

func manifestWatched(d Descriptor) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p == "" || seen[p] || !filepath.IsAbs(p) {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, e := range d.Entries {
		add(e.Path)
	}
	add(d.Main)
	for _, w := range d.Watch {
		add(w)
	}
	return normalize(out)
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return s != ""
}
