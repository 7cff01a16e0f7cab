// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/invowk/stitch/internal/jsscan"
)

var (
	// ErrAMDInV2Addon is returned when a native v2 addon calls define().
	ErrAMDInV2Addon = errors.New("v2 addons may not use AMD define()")
	// ErrMalformedHbsLiteral is returned for inline templates whose shape
	// cannot be analyzed statically.
	ErrMalformedHbsLiteral = errors.New("unsupported inline template invocation")
)

// SourceError is a build-fatal problem at a location in a source file.
type SourceError struct {
	File    string
	Package string
	Pos     jsscan.Position
	Frame   string
	Err     error
}

func (e *SourceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d:%d: %v", e.File, e.Pos.Line, e.Pos.Column, e.Err)
	if e.Package != "" {
		fmt.Fprintf(&b, " (package %s)", e.Package)
	}
	if e.Frame != "" {
		b.WriteString("\n")
		b.WriteString(e.Frame)
	}
	return b.String()
}

func (e *SourceError) Unwrap() error { return e.Err }

// Adjust rewrites module specifiers in a JS source file before the host
// bundler sees it: renames are applied to static imports, re-exports,
// dynamic imports, importSync, require and well-formed define() names and
// dependencies, and configured extra imports are prepended.
//
// Every dependency of a define() call is rewritten, not only the first.
// Malformed define() calls are left as they are.
func (r *Resolver) Adjust(filename string, src []byte) ([]byte, error) {
	res, err := jsscan.Scan(src)
	if err != nil {
		var lexErr *jsscan.LexError
		if errors.As(err, &lexErr) {
			return nil, &SourceError{File: filename, Pos: lexErr.Pos, Frame: jsscan.CodeFrame(src, lexErr.Pos), Err: err}
		}
		return nil, err
	}

	owner := r.cache.OwnerOfFile(filename)
	if owner != nil && owner.IsV2Addon() && !owner.AutoUpgraded() && len(res.Defines) > 0 {
		pos := res.Defines[0].Pos
		return nil, &SourceError{
			File:    filename,
			Package: owner.Name(),
			Pos:     pos,
			Frame:   jsscan.CodeFrame(src, pos),
			Err:     ErrAMDInV2Addon,
		}
	}
	for _, tc := range res.Templates {
		if tc.Err != nil {
			return nil, &SourceError{
				File:  filename,
				Pos:   tc.Pos,
				Frame: jsscan.CodeFrame(src, tc.Pos),
				Err:   fmt.Errorf("%w: %w", ErrMalformedHbsLiteral, tc.Err),
			}
		}
	}

	var edits []jsscan.Edit
	for _, site := range res.Sites {
		renamed := r.RenameSpecifier(site.Specifier)
		if renamed == site.Specifier {
			continue
		}
		r.logger.Debug("renamed specifier", "file", filename, "kind", site.Kind, "from", site.Specifier, "to", renamed)
		edits = append(edits, jsscan.Edit{Start: site.Start, End: site.End, Text: jsscan.Quote(renamed)})
	}
	if prelude := r.extraImportsFor(filename); prelude != "" {
		edits = append(edits, jsscan.Edit{Start: 0, End: 0, Text: prelude})
	}
	if len(edits) == 0 {
		return src, nil
	}
	return jsscan.Apply(src, edits)
}

// extraImportsFor returns the import statements configured for filename.
func (r *Resolver) extraImportsFor(filename string) string {
	if len(r.opts.ExtraImports) == 0 {
		return ""
	}
	rel, err := filepath.Rel(r.app.root, filename)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	rel = filepath.ToSlash(rel)

	var b strings.Builder
	seen := make(map[string]bool)
	for _, extra := range r.opts.ExtraImports {
		ok, err := doublestar.Match(extra.File, rel)
		if err != nil || !ok {
			continue
		}
		for _, spec := range extra.Imports {
			if seen[spec] {
				continue
			}
			seen[spec] = true
			fmt.Fprintf(&b, "import %s;\n", jsscan.Quote(spec))
		}
	}
	return b.String()
}
