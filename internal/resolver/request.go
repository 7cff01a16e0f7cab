// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"fmt"
	"maps"
	"slices"
)

type (
	// Meta is side-channel data carried by a Request. It is never mutated in
	// place; WithMeta installs a copy.
	Meta map[string]string

	// Request asks "resolve Specifier from FromFile". Every derivation returns
	// a new Request whose parent is the receiver, so the chain of steps that
	// led to a final answer can be replayed with History.
	Request struct {
		specifier string
		fromFile  string
		meta      Meta
		virtual   bool
		notFound  bool
		resolved  Resolution

		parent *Request
		step   string
	}

	// Step is one entry of a request's history.
	Step struct {
		// Name is the derivation that produced this request ("new" for the root).
		Name      string
		Specifier string
		FromFile  string
	}
)

// Well-known Meta keys.
const (
	// MetaFallback marks a request retried from the app root on behalf of an
	// auto-upgraded package.
	MetaFallback = "stitch.fallback"
	// MetaKind records which syntax produced the request (import, require...).
	MetaKind = "stitch.kind"
)

// NewRequest creates a root request.
func NewRequest(specifier, fromFile string, meta Meta) *Request {
	return &Request{specifier: specifier, fromFile: fromFile, meta: maps.Clone(meta), step: "new"}
}

// Specifier returns the specifier as currently rewritten.
func (r *Request) Specifier() string { return r.specifier }

// FromFile returns the absolute path of the importing file.
func (r *Request) FromFile() string { return r.fromFile }

// Meta returns a copy of the request's metadata.
func (r *Request) Meta() Meta { return maps.Clone(r.meta) }

// MetaValue returns one metadata entry.
func (r *Request) MetaValue(key string) (string, bool) {
	v, ok := r.meta[key]
	return v, ok
}

// IsVirtual reports whether the request was virtualized.
func (r *Request) IsVirtual() bool { return r.virtual }

// IsNotFound reports whether the request was marked terminally unresolved.
func (r *Request) IsNotFound() bool { return r.notFound }

// Resolved returns the staged resolution, or nil.
func (r *Request) Resolved() Resolution { return r.resolved }

func (r *Request) derive(step string) *Request {
	c := *r
	c.parent = r
	c.step = step
	return &c
}

// Alias returns a request for specifier from the same file.
func (r *Request) Alias(specifier string) *Request {
	if specifier == r.specifier {
		return r
	}
	c := r.derive("alias")
	c.specifier = specifier
	return c
}

// Rehome returns a request for the same specifier issued from fromFile.
func (r *Request) Rehome(fromFile string) *Request {
	if fromFile == r.fromFile {
		return r
	}
	c := r.derive("rehome")
	c.fromFile = fromFile
	return c
}

// Virtualize returns a request resolved to the virtual module filename.
func (r *Request) Virtualize(filename string) *Request {
	c := r.derive("virtualize")
	c.specifier = filename
	c.virtual = true
	return c
}

// WithMeta returns a request carrying a copy of meta.
func (r *Request) WithMeta(meta Meta) *Request {
	c := r.derive("meta")
	c.meta = maps.Clone(meta)
	return c
}

// NotFound returns a request marked as terminally unresolved.
func (r *Request) NotFound() *Request {
	c := r.derive("not-found")
	c.notFound = true
	return c
}

// ResolveTo returns a request with res staged as its final resolution.
func (r *Request) ResolveTo(res Resolution) *Request {
	c := r.derive("resolve-to")
	c.resolved = res
	return c
}

// History returns every request in the chain, root first.
func (r *Request) History() []Step {
	var steps []Step
	for cur := r; cur != nil; cur = cur.parent {
		steps = append(steps, Step{Name: cur.step, Specifier: cur.specifier, FromFile: cur.fromFile})
	}
	slices.Reverse(steps)
	return steps
}

func (r *Request) String() string {
	return fmt.Sprintf("%q from %s", r.specifier, r.fromFile)
}
