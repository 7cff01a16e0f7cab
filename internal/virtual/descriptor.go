// SPDX-License-Identifier: MPL-2.0

// Package virtual describes modules that have no file on disk and renders
// their source text deterministically from a descriptor.
//
// A descriptor round-trips through its virtual filename, so a host bundler
// that only hands back the filename can always regenerate the same content.
package virtual

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Dir is the path segment that marks a virtual filename.
const Dir = "-stitch-virtual"

const (
	// KindExternal re-exports a module looked up in the runtime AMD registry.
	KindExternal Kind = "external"
	// KindMissing throws at runtime naming a specifier that could not be resolved.
	KindMissing Kind = "missing"
	// KindTemplateOnly turns a lone template into an invokable component module.
	KindTemplateOnly Kind = "template-only"
	// KindManifest imports a fixed list of modules and registers them under
	// their runtime names (vendor, test-support, implicit-modules).
	KindManifest Kind = "manifest"
	// KindEntrypoint is a manifest for the app's own modules followed by the
	// application boot module.
	KindEntrypoint Kind = "entrypoint"
)

var (
	// ErrNotVirtual is returned by Decode for a filename without the virtual marker.
	ErrNotVirtual = errors.New("not a virtual module filename")
	// ErrUnknownKind is returned for descriptors of an unrecognized kind.
	ErrUnknownKind = errors.New("unknown virtual module kind")
)

type (
	// Kind names a family of virtual modules.
	Kind string

	// Entry is one module registered by a manifest or entrypoint.
	Entry struct {
		RuntimeName string `json:"runtimeName"`
		Path        string `json:"path"`
	}

	// Descriptor is the complete input to Render. Two descriptors that are
	// structurally equal always render to byte-identical source.
	Descriptor struct {
		Kind Kind `json:"kind"`
		// Anchor is the directory the virtual file logically lives in; relative
		// imports in the rendered source resolve against it.
		Anchor string `json:"anchor"`
		// Specifier is the runtime name (external) or the unresolved
		// specifier (missing).
		Specifier string `json:"specifier,omitempty"`
		// From is the importing file of a missing specifier.
		From string `json:"from,omitempty"`
		// Names are named exports the external shim surfaces.
		Names []string `json:"names,omitempty"`
		// Template is the template file of a template-only component.
		Template string `json:"template,omitempty"`
		// EmberVersion selects the template-only component flavor.
		EmberVersion string `json:"emberVersion,omitempty"`
		// Name labels a manifest ("vendor", "test-support", "implicit-modules").
		Name    string  `json:"name,omitempty"`
		Entries []Entry `json:"entries,omitempty"`
		// Main is the module an entrypoint boots after registration.
		Main string `json:"main,omitempty"`
		// Watch lists extra paths (usually directories scanned to build
		// Entries) whose changes invalidate the module.
		Watch []string `json:"watch,omitempty"`
	}
)

// External describes a runtime-lookup shim for name that surfaces the given
// named exports.
func External(anchor, name string, names []string) Descriptor {
	return Descriptor{Kind: KindExternal, Anchor: anchor, Specifier: name, Names: normalize(names)}
}

// Missing describes a shim that throws when executed because specifier could
// not be resolved from from.
func Missing(anchor, specifier, from string) Descriptor {
	return Descriptor{Kind: KindMissing, Anchor: anchor, Specifier: specifier, From: from}
}

// TemplateOnly describes a component module backed only by template.
func TemplateOnly(template, emberVersion string) Descriptor {
	return Descriptor{
		Kind:         KindTemplateOnly,
		Anchor:       filepath.Dir(template),
		Template:     template,
		EmberVersion: emberVersion,
	}
}

// Manifest describes a registration module for entries.
func Manifest(anchor, name string, entries []Entry, watch []string) Descriptor {
	return Descriptor{
		Kind:    KindManifest,
		Anchor:  anchor,
		Name:    name,
		Entries: sortEntries(entries),
		Watch:   normalize(watch),
	}
}

// Entrypoint describes the app entry module: every app module registered under
// its runtime name, then main imported for its side effects.
func Entrypoint(anchor, main string, entries []Entry, watch []string) Descriptor {
	return Descriptor{
		Kind:    KindEntrypoint,
		Anchor:  anchor,
		Main:    main,
		Entries: sortEntries(entries),
		Watch:   normalize(watch),
	}
}

func normalize(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

func sortEntries(in []Entry) []Entry {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.RuntimeName, b.RuntimeName) })
	return slices.CompactFunc(out, func(a, b Entry) bool { return a.RuntimeName == b.RuntimeName })
}

// Filename encodes d into a virtual filename under d.Anchor.
func (d Descriptor) Filename() string {
	payload, err := json.Marshal(d)
	if err != nil {
		// Descriptor has only string fields; Marshal cannot fail.
		panic(err)
	}
	enc := base64.RawURLEncoding.EncodeToString(payload)
	return filepath.Join(d.Anchor, Dir, string(d.Kind)+"."+enc+".js")
}

// IsVirtual reports whether filename was produced by Descriptor.Filename.
func IsVirtual(filename string) bool {
	return filepath.Base(filepath.Dir(filename)) == Dir
}

// Decode recovers the descriptor encoded in filename.
func Decode(filename string) (Descriptor, error) {
	if !IsVirtual(filename) {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotVirtual, filename)
	}
	base := strings.TrimSuffix(filepath.Base(filename), ".js")
	_, enc, ok := strings.Cut(base, ".")
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotVirtual, filename)
	}
	payload, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to decode virtual filename %s: %w", filename, err)
	}
	var d Descriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		return Descriptor{}, fmt.Errorf("failed to decode virtual filename %s: %w", filename, err)
	}
	return d, nil
}
