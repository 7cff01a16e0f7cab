// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"fmt"

	"github.com/invowk/stitch/internal/jsscan"
)

// Finding messages. Filters match on these exact strings.
const (
	MessageUnresolved      = "unable to resolve dependency"
	MessageMissingDefault  = "importing a non-existent default export"
	MessageMissingNamed    = "importing a non-existent named export"
	MessageParseFailure    = "failed to parse"
	MessageJSONParseFailed = "failed to parse JSON"
	MessageLoadFailure     = "failed to load"
)

// RootMarker is the ConsumedFrom value of entrypoints.
const RootMarker = "<entrypoint>"

// Module states, in increasing order of completeness.
const (
	StateDiscovered State = iota
	StateParsed
	StateResolved
	StateLinked
)

// Content types a Host can hand back.
const (
	ContentJavaScript ContentType = "javascript"
	ContentHTML       ContentType = "html"
	ContentJSON       ContentType = "json"
	ContentTemplate   ContentType = "template"
)

// Target kinds returned by Host.Resolve.
const (
	TargetModule TargetKind = iota
	// TargetExternal is a dependency provided at runtime; it is not audited.
	TargetExternal
	// TargetMissing is a dependency that could not be resolved.
	TargetMissing
)

type (
	// State is how far a module got through the audit.
	State int

	// ContentType classifies loaded module content.
	ContentType string

	// TargetKind classifies a resolved dependency.
	TargetKind int

	// Target is the answer to Host.Resolve.
	Target struct {
		Kind TargetKind
		// ID identifies the module for TargetModule.
		ID string
	}

	// Content is a loaded module.
	Content struct {
		Type   ContentType
		Source []byte
	}

	// Finding is one problem in the audited output.
	Finding struct {
		// Filename is relative to the audited root and always starts with
		// "./" or "../".
		Filename  string `json:"filename"`
		Message   string `json:"message"`
		Detail    string `json:"detail"`
		CodeFrame string `json:"codeFrame,omitempty"`
	}

	// ImportedName is one binding of an import: Name is "default", "*" or
	// the exported name.
	ImportedName struct {
		Name  string `json:"name"`
		Local string `json:"local"`
	}

	// Import is one dependency of a module.
	Import struct {
		Specifier string         `json:"source"`
		Names     []ImportedName `json:"specifiers,omitempty"`
		Dynamic   bool           `json:"dynamic,omitempty"`
		// Reexport is set for `export { a } from` and `export * as ns from`.
		Reexport bool `json:"reexport,omitempty"`

		pos jsscan.Position
	}

	// Module is the audit's view of one loaded file.
	Module struct {
		AppRelativePath string `json:"appRelativePath"`
		// ConsumedFrom is the first module that discovered this one, or
		// RootMarker for entrypoints.
		ConsumedFrom string      `json:"consumedFrom"`
		State        State       `json:"state"`
		Type         ContentType `json:"type,omitempty"`
		Imports      []Import    `json:"imports,omitempty"`
		// Exports are the module's own export names.
		Exports []string `json:"exports,omitempty"`
		// ExportStars are the specifiers of `export * from` statements.
		ExportStars []string `json:"exportStars,omitempty"`
		// LinkedExports is the full export surface once the module is linked.
		LinkedExports []string `json:"linkedExports,omitempty"`
		// Resolutions maps each specifier to the app relative path of its
		// target, "" when unresolved and ExternalMarker for runtime modules.
		Resolutions map[string]string `json:"resolutions,omitempty"`
		CommonJS    bool              `json:"isCJS,omitempty"`
		AMD         bool              `json:"isAMD,omitempty"`

		id     string
		source []byte
		deps   map[string]*Module
		linked map[string]bool
	}
)

// ExternalMarker is the Resolutions value of runtime dependencies.
const ExternalMarker = "<external>"

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateParsed:
		return "parsed"
	case StateResolved:
		return "resolved"
	case StateLinked:
		return "linked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for c := StateDiscovered; c <= StateLinked; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown module state %q", text)
}

// ID returns the host identifier of the module.
func (m *Module) ID() string { return m.id }

// permissive reports whether the module's export surface cannot be
// enumerated, so imports from it are never flagged.
func (m *Module) permissive() bool { return m.CommonJS || m.AMD }

func (f Finding) key() string { return f.Filename + "\x00" + f.Message + "\x00" + f.Detail }
