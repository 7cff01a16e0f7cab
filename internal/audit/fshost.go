// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// DefaultProbeExtensions are tried, in order, for extensionless specifiers.
var DefaultProbeExtensions = []string{".js", ".mjs", ".hbs", ".json"}

type (
	// BareResolver answers bare specifiers (package names) for the FS host.
	BareResolver func(ctx context.Context, specifier, fromFile string) (Target, error)

	// FSHostOptions configures an FSHost.
	FSHostOptions struct {
		FS   afero.Fs
		Root string
		// Extensions overrides DefaultProbeExtensions.
		Extensions []string
		// Bare resolves package specifiers. Without it they are missing.
		Bare BareResolver
	}

	// FSHost audits a build output directory. Module IDs are absolute paths;
	// specifiers starting with "/" are relative to Root, as a web server
	// would serve them.
	FSHost struct {
		fs         afero.Fs
		root       string
		extensions []string
		bare       BareResolver
	}
)

// NewFSHost creates an FSHost.
func NewFSHost(opts FSHostOptions) *FSHost {
	h := &FSHost{fs: opts.FS, root: filepath.Clean(opts.Root), extensions: opts.Extensions, bare: opts.Bare}
	if h.fs == nil {
		h.fs = afero.NewOsFs()
	}
	if len(h.extensions) == 0 {
		h.extensions = DefaultProbeExtensions
	}
	return h
}

// Entrypoint returns the ID of a root relative file.
func (h *FSHost) Entrypoint(rel string) string {
	return filepath.Join(h.root, filepath.FromSlash(rel))
}

// Resolve implements Host.
func (h *FSHost) Resolve(ctx context.Context, specifier, fromID string) (Target, error) {
	if isRemote(specifier) {
		return Target{Kind: TargetExternal}, nil
	}
	spec := stripQuery(specifier)

	var base string
	switch {
	case strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../"):
		base = filepath.Join(filepath.Dir(fromID), filepath.FromSlash(spec))
	case filepath.IsAbs(spec) && strings.HasPrefix(spec, h.root+string(filepath.Separator)):
		base = spec
	case strings.HasPrefix(spec, "/"):
		base = filepath.Join(h.root, filepath.FromSlash(spec))
	case h.bare != nil:
		return h.bare(ctx, specifier, fromID)
	default:
		return Target{Kind: TargetMissing}, nil
	}

	if file, ok := h.probe(base); ok {
		return Target{Kind: TargetModule, ID: file}, nil
	}
	return Target{Kind: TargetMissing}, nil
}

func (h *FSHost) probe(base string) (string, bool) {
	candidates := []string{base}
	for _, ext := range h.extensions {
		candidates = append(candidates, base+ext)
	}
	for _, ext := range h.extensions {
		candidates = append(candidates, filepath.Join(base, "index"+ext))
	}
	for _, c := range candidates {
		if info, err := h.fs.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

// Load implements Host. Unreadable files become findings.
func (h *FSHost) Load(_ context.Context, id string) (*Content, []Finding, error) {
	data, err := afero.ReadFile(h.fs, id)
	if err != nil {
		return nil, []Finding{{Filename: h.RelativePath(id), Message: MessageLoadFailure, Detail: err.Error()}}, nil
	}
	return &Content{Type: contentTypeOf(id), Source: data}, nil, nil
}

// RelativePath implements Host.
func (h *FSHost) RelativePath(id string) string {
	rel, err := filepath.Rel(h.root, id)
	if err != nil {
		return filepath.ToSlash(id)
	}
	return explicitRelative(filepath.ToSlash(rel))
}

func contentTypeOf(path string) ContentType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return ContentHTML
	case ".json":
		return ContentJSON
	case ".hbs":
		return ContentTemplate
	default:
		return ContentJavaScript
	}
}

// explicitRelative prefixes rel with "./" unless it already climbs out.
func explicitRelative(rel string) string {
	if rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "./") {
		return rel
	}
	return "./" + rel
}

func isRemote(specifier string) bool {
	for _, scheme := range []string{"http://", "https://", "//", "data:"} {
		if strings.HasPrefix(specifier, scheme) {
			return true
		}
	}
	return false
}

func stripQuery(specifier string) string {
	if i := strings.IndexAny(specifier, "?#"); i >= 0 {
		return specifier[:i]
	}
	return specifier
}
