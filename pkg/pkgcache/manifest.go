// SPDX-License-Identifier: MPL-2.0

package pkgcache

import (
	"encoding/json"
	"fmt"
)

const (
	// ManifestFileName is the name of a package manifest file.
	ManifestFileName = "package.json"

	// AddonTypeApp marks a v2 package as an application.
	AddonTypeApp = "app"
	// AddonTypeAddon marks a v2 package as an addon.
	AddonTypeAddon = "addon"
)

type (
	// StringList decodes either a single JSON string or a list of strings.
	StringList []string

	// LazyLoading is the ember-addon lazy-loading block used by engines.
	LazyLoading struct {
		Enabled bool `json:"enabled"`
	}

	// PeerMeta is a single peerDependenciesMeta entry.
	PeerMeta struct {
		Optional bool `json:"optional"`
	}

	// AddonMeta is the "ember-addon" section of a package manifest.
	AddonMeta struct {
		// Version is the addon format version (1 for classic, 2 for native packages).
		Version int `json:"version"`
		// Type is "addon" or "app".
		Type string `json:"type,omitempty"`
		// Main is the classic addon entry point.
		Main string `json:"main,omitempty"`
		// AppJS maps app-tree relative paths to files inside this package.
		// Example: {"./components/foo.js": "./dist/_app_/components/foo.js"}
		AppJS map[string]string `json:"app-js,omitempty"`
		// Externals lists runtime names this package expects to find in the
		// runtime AMD registry rather than statically.
		Externals []string `json:"externals,omitempty"`
		// AutoUpgraded is set on classic addons converted to v2 format.
		AutoUpgraded bool `json:"auto-upgraded,omitempty"`
		// LazyLoading configures lazy engines.
		LazyLoading *LazyLoading `json:"lazy-loading,omitempty"`
		// Before and After order this addon relative to others.
		Before StringList `json:"before,omitempty"`
		After  StringList `json:"after,omitempty"`
		// ImplicitModules are modules that classic builds always included.
		ImplicitModules     []string `json:"implicit-modules,omitempty"`
		ImplicitTestModules []string `json:"implicit-test-modules,omitempty"`
	}

	// Manifest is the subset of package.json read by the resolver.
	Manifest struct {
		Name                 string              `json:"name"`
		Version              string              `json:"version"`
		Main                 string              `json:"main,omitempty"`
		Module               string              `json:"module,omitempty"`
		Exports              json.RawMessage     `json:"exports,omitempty"`
		Keywords             []string            `json:"keywords,omitempty"`
		Dependencies         map[string]string   `json:"dependencies,omitempty"`
		DevDependencies      map[string]string   `json:"devDependencies,omitempty"`
		PeerDependencies     map[string]string   `json:"peerDependencies,omitempty"`
		PeerDependenciesMeta map[string]PeerMeta `json:"peerDependenciesMeta,omitempty"`
		OptionalDependencies map[string]string   `json:"optionalDependencies,omitempty"`
		EmberAddon           *AddonMeta          `json:"ember-addon,omitempty"`
	}
)

// UnmarshalJSON accepts both "x" and ["x", "y"].
func (s *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*s = list
	return nil
}

// ParseManifest decodes package.json content.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// HasKeyword reports whether the manifest lists the given keyword.
func (m Manifest) HasKeyword(keyword string) bool {
	for _, k := range m.Keywords {
		if k == keyword {
			return true
		}
	}
	return false
}
