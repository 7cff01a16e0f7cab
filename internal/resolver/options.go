// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/invowk/stitch/pkg/pkgcache"
)

type (
	// EngineConfig describes an Ember engine whose app tree is scoped to its
	// own active addons.
	EngineConfig struct {
		PackageName string
		Root        string
		IsLazy      bool
		// ActiveAddons are package names resolved from the engine root.
		ActiveAddons []string
	}

	// ExtraImport injects side-effect imports into every file whose app-root
	// relative path matches the File glob.
	ExtraImport struct {
		File    string
		Imports []string
	}

	// Options configures a Resolver. Everything the resolver needs arrives
	// here; there is no ambient registry.
	Options struct {
		// Cache is the package model. Required.
		Cache *pkgcache.Cache
		// Host performs default resolution. Defaults to an FSHost over Cache.
		Host Host

		ModulePrefix    string
		PodModulePrefix string

		// RenamePackages rewrites the leading package segment of a specifier.
		RenamePackages map[string]string
		// RenameModules rewrites exact specifiers.
		RenameModules map[string]string

		// ActiveAddons maps addon names to roots. Empty means discover every
		// Ember addon reachable from the app.
		ActiveAddons map[string]string
		Engines      []EngineConfig

		// Externals are specifiers (or doublestar patterns) always left to the
		// runtime registry.
		Externals []string
		// AllowRuntimeFailure are doublestar patterns of specifiers that may
		// fail at runtime instead of at build time.
		AllowRuntimeFailure []string

		ResolvableExtensions []string
		// ExternalsDir receives content-addressed shim files. Empty keeps shims
		// virtual.
		ExternalsDir string
		ExtraImports []ExtraImport
		EmberVersion string

		StaticComponents             bool
		StaticHelpers                bool
		StaticModifiers              bool
		AllowUnsafeDynamicComponents bool

		Logger  *log.Logger
		Metrics *Metrics
		// FS overrides the filesystem used for shims. Defaults to Cache.FS().
		FS afero.Fs
	}
)
