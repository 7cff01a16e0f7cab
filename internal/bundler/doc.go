// SPDX-License-Identifier: MPL-2.0

// Package bundler runs esbuild with the resolver as its module host.
//
// The build starts from a virtual entrypoint that registers every app module
// under its runtime name. Each import esbuild encounters is answered by the
// resolver: files are loaded through the package cache filesystem, runtime
// externals become shims that surface the names the importer uses, and
// virtual modules are rendered from their filenames. Templates, standalone
// and inline, are compiled to JavaScript on load.
package bundler
