// SPDX-License-Identifier: MPL-2.0

// Package pkgcache models the on-disk packages of an Ember application.
//
// A [Package] is identified by its normalized root directory. Packages are
// obtained through a [Cache], which guarantees that the same root always
// yields the same *Package for the lifetime of the cache:
//   - [Cache.Get]: load (or reuse) the package rooted at a directory
//   - [Cache.Resolve]: node_modules resolution of a dependency by name
//   - [Cache.OwnerOfFile]: nearest enclosing package of a file
//   - [Cache.MaybeMoved] / [Cache.Original]: rewritten-package translation
//
// # Rewritten packages
//
// During the compatibility build some packages are copied to a new location
// (for example under node_modules/.stitch/rewritten-packages). The
// [RewrittenIndex] persisted next to those copies maps each original root to
// its new root, plus optional extra resolution edges. A rewritten package keeps
// resolving its dependencies as if it still lived at its original location,
// using the original package's dependency declarations.
package pkgcache
