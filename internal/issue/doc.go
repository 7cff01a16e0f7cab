// SPDX-License-Identifier: MPL-2.0

// Package issue turns build, resolve and audit failures into messages a user
// can act on.
//
// ActionableError carries the failed operation, the file or specifier
// involved, suggestions, and optionally a catalog Id whose Markdown guidance
// is rendered with glamour when the CLI runs verbosely.
package issue
