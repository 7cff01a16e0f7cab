// SPDX-License-Identifier: MPL-2.0

// Package template parses Glimmer templates, decides which component,
// helper and modifier references resolve statically, and compiles templates
// into ES modules that import what they use.
//
// Block params introduce lexical scope: a name bound with `as |x|` shadows
// any global invokable of the same name for the rest of that block.
package template
