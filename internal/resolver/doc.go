// SPDX-License-Identifier: MPL-2.0

// Package resolver decides where every module request in an Ember build
// goes. A Request flows through an ordered rule chain (module renames,
// package renames, externals, the merged app tree) and then the host's
// default node resolution; the answer is a Found file, a Virtual module,
// an External left to the runtime loader, or NotFound.
//
// Requests are immutable. Each rewrite derives a new Request, and History
// replays the chain that produced an answer.
//
// The same Resolver also rewrites specifiers in source files (Adjust) and
// answers the template compiler's questions about components, helpers and
// modifiers.
package resolver
