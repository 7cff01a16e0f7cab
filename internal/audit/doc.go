// SPDX-License-Identifier: MPL-2.0

// Package audit re-walks built output and verifies that every import
// resolves and that every imported name is exported by its target.
//
// The walk is driven through a Host, which owns resolution and loading:
// FSHost audits an output directory on disk and HTTPHost audits a running
// app. Problems are collected as findings rather than returned as errors;
// only host failures abort a run. Findings can be silenced with a filter
// module written by Acknowledge.
package audit
