// SPDX-License-Identifier: MPL-2.0

// Package benchmark holds benchmarks for the stitch hot paths, used to
// produce PGO profiles:
//   - stitch.cue loading and schema validation
//   - JavaScript import scanning
//   - template parsing and static resolution
//   - module request resolution
//
// To generate a profile, run:
//
//	go test -run '^$' -bench . -cpuprofile default.pgo ./internal/benchmark
package benchmark
