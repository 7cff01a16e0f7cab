// SPDX-License-Identifier: MPL-2.0

// Package config loads stitch configuration using Viper with CUE as the file
// format.
//
// The configuration lives in stitch.cue at the app root, or in the file
// passed with --config. It is validated against the embedded #Config schema
// (config_schema.cue), merged over defaults, and may be overridden field by
// field with STITCH_* environment variables (STITCH_MODULEPREFIX,
// STITCH_BUILD_OUTDIR, STITCH_LOG_LEVEL, ...).
package config
