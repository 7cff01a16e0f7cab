// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/charmbracelet/fang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invowk/stitch/internal/dag"
	"github.com/invowk/stitch/internal/issue"
	"github.com/invowk/stitch/internal/resolver"
	"github.com/invowk/stitch/pkg/pkgcache"
)

func TestGetVersionString(t *testing.T) {
	// Not parallel: subtests mutate package-level Version/Commit/BuildDate vars.

	t.Run("ldflags version takes priority", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "v1.2.3"
		Commit = "abc1234"
		BuildDate = "2025-06-15T10:00:00Z"

		assert.Equal(t, "v1.2.3 (commit: abc1234, built: 2025-06-15T10:00:00Z)", getVersionString())
	})

	t.Run("fallback to dev", func(t *testing.T) {
		origVersion := Version
		t.Cleanup(func() { Version = origVersion })

		Version = "dev"
		assert.Equal(t, "dev (built from source)", getVersionString())
	})
}

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	ae := issue.NewErrorContext().
		WithOperation("build app").
		WithResource("app/app.js").
		WithSuggestion("Check the import").
		Wrap(errors.New("boom")).
		Build()

	tests := []struct {
		name    string
		err     error
		verbose bool
		want    []string
		empty   bool
	}{
		{name: "reported exit", err: &ExitError{Code: 1}, empty: true},
		{
			name: "actionable",
			err:  ae,
			want: []string{"failed to build app: app/app.js: boom", "Check the import"},
		},
		{
			name:    "actionable verbose",
			err:     ae,
			verbose: true,
			want:    []string{"Error chain:", "1. boom"},
		},
		{
			name: "wrapped in exit error",
			err:  &ExitError{Code: 1, Err: ae},
			want: []string{"failed to build app"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			errorHandler(func() bool { return tt.verbose })(&buf, fang.Styles{}, tt.err)
			if tt.empty {
				assert.Empty(t, buf.String())
				return
			}
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestFormatErrorForDisplay(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain", formatErrorForDisplay(errors.New("plain"), false))

	ae := issue.WrapWithContext(errors.New("cause"), "load configuration", "stitch.cue")
	assert.Equal(t, "failed to load configuration: stitch.cue: cause",
		formatErrorForDisplay(fmt.Errorf("outer: %w", ae), false))
}

func TestActionableLinksIssues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want issue.Id
	}{
		{name: "amd", err: fmt.Errorf("x: %w", resolver.ErrAMDInV2Addon), want: issue.AMDInV2AddonId},
		{name: "hbs literal", err: resolver.ErrMalformedHbsLiteral, want: issue.MalformedTemplateLiteralId},
		{name: "cycle", err: &dag.CycleError{Cycle: []string{"a", "b", "a"}}, want: issue.AddonCycleId},
		{name: "not found", err: resolver.NotFound{Specifier: "x"}, want: issue.UnresolvedImportId},
		{name: "package", err: pkgcache.ErrPackageNotFound, want: issue.PackageNotFoundId},
		{name: "other", err: errors.New("other"), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := actionable(tt.err, "build app", "app")
			var ae *issue.ActionableError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.want, ae.Issue)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("existing context is kept", func(t *testing.T) {
		t.Parallel()

		inner := issue.WrapWithContext(errors.New("x"), "load configuration", "stitch.cue")
		assert.Same(t, inner, actionable(inner, "build app", "app"))
	})

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, actionable(nil, "build app", "app"))
	})
}
