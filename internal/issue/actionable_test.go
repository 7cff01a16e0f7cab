// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("package not found")

func TestActionableErrorError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ActionableError
		want string
	}{
		{"operation only", &ActionableError{Operation: "build app"}, "failed to build app"},
		{"with resource", &ActionableError{Operation: "load configuration", Resource: "stitch.cue"}, "failed to load configuration: stitch.cue"},
		{
			"with cause",
			&ActionableError{Operation: "resolve import", Resource: "app/app.js", Cause: errMissing},
			"failed to resolve import: app/app.js: package not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestActionableErrorUnwrapChain(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("lookup ember-source: %w", errMissing)
	err := NewErrorContext().WithOperation("resolve import").Wrap(wrapped).BuildError()
	require.ErrorIs(t, err, errMissing)

	var ae *ActionableError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "resolve import", ae.Operation)
}

func TestActionableErrorFormat(t *testing.T) {
	t.Parallel()

	err := NewErrorContext().
		WithOperation("resolve import").
		WithResource("app/app.js").
		WithSuggestion("Reinstall dependencies").
		WithSuggestions("Check package.json", "Run stitch resolve --trace").
		Wrap(fmt.Errorf("lookup: %w", errMissing)).
		Build()

	plain := err.Format(false)
	assert.Equal(t, "failed to resolve import: app/app.js: lookup: package not found\n"+
		"\n  • Reinstall dependencies"+
		"\n  • Check package.json"+
		"\n  • Run stitch resolve --trace", plain)

	verbose := err.Format(true)
	assert.Contains(t, verbose, "Error chain:\n  1. lookup: package not found\n  2. package not found")
	assert.NotContains(t, plain, "Error chain")
}

func TestErrorContextRequiresOperation(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewErrorContext().WithResource("x").Build())
	assert.NoError(t, NewErrorContext().Wrap(errMissing).BuildError())
}

func TestWrapWithContext(t *testing.T) {
	t.Parallel()

	assert.Nil(t, WrapWithContext(nil, "build app", "dist"))
	err := WrapWithContext(errMissing, "build app", "dist")
	assert.Equal(t, "failed to build app: dist: package not found", err.Error())
}

func TestGuidance(t *testing.T) {
	t.Parallel()

	none := &ActionableError{Operation: "build app"}
	out, err := none.Guidance("notty")
	require.NoError(t, err)
	assert.Empty(t, out)

	linked := NewErrorContext().WithOperation("build app").WithIssue(BootModuleMissingId).Build()
	out, err = linked.Guidance("notty")
	require.NoError(t, err)
	assert.Contains(t, out, "boot module")

	unknown := &ActionableError{Operation: "build app", Issue: 999}
	_, err = unknown.Guidance("notty")
	require.ErrorIs(t, err, ErrUnknownIssue)
}
