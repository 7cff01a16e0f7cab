// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestRequestDerivationsDoNotMutate(t *testing.T) {
	t.Parallel()

	meta := Meta{MetaKind: "import"}
	root := NewRequest("lodash", "/app/app/app.js", meta)
	meta[MetaKind] = "changed"

	aliased := root.Alias("lodash-es")
	rehomed := aliased.Rehome("/app/package.json")
	tagged := rehomed.WithMeta(Meta{MetaFallback: "classic"})
	missing := tagged.NotFound()

	require.Equal(t, "lodash", root.Specifier())
	require.Equal(t, "/app/app/app.js", root.FromFile())
	kind, _ := root.MetaValue(MetaKind)
	require.Equal(t, "import", kind)
	require.False(t, root.IsNotFound())

	require.Equal(t, "lodash-es", rehomed.Specifier())
	require.Equal(t, "/app/package.json", rehomed.FromFile())
	require.True(t, missing.IsNotFound())
	require.False(t, tagged.IsNotFound())

	copied := tagged.Meta()
	copied[MetaFallback] = "other"
	fallback, _ := tagged.MetaValue(MetaFallback)
	require.Equal(t, "classic", fallback)
}

func TestRequestUnchangedDerivationsReturnReceiver(t *testing.T) {
	t.Parallel()

	req := NewRequest("x", "/a.js", nil)
	require.Same(t, req, req.Alias("x"))
	require.Same(t, req, req.Rehome("/a.js"))
}

func TestRequestHistory(t *testing.T) {
	t.Parallel()

	final := NewRequest("module/a", "/app/app/app.js", nil).
		Alias("other-module/a").
		Rehome("/app/package.json").
		Virtualize("/app/-stitch-virtual/external.e30.js")

	want := []Step{
		{Name: "new", Specifier: "module/a", FromFile: "/app/app/app.js"},
		{Name: "alias", Specifier: "other-module/a", FromFile: "/app/app/app.js"},
		{Name: "rehome", Specifier: "other-module/a", FromFile: "/app/package.json"},
		{Name: "virtualize", Specifier: "/app/-stitch-virtual/external.e30.js", FromFile: "/app/package.json"},
	}
	if diff := cmp.Diff(want, final.History()); diff != "" {
		t.Errorf("History() mismatch (-want +got):\n%s", diff)
	}
	require.True(t, final.IsVirtual())
}

func TestRequestResolveTo(t *testing.T) {
	t.Parallel()

	req := NewRequest("x", "/a.js", nil)
	staged := req.ResolveTo(External{RuntimeName: "x"})
	require.Nil(t, req.Resolved())
	require.Equal(t, External{RuntimeName: "x"}, staged.Resolved())
}
