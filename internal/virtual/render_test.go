// SPDX-License-Identifier: MPL-2.0

package virtual

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderIsDeterministic(t *testing.T) {
	t.Parallel()

	// Structurally equal descriptors built from differently ordered input.
	a := Manifest("/app", "implicit-modules", []Entry{
		{RuntimeName: "b/x", Path: "/app/node_modules/b/x.js"},
		{RuntimeName: "a/y", Path: "/app/node_modules/a/y.js"},
	}, []string{"/app/node_modules/b", "/app/node_modules/a"})
	b := Manifest("/app", "implicit-modules", []Entry{
		{RuntimeName: "a/y", Path: "/app/node_modules/a/y.js"},
		{RuntimeName: "b/x", Path: "/app/node_modules/b/x.js"},
	}, []string{"/app/node_modules/a", "/app/node_modules/b"})

	first, err := Render(a)
	require.NoError(t, err)
	second, err := Render(b)
	require.NoError(t, err)

	require.Equal(t, first.Source, second.Source)
	require.Equal(t, first.Watched, second.Watched)
	require.Equal(t, a.Filename(), b.Filename())

	// Rendering through the filename yields the same bytes.
	decoded, err := Decode(a.Filename())
	require.NoError(t, err)
	third, err := Render(decoded)
	require.NoError(t, err)
	require.Equal(t, first.Source, third.Source)
}

func TestRenderExternal(t *testing.T) {
	t.Parallel()

	c, err := Render(External("/app", "@ember/service", []string{"inject", "default", "inject", "not-an-ident"}))
	require.NoError(t, err)

	want := `const m = window.require("@ember/service");
const esm = m && m.__esModule;
export default esm ? m.default : m;
export const inject = m["inject"];
`
	require.Equal(t, want, c.Source)
	require.Empty(t, c.Watched)
}

func TestRenderMissing(t *testing.T) {
	t.Parallel()

	c, err := Render(Missing("/app", "./gone", "/app/app/app.js"))
	require.NoError(t, err)
	require.Equal(t, "throw new Error(\"Could not find module `./gone` imported from `/app/app/app.js`\");\n", c.Source)
}

func TestRenderTemplateOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		version string
		want    string
	}{
		{name: "modern ember", version: "5.4.0", want: "templateOnly()"},
		{name: "unknown version defaults to modern", version: "", want: "templateOnly()"},
		{name: "classic ember", version: "3.16.0", want: "Component.extend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := TemplateOnly("/app/app/components/hello.hbs", tt.version)
			c, err := Render(d)
			require.NoError(t, err)
			require.Contains(t, c.Source, tt.want)
			require.Contains(t, c.Source, `import template from "./hello.hbs";`)
			require.Equal(t, []string{"/app/app/components/hello.hbs"}, c.Watched)
			require.Equal(t, "/app/app/components", d.Anchor)
		})
	}

	_, err := Render(TemplateOnly("/app/x.hbs", "not-a-version"))
	require.Error(t, err)
}

func TestRenderEntrypoint(t *testing.T) {
	t.Parallel()

	d := Entrypoint("/app", "/app/app/app.js", []Entry{
		{RuntimeName: "my-app/routes/index", Path: "/app/app/routes/index.js"},
		{RuntimeName: "my-app/app", Path: "/app/app/app.js"},
	}, []string{"/app/app"})

	c, err := Render(d)
	require.NoError(t, err)

	want := strings.Join([]string{
		`import * as m0 from "./app/app.js";`,
		`import * as m1 from "./app/routes/index.js";`,
		`const d = window.define;`,
		`d("my-app/app", [], () => m0);`,
		`d("my-app/routes/index", [], () => m1);`,
		`export { default } from "./app/app.js";`,
		``,
	}, "\n")
	require.Equal(t, want, c.Source)
	require.Equal(t, []string{"/app/app", "/app/app/app.js", "/app/app/routes/index.js"}, c.Watched)
}

func TestDecodeRejectsOrdinaryFiles(t *testing.T) {
	t.Parallel()

	_, err := Decode("/app/app/app.js")
	require.True(t, errors.Is(err, ErrNotVirtual))
	require.False(t, IsVirtual("/app/app/app.js"))

	_, err = Render(Descriptor{Kind: "nope"})
	require.True(t, errors.Is(err, ErrUnknownKind))
}

func TestRegistryAffected(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	entry := Entrypoint("/app", "/app/app/app.js", nil, []string{"/app/app"})
	tmpl := TemplateOnly("/app/app/components/hello.hbs", "")
	ext := External("/app", "rsvp", nil)

	for _, d := range []Descriptor{entry, tmpl, ext} {
		_, err := r.Load(d.Filename())
		require.NoError(t, err)
	}
	require.Equal(t, 3, r.Len())

	got := r.Affected("/app/app/components/hello.hbs")
	require.ElementsMatch(t, []string{entry.Filename(), tmpl.Filename()}, got)

	require.Equal(t, []string{entry.Filename()}, r.Affected("/app/app/routes/new.js"))
	require.Empty(t, r.Affected("/app/application.js"))

	r.Forget(entry.Filename())
	require.Equal(t, []string{tmpl.Filename()}, r.Affected("/app/app/components/hello.hbs"))
	require.Equal(t, []string{"/app/app/components/hello.hbs"}, r.WatchedPaths())
}
