// SPDX-License-Identifier: MPL-2.0

package bundler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invowk/stitch/internal/resolver"
	"github.com/invowk/stitch/internal/testutil"
	"github.com/invowk/stitch/internal/virtual"
	"github.com/invowk/stitch/pkg/pkgcache"
)

func newApp(t *testing.T, files map[string]string) (*Bundler, string) {
	t.Helper()

	root := t.TempDir()
	fsys := afero.NewOsFs()
	testutil.WriteManifest(t, fsys, root, map[string]any{
		"name":    "my-app",
		"version": "1.0.0",
	})
	testutil.WriteTree(t, fsys, root, files)

	cache, err := pkgcache.New(root, pkgcache.Options{FS: fsys})
	require.NoError(t, err)
	r, err := resolver.New(resolver.Options{Cache: cache, StaticComponents: true})
	require.NoError(t, err)
	b, err := New(Options{Resolver: r})
	require.NoError(t, err)
	return b, root
}

func bundleText(res *Result) string {
	var sb strings.Builder
	for _, out := range res.Outputs {
		sb.Write(out.Contents)
	}
	return sb.String()
}

func TestBuildBundlesApp(t *testing.T) {
	t.Parallel()

	b, root := newApp(t, map[string]string{
		"app/app.js": strings.Join([]string{
			`import { hbs } from "ember-cli-htmlbars";`,
			`import Component from "@glimmer/component";`,
			"export const greeting = hbs`<Hello />`;",
			"export default class App extends Component {}",
		}, "\n"),
		"app/components/hello.js":       "export default class Hello {}\n",
		"app/templates/application.hbs": "<Hello />\n",
	})

	res, err := b.Build(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, res.Outputs)
	assert.True(t, virtual.IsVirtual(res.Entrypoint))

	text := bundleText(res)
	assert.Contains(t, text, "my-app/components/hello")
	assert.Contains(t, text, "my-app/templates/application")
	assert.Contains(t, text, "@glimmer/component")
	assert.NotContains(t, text, "ember-cli-htmlbars")

	var names []string
	for _, out := range res.Outputs {
		names = append(names, filepath.Base(out.Path))
	}
	assert.Contains(t, names, "app.js")
	assert.NotEmpty(t, b.Registry().WatchedPaths())
	assert.Contains(t, b.Registry().WatchedPaths(), filepath.Join(root, "app"))
}

func TestBuildReportsUnresolvedImports(t *testing.T) {
	t.Parallel()

	b, _ := newApp(t, map[string]string{
		"app/app.js": `import missing from "./does-not-exist";` + "\nexport default missing;\n",
	})

	_, err := b.Build(context.Background())
	require.ErrorIs(t, err, ErrBuildFailed)
	var nf resolver.NotFound
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "./does-not-exist", nf.Specifier)
}

func TestBuildRequiresBootModule(t *testing.T) {
	t.Parallel()

	b, _ := newApp(t, map[string]string{"app/router.js": "export default 1;\n"})
	_, err := b.Build(context.Background())
	require.ErrorIs(t, err, ErrBootModuleMissing)
	assert.Contains(t, err.Error(), "boot module app/app.js")
}

func TestEntrypointRegistersAppModules(t *testing.T) {
	t.Parallel()

	b, root := newApp(t, map[string]string{
		"app/app.js":                   "export default 1;\n",
		"app/routes/index.js":          "export default 2;\n",
		"app/templates/index.hbs":      "hi\n",
		"app/styles/app.css":           "body {}\n",
		"app/components/card/index.js": "export default 3;\n",
	})

	d, err := b.Entrypoint()
	require.NoError(t, err)
	assert.Equal(t, virtual.KindEntrypoint, d.Kind)
	assert.Equal(t, filepath.Join(root, "app", "app.js"), d.Main)

	var runtimeNames []string
	for _, e := range d.Entries {
		runtimeNames = append(runtimeNames, e.RuntimeName)
	}
	assert.Equal(t, []string{
		"my-app/app",
		"my-app/components/card/index",
		"my-app/routes/index",
		"my-app/templates/index",
	}, runtimeNames)
	assert.Equal(t, []string{filepath.Join(root, "app")}, d.Watch)
}

func TestImportedNames(t *testing.T) {
	t.Parallel()

	b, _ := newApp(t, map[string]string{"app/app.js": "export default 1;\n"})
	_, err := b.loadJS("/x.js", strings.Join([]string{
		`import Component, { tracked, action as act } from "@glimmer/tracking";`,
		`import * as ns from "@glimmer/tracking";`,
		`export { cached } from "@glimmer/tracking";`,
		`import { other } from "elsewhere";`,
	}, "\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"tracked", "action", "cached"}, b.importedNames("/x.js", "@glimmer/tracking"))
	assert.Nil(t, b.importedNames("/unknown.js", "@glimmer/tracking"))
}

func TestNewRequiresResolver(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.ErrorIs(t, err, ErrNoResolver)
}
