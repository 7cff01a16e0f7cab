// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invowk/stitch/internal/testutil"
	"github.com/invowk/stitch/internal/virtual"
)

// newImplicitFS lays out an app depending on addon-x, which in turn depends
// on addon-y and a plain npm package.
func newImplicitFS(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()

	testutil.WriteManifest(t, fsys, "/app", map[string]any{
		"name": "my-app", "version": "1.0.0",
		"dependencies": map[string]string{"addon-x": "*"},
	})
	testutil.WriteTree(t, fsys, "/app", map[string]string{
		"app/app.js": `import "./-stitch-implicit-modules.js";`,
	})

	testutil.WriteManifest(t, fsys, "/app/node_modules/addon-x", map[string]any{
		"name": "addon-x", "version": "1.0.0", "keywords": []string{"ember-addon"},
		"dependencies": map[string]string{"addon-y": "*", "lodash": "*"},
		"ember-addon": map[string]any{
			"version":               2,
			"type":                  "addon",
			"implicit-modules":      []string{"./register", "./_app_/services/session.js"},
			"implicit-test-modules": []string{"./test-support/setup"},
		},
	})
	testutil.WriteTree(t, fsys, "/app/node_modules/addon-x", map[string]string{
		"register.js":               "window.registered = true;",
		"_app_/services/session.js": "export default class Session {}",
		"test-support/setup.js":     "export function setup() {}",
	})

	testutil.WriteManifest(t, fsys, "/app/node_modules/addon-y", map[string]any{
		"name": "addon-y", "version": "1.0.0", "keywords": []string{"ember-addon"},
		"ember-addon": map[string]any{
			"version": 2, "type": "addon",
			"implicit-modules": []string{"./polyfill.js"},
		},
	})
	testutil.WriteTree(t, fsys, "/app/node_modules/addon-y", map[string]string{
		"polyfill.js": "export {};",
	})

	testutil.WriteManifest(t, fsys, "/app/node_modules/lodash", map[string]any{
		"name": "lodash", "version": "4.17.21", "main": "lodash.js",
	})
	testutil.WriteTree(t, fsys, "/app/node_modules/lodash", map[string]string{
		"lodash.js": "module.exports = {};",
	})
	return fsys
}

func TestResolveImplicitModules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		spec    string
		want    []string
		missing []string
	}{
		{
			name: "implicit modules",
			spec: ImplicitModulesSpecifier,
			want: []string{
				"// implicit-modules\n",
				`from "./node_modules/addon-x/register.js";`,
				`from "./node_modules/addon-x/_app_/services/session.js";`,
				`from "./node_modules/addon-y/polyfill.js";`,
				`d("addon-x/register", [], () => m`,
				`d("addon-x/_app_/services/session", [], () => m`,
				`d("addon-y/polyfill", [], () => m`,
			},
			missing: []string{"test-support", "lodash"},
		},
		{
			name: "implicit test modules",
			spec: ImplicitTestModulesSpecifier,
			want: []string{
				"// implicit-test-modules\n",
				`from "./node_modules/addon-x/test-support/setup.js";`,
				`d("addon-x/test-support/setup", [], () => m`,
			},
			missing: []string{"register", "polyfill"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, err := newResolverOn(t, newImplicitFS(t))
			require.NoError(t, err)

			res := resolve(t, r, tt.spec, appFile)
			v, ok := res.(Virtual)
			require.True(t, ok, "expected virtual, got %s", res)
			require.Equal(t, virtual.KindManifest, v.Descriptor.Kind)

			content, err := virtual.Render(v.Descriptor)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, content.Source, w)
			}
			for _, m := range tt.missing {
				assert.NotContains(t, content.Source, m)
			}
			assert.Contains(t, content.Watched, "/app/node_modules/addon-x/package.json")
			assert.Contains(t, content.Watched, "/app/node_modules/addon-y/package.json")

			again := resolve(t, r, v.Filename, appFile)
			assert.Equal(t, v.Filename, again.(Virtual).Filename)
		})
	}
}

func TestResolveImplicitModulesWithoutAddons(t *testing.T) {
	t.Parallel()

	r, _ := newFixture(t, nil)

	res := resolve(t, r, "./-stitch-implicit-modules.js", "/app/node_modules/lodash/lodash.js")
	v, ok := res.(Virtual)
	require.True(t, ok, "expected virtual, got %s", res)

	content, err := virtual.Render(v.Descriptor)
	require.NoError(t, err)
	assert.Equal(t, "// implicit-modules\n", content.Source)
}
