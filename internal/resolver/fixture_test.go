// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/invowk/stitch/internal/testutil"
	"github.com/invowk/stitch/pkg/pkgcache"
)

// newFixtureFS lays out an app with a v2 addon contributing to the app tree,
// a second addon overriding it, a native v2 addon, an engine, a plain npm
// package and an auto-upgraded addon living outside the app.
func newFixtureFS(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()

	testutil.WriteManifest(t, fsys, "/app", map[string]any{
		"name":    "my-app",
		"version": "1.0.0",
		"dependencies": map[string]string{
			"addon-a": "*", "addon-b": "*", "native-v2": "*", "lodash": "*",
			"my-engine": "*", "other-module": "*",
		},
	})
	testutil.WriteTree(t, fsys, "/app", map[string]string{
		"app/app.js":                          `import "./components/hello";`,
		"app/components/hello.js":             "export default class Hello {}",
		"app/components/only-template.hbs":    "<p>hi</p>",
		"app/helpers/shout.js":                "export default function shout() {}",
		"app/modifiers/focus.js":              "export default function focus() {}",
		"app/routes/index.js":                 "export default class {}",
		"app/templates/components/legacy.hbs": "legacy",
	})

	testutil.WriteManifest(t, fsys, "/app/node_modules/lodash", map[string]any{
		"name": "lodash", "version": "4.17.21", "main": "lodash.js",
	})
	testutil.WriteTree(t, fsys, "/app/node_modules/lodash", map[string]string{
		"lodash.js":     "module.exports = {};",
		"capitalize.js": "module.exports = function () {};",
	})

	testutil.WriteManifest(t, fsys, "/app/node_modules/other-module", map[string]any{
		"name": "other-module", "version": "1.0.0",
		"exports": map[string]any{
			".":   map[string]string{"import": "./esm/index.js", "require": "./cjs/index.js"},
			"./*": "./esm/*.js",
		},
	})
	testutil.WriteTree(t, fsys, "/app/node_modules/other-module", map[string]string{
		"esm/index.js": "export default 1;",
		"esm/a.js":     "export default 2;",
		"cjs/index.js": "module.exports = 1;",
	})

	testutil.WriteManifest(t, fsys, "/app/node_modules/addon-a", map[string]any{
		"name": "addon-a", "version": "1.0.0", "keywords": []string{"ember-addon"},
		"ember-addon": map[string]any{
			"version": 2, "type": "addon",
			"app-js": map[string]string{
				"./components/fancy.js": "./_app_/components/fancy.js",
				"./helpers/upper.js":    "./_app_/helpers/upper.js",
			},
		},
	})
	testutil.WriteTree(t, fsys, "/app/node_modules/addon-a", map[string]string{
		"_app_/components/fancy.js": `export { default } from "addon-a/components/fancy";`,
		"_app_/helpers/upper.js":    `import "../components/fancy";`,
		"components/fancy.js":       "export default class Fancy {}",
	})

	testutil.WriteManifest(t, fsys, "/app/node_modules/addon-b", map[string]any{
		"name": "addon-b", "version": "1.0.0", "keywords": []string{"ember-addon"},
		"ember-addon": map[string]any{
			"version": 2, "type": "addon", "after": "addon-a",
			"app-js": map[string]string{"./components/fancy.js": "./_app_/fancy-override.js"},
		},
	})
	testutil.WriteTree(t, fsys, "/app/node_modules/addon-b", map[string]string{
		"_app_/fancy-override.js": "export default class Override {}",
	})

	testutil.WriteManifest(t, fsys, "/app/node_modules/native-v2", map[string]any{
		"name": "native-v2", "version": "1.0.0", "keywords": []string{"ember-addon"},
		"ember-addon": map[string]any{"version": 2, "type": "addon"},
		"main":        "index.js",
	})
	testutil.WriteTree(t, fsys, "/app/node_modules/native-v2", map[string]string{
		"index.js": "export default 1;",
	})

	testutil.WriteManifest(t, fsys, "/app/node_modules/my-engine", map[string]any{
		"name": "my-engine", "version": "1.0.0", "keywords": []string{"ember-addon", "ember-engine"},
		"ember-addon":  map[string]any{"version": 2, "type": "addon"},
		"dependencies": map[string]string{"engine-addon": "*"},
	})
	testutil.WriteTree(t, fsys, "/app/node_modules/my-engine", map[string]string{
		"addon/routes.js":           `import "./components/widget";`,
		"addon/components/local.js": "export default 1;",
		"addon/templates/index.hbs": "<Widget />",
	})
	testutil.WriteManifest(t, fsys, "/app/node_modules/my-engine/node_modules/engine-addon", map[string]any{
		"name": "engine-addon", "version": "1.0.0", "keywords": []string{"ember-addon"},
		"ember-addon": map[string]any{
			"version": 2, "type": "addon",
			"app-js": map[string]string{"./components/widget.js": "./_app_/components/widget.js"},
		},
	})
	testutil.WriteTree(t, fsys, "/app/node_modules/my-engine/node_modules/engine-addon", map[string]string{
		"_app_/components/widget.js": "export default class Widget {}",
	})

	testutil.WriteManifest(t, fsys, "/addons/classic", map[string]any{
		"name": "classic", "version": "1.0.0", "keywords": []string{"ember-addon"},
		"ember-addon": map[string]any{
			"version": 2, "type": "addon", "auto-upgraded": true,
			"externals": []string{"legacy-global"},
		},
	})
	testutil.WriteTree(t, fsys, "/addons/classic", map[string]string{
		"index.js": `import capitalize from "lodash/capitalize";`,
	})
	return fsys
}

func newFixture(t *testing.T, configure func(*Options)) (*Resolver, afero.Fs) {
	t.Helper()
	fsys := newFixtureFS(t)
	cache, err := pkgcache.New("/app", pkgcache.Options{FS: fsys})
	require.NoError(t, err)

	opts := Options{
		Cache: cache,
		Engines: []EngineConfig{
			{PackageName: "my-engine", ActiveAddons: []string{"engine-addon"}},
		},
	}
	if configure != nil {
		configure(&opts)
	}
	r, err := New(opts)
	require.NoError(t, err)
	return r, fsys
}

func newResolverOn(t *testing.T, fsys afero.Fs) (*Resolver, error) {
	t.Helper()
	cache, err := pkgcache.New("/app", pkgcache.Options{FS: fsys})
	require.NoError(t, err)
	return New(Options{Cache: cache})
}

// writeAddonOrder makes the addon at root order itself after the named addon.
func writeAddonOrder(t *testing.T, fsys afero.Fs, root, after string) {
	t.Helper()
	data, err := afero.ReadFile(fsys, root+"/package.json")
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	m["ember-addon"].(map[string]any)["after"] = after
	testutil.WriteManifest(t, fsys, root, m)
}

func resolve(t *testing.T, r *Resolver, spec, from string) Resolution {
	t.Helper()
	res, err := r.Resolve(context.Background(), NewRequest(spec, from, nil))
	require.NoError(t, err)
	return res
}

func requireFound(t *testing.T, res Resolution, filename string) {
	t.Helper()
	found, ok := res.(Found)
	require.True(t, ok, "expected found, got %s", res)
	require.Equal(t, filename, found.Filename)
}
