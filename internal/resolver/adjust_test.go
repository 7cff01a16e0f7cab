// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdjustRenamesEverySite(t *testing.T) {
	t.Parallel()

	r, _ := newFixture(t, func(o *Options) {
		o.RenamePackages = map[string]string{"module": "other-module"}
		o.RenameModules = map[string]string{"old-capitalize": "lodash/capitalize"}
	})

	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "static import",
			src:  `import a from "module/a";`,
			want: `import a from "other-module/a";`,
		},
		{
			name: "re-export and dynamic import",
			src:  `export * from "module"; import("old-capitalize");`,
			want: `export * from "other-module"; import("lodash/capitalize");`,
		},
		{
			name: "require",
			src:  `const x = require('module/sub');`,
			want: `const x = require("other-module/sub");`,
		},
		{
			name: "define name and all dependencies",
			src:  `define("module/x", ["exports", "module/a", "old-capitalize"], function () {});`,
			want: `define("other-module/x", ["exports", "other-module/a", "lodash/capitalize"], function () {});`,
		},
		{
			name: "malformed define is left alone",
			src:  `define("module/x", deps, function () {});`,
			want: `define("module/x", deps, function () {});`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := r.Adjust(appFile, []byte(tt.src))
			require.NoError(t, err)
			require.Equal(t, tt.want, string(out))
		})
	}
}

func TestAdjustUntouchedSourceIsReturnedAsIs(t *testing.T) {
	t.Parallel()

	r, _ := newFixture(t, nil)
	src := []byte(`import x from "lodash";`)
	out, err := r.Adjust(appFile, src)
	require.NoError(t, err)
	require.Same(t, &src[0], &out[0])
}

func TestAdjustRejectsDefineInNativeV2Addon(t *testing.T) {
	t.Parallel()

	r, _ := newFixture(t, nil)
	src := []byte("export default 1;\n  define(\"x\", [\"a\"], function () {});\n")

	_, err := r.Adjust("/app/node_modules/native-v2/index.js", src)
	require.ErrorIs(t, err, ErrAMDInV2Addon)

	var srcErr *SourceError
	require.True(t, errors.As(err, &srcErr))
	require.Equal(t, "native-v2", srcErr.Package)
	require.Equal(t, 2, srcErr.Pos.Line)
	require.Equal(t, 3, srcErr.Pos.Column)
	require.Contains(t, srcErr.Frame, "define(")
	require.Contains(t, err.Error(), "(package native-v2)")
}

func TestAdjustAllowsDefineInAutoUpgradedAddon(t *testing.T) {
	t.Parallel()

	r, _ := newFixture(t, nil)
	src := []byte(`define("classic/index", ["exports"], function () {});`)

	out, err := r.Adjust("/addons/classic/index.js", src)
	require.NoError(t, err)
	require.Equal(t, string(src), string(out))
}

func TestAdjustRejectsMalformedInlineTemplate(t *testing.T) {
	t.Parallel()

	r, _ := newFixture(t, nil)
	src := []byte("import { hbs } from \"ember-cli-htmlbars\";\nconst t = hbs(name);\n")

	_, err := r.Adjust(appFile, src)
	require.ErrorIs(t, err, ErrMalformedHbsLiteral)

	var srcErr *SourceError
	require.True(t, errors.As(err, &srcErr))
	require.Equal(t, 2, srcErr.Pos.Line)
}

func TestAdjustPrependsExtraImports(t *testing.T) {
	t.Parallel()

	r, _ := newFixture(t, func(o *Options) {
		o.ExtraImports = []ExtraImport{
			{File: "app/**/*.js", Imports: []string{"./polyfill", "@ember/string"}},
			{File: "app/app.js", Imports: []string{"./polyfill", "./app-only"}},
		}
	})

	out, err := r.Adjust(appFile, []byte("export default 1;\n"))
	require.NoError(t, err)
	require.Equal(t,
		"import \"./polyfill\";\nimport \"@ember/string\";\nimport \"./app-only\";\nexport default 1;\n",
		string(out))

	out, err = r.Adjust("/app/app/routes/index.js", []byte("export default 1;\n"))
	require.NoError(t, err)
	require.Equal(t, "import \"./polyfill\";\nimport \"@ember/string\";\nexport default 1;\n", string(out))

	out, err = r.Adjust("/app/node_modules/lodash/lodash.js", []byte("module.exports = {};"))
	require.NoError(t, err)
	require.Equal(t, "module.exports = {};", string(out))
}
