// SPDX-License-Identifier: MPL-2.0

package template

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// fakeResolver knows a fixed set of names and records every lookup.
type fakeResolver struct {
	known map[string]Kind
	calls []string
}

func (f *fakeResolver) lookup(kind, name, from string, strict bool) (*Record, error) {
	f.calls = append(f.calls, kind+":"+name)
	if k, ok := f.known[name]; ok {
		return &Record{Kind: k, Name: name, RuntimeName: "app/" + string(k) + "s/" + name, Path: "/app/" + name + ".js"}, nil
	}
	if strict {
		return nil, &InvokableError{Kind: Kind(kind), Name: name, FromFile: from}
	}
	return nil, nil
}

func (f *fakeResolver) ResolveMustache(_ context.Context, name, from string, hasArgs bool) (*Record, error) {
	return f.lookup("mustache", name, from, hasArgs)
}

func (f *fakeResolver) ResolveSubExpression(_ context.Context, name, from string) (*Record, error) {
	return f.lookup("helper", name, from, true)
}

func (f *fakeResolver) ResolveElement(_ context.Context, tag, from string) (*Record, error) {
	return f.lookup("element", tag, from, true)
}

func (f *fakeResolver) ResolveModifier(_ context.Context, name, from string) (*Record, error) {
	return f.lookup("modifier", name, from, true)
}

func (f *fakeResolver) ResolveComponentName(_ context.Context, name, from string, literal bool) (*Record, error) {
	return f.lookup("component", name, from, literal)
}

func analyze(t *testing.T, src string, known map[string]Kind) (*fakeResolver, []Record, error) {
	t.Helper()
	tmpl, err := Parse(src)
	require.NoError(t, err)
	r := &fakeResolver{known: known}
	deps := NewDependencies()
	err = Analyze(context.Background(), tmpl, "/app/templates/x.hbs", "app/templates/x", r, deps)
	return r, deps.For("app/templates/x"), err
}

func TestAnalyzeScopeShadowing(t *testing.T) {
	t.Parallel()

	known := map[string]Kind{"foo": KindHelper}

	r, recs, err := analyze(t, "{{#each items as |foo|}}{{foo}}{{/each}}", known)
	require.NoError(t, err)
	require.Empty(t, recs)
	require.NotContains(t, r.calls, "mustache:foo")

	r, recs, err = analyze(t, "{{foo}}", known)
	require.NoError(t, err)
	require.Equal(t, []string{"mustache:foo"}, r.calls)
	require.Len(t, recs, 1)
}

func TestAnalyzeElementScope(t *testing.T) {
	t.Parallel()

	known := map[string]Kind{"List": KindComponent, "Item": KindComponent}
	r, recs, err := analyze(t, "<List as |Item|><Item /></List><Item />", known)
	require.NoError(t, err)
	require.Equal(t, []string{"element:List", "element:Item"}, r.calls)
	require.Len(t, recs, 2)
	require.Equal(t, 1, recs[1].Loc.Line)
	require.Equal(t, 32, recs[1].Loc.Column)
}

func TestAnalyzeEncounterOrder(t *testing.T) {
	t.Parallel()

	known := map[string]Kind{
		"Header":   KindComponent,
		"t":        KindHelper,
		"tooltip":  KindModifier,
		"fmt":      KindHelper,
		"side-bar": KindComponent,
	}
	src := `<Header @title={{t "x"}} />
<div {{tooltip "hi"}} class="{{fmt a}}"></div>
{{#side-bar}}body{{/side-bar}}`

	_, recs, err := analyze(t, src, known)
	require.NoError(t, err)

	var names []string
	for _, rec := range recs {
		names = append(names, rec.Name)
	}
	if diff := cmp.Diff([]string{"Header", "t", "tooltip", "fmt", "side-bar"}, names); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeHasArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     string
		wantErr bool
	}{
		{name: "bare mustache is permissive", src: "{{unknown}}"},
		{name: "positional args are strict", src: "{{unknown 1}}", wantErr: true},
		{name: "hash args are strict", src: "{{unknown a=1}}", wantErr: true},
		{name: "block form is strict", src: "{{#unknown}}{{/unknown}}", wantErr: true},
		{name: "sub-expression is strict", src: "{{if (unknown) 1}}", wantErr: true},
		{name: "keywords are never resolved", src: "{{yield (hash a=(array 1))}}{{outlet}}"},
		{name: "this paths are never resolved", src: "{{this.unknown 1}}{{@arg 2}}"},
		{name: "html elements are never resolved", src: "<div><span></span></div>"},
		{name: "builtin components are never resolved", src: "<Input /><LinkTo @route='x'>a</LinkTo>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := analyze(t, tt.src, nil)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrUnresolved))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAnalyzeComponentHelper(t *testing.T) {
	t.Parallel()

	known := map[string]Kind{"fancy-box": KindComponent}

	r, recs, err := analyze(t, `{{component "fancy-box" title="x"}}`, known)
	require.NoError(t, err)
	require.Equal(t, []string{"component:fancy-box"}, r.calls)
	require.Len(t, recs, 1)

	_, _, err = analyze(t, `{{component "missing-box"}}`, known)
	require.ErrorIs(t, err, ErrUnresolved)

	r, recs, err = analyze(t, `{{component this.which}}`, known)
	require.NoError(t, err)
	require.Empty(t, recs)
	require.Equal(t, []string{"component:this.which"}, r.calls)
}

func TestAnalyzeCollectsAllProblems(t *testing.T) {
	t.Parallel()

	_, _, err := analyze(t, "<Missing />\n{{also-missing 1}}", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), `element "Missing"`)
	require.Contains(t, err.Error(), `mustache "also-missing"`)
	require.Contains(t, err.Error(), "/app/templates/x.hbs:2:1")
}

func TestCompile(t *testing.T) {
	t.Parallel()

	tmpl := `<Header />{{Header}}`
	r := &fakeResolver{known: map[string]Kind{"Header": KindComponent}}
	out, recs, err := Compile(context.Background(), tmpl, CompileOptions{
		FromFile:   "/app/templates/x.hbs",
		ModuleName: "app/templates/x",
		Resolver:   r,
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	local := bindingFor("/app/Header.js")
	require.Equal(t, 1, strings.Count(out, `import * as `+local+` from "/app/Header.js";`))
	require.Contains(t, out, `window.define("app/components/Header", [], () => `+local+`);`)
	require.Contains(t, out, `import { precompileTemplate as stitchPrecompileTemplate } from "@ember/template-compilation";`)
	require.True(t, strings.HasSuffix(out, "export default stitchPrecompileTemplate(\"<Header />{{Header}}\", { moduleName: \"app/templates/x\" });\n"))

	again, _, err := Compile(context.Background(), tmpl, CompileOptions{FromFile: "/app/templates/x.hbs", ModuleName: "app/templates/x", Resolver: r})
	require.NoError(t, err)
	require.Equal(t, out, again)
}
