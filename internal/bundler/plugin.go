// SPDX-License-Identifier: MPL-2.0

package bundler

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/afero"

	"github.com/invowk/stitch/internal/jsscan"
	"github.com/invowk/stitch/internal/resolver"
	"github.com/invowk/stitch/internal/template"
)

// loaders maps file extensions to the esbuild loader for content that is
// passed through untouched.
var loaders = map[string]api.Loader{
	".json": api.LoaderJSON,
	".css":  api.LoaderCSS,
	".txt":  api.LoaderText,
	".svg":  api.LoaderText,
}

// Plugin binds the resolver to esbuild. Every import goes through
// Resolver.Resolve; files are read through the package cache filesystem,
// adjusted, and templates are compiled on the way in.
func (b *Bundler) Plugin() api.Plugin {
	return api.Plugin{
		Name: pluginName,
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, b.onResolve)
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: virtualNamespace}, b.onLoadVirtual)
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: fileNamespace}, b.onLoadFile)
		},
	}
}

func (b *Bundler) onResolve(args api.OnResolveArgs) (api.OnResolveResult, error) {
	if args.Kind == api.ResolveEntryPoint && filepath.IsAbs(args.Path) {
		if res, err := b.r.Resolve(b.buildContext(), resolver.NewRequest(args.Path, "", nil)); err == nil {
			if v, ok := res.(resolver.Virtual); ok {
				return api.OnResolveResult{Path: v.Filename, Namespace: virtualNamespace}, nil
			}
		}
		return api.OnResolveResult{Path: args.Path, Namespace: fileNamespace}, nil
	}

	res, err := b.r.Resolve(b.buildContext(), resolver.NewRequest(args.Path, args.Importer, nil))
	if err != nil {
		return api.OnResolveResult{}, b.fail(err)
	}
	if ext, ok := res.(resolver.External); ok {
		res, err = b.r.MaterializeExternal(ext, b.importedNames(args.Importer, args.Path))
		if err != nil {
			return api.OnResolveResult{}, b.fail(err)
		}
	}

	switch v := res.(type) {
	case resolver.Found:
		return api.OnResolveResult{Path: v.Filename, Namespace: fileNamespace}, nil
	case resolver.Virtual:
		return api.OnResolveResult{Path: v.Filename, Namespace: virtualNamespace}, nil
	case resolver.NotFound:
		return api.OnResolveResult{}, b.fail(v)
	default:
		return api.OnResolveResult{}, b.fail(fmt.Errorf("unexpected resolution %s for %q", res, args.Path))
	}
}

func (b *Bundler) onLoadVirtual(args api.OnLoadArgs) (api.OnLoadResult, error) {
	content, err := b.registry.Load(args.Path)
	if err != nil {
		return api.OnLoadResult{}, b.fail(err)
	}
	return b.loadJS(args.Path, content.Source)
}

func (b *Bundler) onLoadFile(args api.OnLoadArgs) (api.OnLoadResult, error) {
	src, err := afero.ReadFile(b.fs, args.Path)
	if err != nil {
		return api.OnLoadResult{}, b.fail(fmt.Errorf("failed to read %s: %w", args.Path, err))
	}

	ext := strings.ToLower(filepath.Ext(args.Path))
	if loader, ok := loaders[ext]; ok {
		contents := string(src)
		return api.OnLoadResult{Contents: &contents, Loader: loader}, nil
	}
	if ext == ".hbs" {
		code, records, err := template.Compile(b.buildContext(), string(src), template.CompileOptions{
			FromFile:   args.Path,
			ModuleName: b.moduleName(args.Path),
			Resolver:   b.r,
		})
		if err != nil {
			return api.OnLoadResult{}, b.fail(err)
		}
		b.logger.Debug("compiled template", "file", args.Path, "dependencies", len(records))
		return b.loadJS(args.Path, code)
	}

	adjusted, err := b.transformJS(args.Path, src)
	if err != nil {
		return api.OnLoadResult{}, b.fail(err)
	}
	return b.loadJS(args.Path, string(adjusted))
}

// loadJS records the imports of the final module text and hands it to
// esbuild.
func (b *Bundler) loadJS(filename, code string) (api.OnLoadResult, error) {
	scanned, err := jsscan.Scan([]byte(code))
	if err != nil {
		return api.OnLoadResult{}, b.fail(fmt.Errorf("failed to scan %s: %w", filename, err))
	}
	b.scans.Store(filename, scanned)
	loader := api.LoaderJS
	if strings.HasSuffix(filename, ".ts") {
		loader = api.LoaderTS
	}
	return api.OnLoadResult{Contents: &code, Loader: loader}, nil
}

// transformJS applies the resolver's source adjustments, then replaces each
// inline template with its compiled form and drops the imports of the
// template helpers it used.
func (b *Bundler) transformJS(filename string, src []byte) ([]byte, error) {
	adjusted, err := b.r.Adjust(filename, src)
	if err != nil {
		return nil, err
	}
	scanned, err := jsscan.Scan(adjusted)
	if err != nil || len(scanned.Templates) == 0 {
		return adjusted, err
	}

	var (
		edits   []jsscan.Edit
		prelude []string
		seen    = make(map[string]bool)
	)
	for _, decl := range scanned.Imports {
		if jsscan.IsTemplateHelperModule(decl.Source.Specifier) {
			edits = append(edits, jsscan.Edit{Start: decl.Start, End: decl.End})
		}
	}
	for _, tc := range scanned.Templates {
		compiled, err := template.CompileInline(b.buildContext(), tc.Template, template.CompileOptions{
			FromFile:   filename,
			ModuleName: b.moduleName(filename),
			Resolver:   b.r,
		})
		if err != nil {
			return nil, &resolver.SourceError{
				File:  filename,
				Pos:   tc.Pos,
				Frame: jsscan.CodeFrame(adjusted, tc.Pos),
				Err:   err,
			}
		}
		for _, line := range append(compiled.Imports, compiled.Registrations...) {
			if !seen[line] {
				seen[line] = true
				prelude = append(prelude, line)
			}
		}
		edits = append(edits, jsscan.Edit{Start: tc.Start, End: tc.End, Text: compiled.Expr})
	}
	// The prelude goes first so it sorts ahead of an import at offset 0.
	edits = append([]jsscan.Edit{{Start: 0, End: 0, Text: strings.Join(prelude, "\n") + "\n"}}, edits...)
	return jsscan.Apply(adjusted, edits)
}
