// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"maps"
	"slices"

	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/format"
)

const cueHeader = "// stitch configuration (stitch.cue)\n\n"

// GenerateCUE renders cfg as a stitch.cue file. Empty optional fields are
// omitted; the output validates against #Config.
func GenerateCUE(cfg *Config) (string, error) {
	var fields []any
	add := func(label string, expr ast.Expr) { fields = append(fields, label, expr) }
	addString := func(label, value string) {
		if value != "" {
			add(label, ast.NewString(value))
		}
	}
	addList := func(label string, values []string) {
		if len(values) > 0 {
			add(label, stringList(values))
		}
	}
	addMap := func(label string, m map[string]string) {
		if len(m) > 0 {
			add(label, stringMap(m))
		}
	}

	addString("appRoot", cfg.AppRoot)
	addString("modulePrefix", cfg.ModulePrefix)
	addString("podModulePrefix", cfg.PodModulePrefix)
	addMap("renamePackages", cfg.RenamePackages)
	addMap("renameModules", cfg.RenameModules)
	addMap("activeAddons", cfg.ActiveAddons)
	if len(cfg.Engines) > 0 {
		engines := make([]ast.Expr, 0, len(cfg.Engines))
		for _, e := range cfg.Engines {
			engine := []any{"packageName", ast.NewString(e.PackageName), "root", ast.NewString(e.Root)}
			if e.IsLazy {
				engine = append(engine, "isLazy", ast.NewBool(true))
			}
			if len(e.ActiveAddons) > 0 {
				engine = append(engine, "activeAddons", stringList(e.ActiveAddons))
			}
			engines = append(engines, ast.NewStruct(engine...))
		}
		add("engines", ast.NewList(engines...))
	}
	addList("externals", cfg.Externals)
	addList("allowRuntimeFailure", cfg.AllowRuntimeFailure)
	addList("resolvableExtensions", cfg.ResolvableExtensions)
	add("staticComponents", ast.NewBool(cfg.StaticComponents))
	add("staticHelpers", ast.NewBool(cfg.StaticHelpers))
	add("staticModifiers", ast.NewBool(cfg.StaticModifiers))
	add("allowUnsafeDynamicComponents", ast.NewBool(cfg.AllowUnsafeDynamicComponents))
	addString("externalsDir", cfg.ExternalsDir)
	if len(cfg.ExtraImports) > 0 {
		extras := make([]ast.Expr, 0, len(cfg.ExtraImports))
		for _, e := range cfg.ExtraImports {
			extras = append(extras, ast.NewStruct("file", ast.NewString(e.File), "imports", stringList(e.Imports)))
		}
		add("extraImports", ast.NewList(extras...))
	}
	addString("emberVersion", cfg.EmberVersion)
	add("log", ast.NewStruct("level", ast.NewString(string(cfg.Log.Level))))
	if cfg.Audit.Filter != "" {
		add("audit", ast.NewStruct("filter", ast.NewString(cfg.Audit.Filter)))
	}
	add("build", ast.NewStruct(
		"outDir", ast.NewString(cfg.Build.OutDir),
		"main", ast.NewString(cfg.Build.Main),
		"entrypoints", stringList(cfg.Build.Entrypoints),
		"minify", ast.NewBool(cfg.Build.Minify),
		"sourcemap", ast.NewBool(cfg.Build.Sourcemap),
	))
	add("watch", ast.NewStruct("debounce", ast.NewString(cfg.Watch.Debounce.String())))

	file := &ast.File{Decls: ast.NewStruct(fields...).Elts}
	out, err := format.Node(file, format.Simplify())
	if err != nil {
		return "", fmt.Errorf("failed to format configuration: %w", err)
	}
	return cueHeader + string(out), nil
}

func stringList(values []string) *ast.ListLit {
	exprs := make([]ast.Expr, 0, len(values))
	for _, v := range values {
		exprs = append(exprs, ast.NewString(v))
	}
	return ast.NewList(exprs...)
}

func stringMap(m map[string]string) *ast.StructLit {
	fields := make([]any, 0, 2*len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		fields = append(fields, k, ast.NewString(m[k]))
	}
	return ast.NewStruct(fields...)
}
