// SPDX-License-Identifier: MPL-2.0

package template

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/invowk/stitch/internal/jsscan"
)

// precompileLocal is the binding compiled modules use for precompileTemplate.
const precompileLocal = "stitchPrecompileTemplate"

type (
	// CompileOptions describes the template being compiled.
	CompileOptions struct {
		// FromFile is the template's path, used for package lookups.
		FromFile string
		// ModuleName is the template's runtime module name.
		ModuleName string
		Resolver   Resolver
	}

	// Compiled is a template turned into JavaScript.
	Compiled struct {
		// Imports are whole import statements, one per line, deduplicated.
		Imports []string
		// Registrations make resolved invokables visible to the runtime
		// registry under their runtime names.
		Registrations []string
		// Expr evaluates to the compiled template.
		Expr    string
		Records []Record
	}
)

// CompileInline analyzes template text and returns the pieces needed to
// replace an inline template call.
func CompileInline(ctx context.Context, text string, opts CompileOptions) (*Compiled, error) {
	tmpl, err := Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template in %s: %w", opts.FromFile, err)
	}
	deps := NewDependencies()
	if err := Analyze(ctx, tmpl, opts.FromFile, opts.ModuleName, opts.Resolver, deps); err != nil {
		return nil, err
	}

	out := &Compiled{
		Imports: []string{fmt.Sprintf("import { precompileTemplate as %s } from %s;", precompileLocal, jsscan.Quote(jsscan.TemplateCompilationModule))},
		Records: deps.For(opts.ModuleName),
	}
	seen := make(map[string]bool)
	for _, rec := range out.Records {
		if seen[rec.Path] {
			continue
		}
		seen[rec.Path] = true
		local := bindingFor(rec.Path)
		out.Imports = append(out.Imports, fmt.Sprintf("import * as %s from %s;", local, jsscan.Quote(rec.Path)))
		if rec.RuntimeName != "" {
			out.Registrations = append(out.Registrations, fmt.Sprintf("window.define(%s, [], () => %s);", jsscan.Quote(rec.RuntimeName), local))
		}
	}
	out.Expr = fmt.Sprintf("%s(%s, { moduleName: %s })", precompileLocal, jsscan.Quote(text), jsscan.Quote(opts.ModuleName))
	return out, nil
}

// Compile turns a standalone template file into an ES module whose default
// export is the compiled template.
func Compile(ctx context.Context, text string, opts CompileOptions) (string, []Record, error) {
	c, err := CompileInline(ctx, text, opts)
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	for _, line := range c.Imports {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, line := range c.Registrations {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "export default %s;\n", c.Expr)
	return b.String(), c.Records, nil
}

// bindingFor derives a stable identifier from a module path.
func bindingFor(path string) string {
	sum := sha256.Sum256([]byte(path))
	return "dep_" + hex.EncodeToString(sum[:5])
}
