// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"

	"github.com/invowk/stitch/internal/jsscan"
)

// ErrMalformedFilter is returned for filter files without a findings object.
var ErrMalformedFilter = errors.New("malformed audit filter")

// Filter silences findings that match on filename, message and detail.
type Filter struct {
	Findings []Finding `json:"findings"`
}

// ParseFilter reads a filter module: a JavaScript module whose default export
// (or module.exports) is an object literal with a findings array. Keys may be
// quoted or bare; finding fields must be string literals.
func ParseFilter(src []byte) (*Filter, error) {
	ast, err := js.Parse(parse.NewInputBytes(src), js.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFilter, err)
	}
	obj := exportedObject(ast)
	if obj == nil {
		return nil, fmt.Errorf("%w: no exported object literal found", ErrMalformedFilter)
	}

	f := &Filter{}
	value, ok := propertyValue(obj, "findings")
	if !ok {
		return f, nil
	}
	arr, ok := unwrapGroup(value).(*js.ArrayExpr)
	if !ok {
		return nil, fmt.Errorf("%w: findings is not an array literal", ErrMalformedFilter)
	}
	for i, el := range arr.List {
		item, ok := unwrapGroup(el.Value).(*js.ObjectExpr)
		if !ok || el.Spread {
			return nil, fmt.Errorf("%w: findings[%d] is not an object literal", ErrMalformedFilter, i)
		}
		var finding Finding
		fields := []struct {
			name string
			dst  *string
		}{
			{"filename", &finding.Filename},
			{"message", &finding.Message},
			{"detail", &finding.Detail},
		}
		for _, field := range fields {
			v, ok := propertyValue(item, field.name)
			if !ok {
				continue
			}
			if *field.dst, err = stringLiteral(v); err != nil {
				return nil, fmt.Errorf("%w: findings[%d].%s: %w", ErrMalformedFilter, i, field.name, err)
			}
		}
		f.Findings = append(f.Findings, finding)
	}
	return f, nil
}

// exportedObject finds the object literal bound by export default or
// assigned to module.exports.
func exportedObject(ast *js.AST) *js.ObjectExpr {
	for _, stmt := range ast.List {
		var expr js.IExpr
		switch s := stmt.(type) {
		case *js.ExportStmt:
			if s.Default {
				expr = s.Decl
			}
		case *js.ExprStmt:
			if bin, ok := s.Value.(*js.BinaryExpr); ok && bin.Op == js.EqToken && isModuleExports(bin.X) {
				expr = bin.Y
			}
		}
		if obj, ok := unwrapGroup(expr).(*js.ObjectExpr); ok {
			return obj
		}
	}
	return nil
}

func isModuleExports(e js.IExpr) bool {
	dot, ok := e.(*js.DotExpr)
	if !ok {
		return false
	}
	v, ok := dot.X.(*js.Var)
	if !ok || string(v.Name()) != "module" {
		return false
	}
	lit, ok := dot.Y.(js.LiteralExpr)
	return ok && string(lit.Data) == "exports"
}

func unwrapGroup(e js.IExpr) js.IExpr {
	for {
		g, ok := e.(*js.GroupExpr)
		if !ok {
			return e
		}
		e = g.X
	}
}

// propertyValue returns the value of the last non-computed property called
// name, matching both bare and quoted keys.
func propertyValue(obj *js.ObjectExpr, name string) (js.IExpr, bool) {
	var found js.IExpr
	for _, p := range obj.List {
		if p.Name == nil || p.Name.IsComputed() {
			continue
		}
		key := string(p.Name.Literal.Data)
		if p.Name.Literal.TokenType == js.StringToken {
			unquoted, err := jsscan.Unquote(key)
			if err != nil {
				continue
			}
			key = unquoted
		}
		if key == name {
			found = p.Value
		}
	}
	return found, found != nil
}

func stringLiteral(e js.IExpr) (string, error) {
	switch lit := unwrapGroup(e).(type) {
	case *js.LiteralExpr:
		if lit.TokenType == js.StringToken {
			return jsscan.Unquote(string(lit.Data))
		}
	case *js.TemplateExpr:
		if lit.Tag == nil && len(lit.List) == 0 {
			return jsscan.Unquote(string(lit.Tail))
		}
	}
	return "", errors.New("not a string literal")
}

// LoadFilter reads and parses the filter module at path.
func LoadFilter(fsys afero.Fs, path string) (*Filter, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter %s: %w", path, err)
	}
	return ParseFilter(data)
}

// Apply returns the findings the filter does not silence.
func (f *Filter) Apply(findings []Finding) []Finding {
	if f == nil {
		return findings
	}
	silenced := make(map[string]bool, len(f.Findings))
	for _, s := range f.Findings {
		silenced[s.key()] = true
	}
	out := make([]Finding, 0, len(findings))
	for _, finding := range findings {
		if !silenced[finding.key()] {
			out = append(out, finding)
		}
	}
	return out
}

// Acknowledge renders a filter module that silences exactly findings.
func Acknowledge(findings []Finding) ([]byte, error) {
	f := Filter{Findings: make([]Finding, 0, len(findings))}
	for _, finding := range findings {
		f.Findings = append(f.Findings, Finding{
			Filename: finding.Filename,
			Message:  finding.Message,
			Detail:   finding.Detail,
		})
	}
	body, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter: %w", err)
	}
	var b bytes.Buffer
	b.WriteString("module.exports = ")
	b.Write(body)
	b.WriteString(";\n")
	return b.Bytes(), nil
}
