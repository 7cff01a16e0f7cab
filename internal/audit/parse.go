// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/invowk/stitch/internal/jsscan"
	"github.com/invowk/stitch/internal/template"
)

// parseContent fills m's imports and exports from content. It returns a finding
// when the content cannot be parsed.
func parseContent(m *Module, content *Content) *Finding {
	switch content.Type {
	case ContentHTML:
		return parseHTML(m, content.Source)
	case ContentJSON:
		if err := json.Unmarshal(content.Source, new(any)); err != nil {
			return &Finding{Filename: m.AppRelativePath, Message: MessageJSONParseFailed, Detail: err.Error()}
		}
		m.Exports = []string{"default"}
		return nil
	case ContentTemplate:
		if _, err := template.Parse(string(content.Source)); err != nil {
			f := &Finding{Filename: m.AppRelativePath, Message: MessageParseFailure, Detail: err.Error()}
			var perr *template.ParseError
			if errors.As(err, &perr) {
				f.CodeFrame = jsscan.CodeFrame(content.Source, jsscan.Position{Line: perr.Loc.Line, Column: perr.Loc.Column})
			}
			return f
		}
		m.Exports = []string{"default"}
		return nil
	default:
		return parseJS(m, content.Source)
	}
}

func parseJS(m *Module, src []byte) *Finding {
	scanned, err := jsscan.Scan(src)
	if err != nil {
		f := &Finding{Filename: m.AppRelativePath, Message: MessageParseFailure, Detail: err.Error()}
		var lexErr *jsscan.LexError
		if errors.As(err, &lexErr) {
			f.CodeFrame = jsscan.CodeFrame(src, lexErr.Pos)
		}
		return f
	}
	ast, err := js.Parse(parse.NewInputBytes(src), js.Options{})
	if err != nil {
		f := &Finding{Filename: m.AppRelativePath, Message: MessageParseFailure, Detail: err.Error()}
		var perr *parse.Error
		if errors.As(err, &perr) {
			f.Detail = perr.Message
			f.CodeFrame = jsscan.CodeFrame(src, jsscan.Position{Line: perr.Line, Column: perr.Column})
		}
		return f
	}

	collectModuleSyntax(m, scanned)
	if !scanned.ModuleSyntax {
		for _, v := range ast.BlockStmt.Scope.Undeclared {
			switch string(v.Data) {
			case "module", "exports":
				m.CommonJS = true
			case "define":
				m.AMD = true
			}
		}
	}
	return nil
}

// collectModuleSyntax records the static imports, re-exports, dynamic
// imports and own exports found by the scanner.
func collectModuleSyntax(m *Module, scanned *jsscan.Result) {
	for _, decl := range scanned.Imports {
		imp := Import{Specifier: decl.Source.Specifier, pos: decl.Source.Pos}
		for _, b := range decl.Bindings {
			imp.Names = append(imp.Names, ImportedName{Name: b.Imported, Local: b.Local})
		}
		m.Imports = append(m.Imports, imp)
	}
	for _, decl := range scanned.Exports {
		if decl.Source == nil {
			for _, n := range decl.Names {
				m.Exports = append(m.Exports, n.Exported)
			}
			continue
		}
		imp := Import{Specifier: decl.Source.Specifier, Reexport: true, pos: decl.Source.Pos}
		if decl.Star {
			m.ExportStars = append(m.ExportStars, decl.Source.Specifier)
		}
		for _, n := range decl.Names {
			imp.Names = append(imp.Names, ImportedName{Name: n.Local, Local: n.Exported})
			m.Exports = append(m.Exports, n.Exported)
		}
		m.Imports = append(m.Imports, imp)
	}
	for _, site := range scanned.Sites {
		if site.Kind == jsscan.KindDynamicImport {
			m.Imports = append(m.Imports, Import{Specifier: site.Specifier, Dynamic: true, pos: site.Pos})
		}
	}
}

// parseHTML collects module scripts. External scripts become dependencies;
// inline module scripts contribute their own imports.
func parseHTML(m *Module, src []byte) *Finding {
	z := html.NewTokenizer(bytes.NewReader(src))
	offset := 0
	for {
		tt := z.Next()
		start := offset
		offset += len(z.Raw())
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != nil && !errors.Is(err, io.EOF) {
				return &Finding{Filename: m.AppRelativePath, Message: MessageParseFailure, Detail: err.Error()}
			}
			return nil
		case html.StartTagToken:
			tok := z.Token()
			if tok.DataAtom != atom.Script || !isModuleScript(tok) {
				continue
			}
			if ref := attr(tok, "src"); ref != "" {
				m.Imports = append(m.Imports, Import{Specifier: ref, pos: jsscan.PositionOf(src, start)})
				continue
			}
			next := z.Next()
			inline := z.Raw()
			offset += len(inline)
			if next != html.TextToken {
				continue
			}
			scanned, err := jsscan.Scan(inline)
			if err != nil {
				return &Finding{Filename: m.AppRelativePath, Message: MessageParseFailure, Detail: "inline script: " + err.Error()}
			}
			inner := &Module{}
			collectModuleSyntax(inner, scanned)
			for _, imp := range inner.Imports {
				imp.pos = jsscan.Position{}
				m.Imports = append(m.Imports, imp)
			}
		}
	}
}

func isModuleScript(tok html.Token) bool {
	return strings.EqualFold(strings.TrimSpace(attr(tok, "type")), "module")
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
