// SPDX-License-Identifier: MPL-2.0

package jsscan

import (
	"errors"
	"fmt"
	"slices"

	"github.com/tdewolff/parse/v2/js"
)

const (
	// KindImport is `import ... from "x"` or `import "x"`.
	KindImport Kind = iota
	// KindReExport is `export * from "x"` or `export { a } from "x"`.
	KindReExport
	// KindDynamicImport is `import("x")`.
	KindDynamicImport
	// KindImportSync is a call to the imported importSync helper.
	KindImportSync
	// KindRequire is `require("x")`.
	KindRequire
	// KindDefineName is the name argument of a three-argument define().
	KindDefineName
	// KindDefineDep is one entry of a define() dependency array.
	KindDefineDep
)

// Modules that export an importSync helper or inline template helpers.
const (
	MacrosModule              = "@embroider/macros"
	TemplateCompilationModule = "@ember/template-compilation"
)

// ErrMalformedTemplateCall is wrapped by TemplateCall.Err.
var ErrMalformedTemplateCall = errors.New("malformed inline template")

// templateHelpers maps module -> imported name -> the callee kind.
var templateHelpers = map[string]map[string]string{
	"ember-cli-htmlbars":                   {"hbs": "hbs"},
	"ember-cli-htmlbars-inline-precompile": {"default": "hbs"},
	"htmlbars-inline-precompile":           {"default": "hbs"},
	TemplateCompilationModule:              {"precompileTemplate": "precompileTemplate"},
}

type (
	// Kind classifies a specifier site.
	Kind int

	// Site is one string literal that names a module.
	Site struct {
		Kind      Kind
		Specifier string
		// Start and End delimit the literal in the source, quotes included.
		Start int
		End   int
		Pos   Position
	}

	// Binding is one name introduced by an import declaration.
	Binding struct {
		// Imported is "default", "*" or the exported name.
		Imported string
		Local    string
	}

	// ImportDecl is a static import declaration.
	ImportDecl struct {
		Source   Site
		Bindings []Binding
		// Start and End delimit the whole statement, trailing semicolon
		// included.
		Start int
		End   int
	}

	// DefineCall is a call to the free function define().
	DefineCall struct {
		Pos Position
		// WellFormed is true for define("name", ["deps"...], factory).
		WellFormed bool
		Name       Site
		Deps       []Site
	}

	// TemplateCall is an inline template: hbs`...`, hbs("...") or
	// precompileTemplate("...", {...}).
	TemplateCall struct {
		// Callee is "hbs" or "precompileTemplate".
		Callee string
		Local  string
		Pos    Position
		// Start and End delimit the whole call expression.
		Start int
		End   int
		// Template is the decoded template text when Err is nil.
		Template string
		// Err is non-nil when the call has a shape that cannot be analyzed.
		Err error
	}

	// ExportName is one name an export statement adds to the module's
	// surface. For re-exports Local names the export of the source module.
	ExportName struct {
		Local    string
		Exported string
	}

	// ExportDecl is one export statement.
	ExportDecl struct {
		Pos Position
		// Source is set for `export ... from "x"`.
		Source *Site
		// Star is true for `export * from "x"`.
		Star  bool
		Names []ExportName
	}

	// Result is everything Scan found in one source file.
	Result struct {
		Sites     []Site
		Imports   []ImportDecl
		Exports   []ExportDecl
		Defines   []DefineCall
		Templates []TemplateCall
		// ModuleSyntax is true when the file has at least one static import
		// or export statement.
		ModuleSyntax bool
	}

	// Edit replaces src[Start:End] with Text.
	Edit struct {
		Start int
		End   int
		Text  string
	}
)

func (k Kind) String() string {
	switch k {
	case KindImport:
		return "import"
	case KindReExport:
		return "re-export"
	case KindDynamicImport:
		return "dynamic-import"
	case KindImportSync:
		return "importSync"
	case KindRequire:
		return "require"
	case KindDefineName:
		return "define-name"
	case KindDefineDep:
		return "define-dep"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Scan tokenizes src and records every module specifier site in source order.
func Scan(src []byte) (*Result, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	s := &scanner{src: src, toks: toks, res: &Result{}}
	s.declarations()
	s.calls()
	slices.SortStableFunc(s.res.Sites, func(a, b Site) int { return a.Start - b.Start })
	return s.res, nil
}

type scanner struct {
	src  []byte
	toks []token
	res  *Result

	importSync map[string]bool
	templates  map[string]string
}

func (s *scanner) at(i int) token {
	if i < 0 || i >= len(s.toks) {
		return token{tt: js.ErrorToken}
	}
	return s.toks[i]
}

func (s *scanner) afterDot(i int) bool { return s.at(i-1).data == "." || s.at(i-1).data == "?." }

func (s *scanner) site(kind Kind, t token) (Site, bool) {
	if !isString(t) && !isPlainTemplate(t) {
		return Site{}, false
	}
	spec, err := Unquote(t.data)
	if err != nil {
		return Site{}, false
	}
	return Site{Kind: kind, Specifier: spec, Start: t.start, End: t.end, Pos: positionOf(s.src, t.start)}, true
}

// declarations handles static import and export statements.
func (s *scanner) declarations() {
	s.importSync = make(map[string]bool)
	s.templates = make(map[string]string)

	for i := 0; i < len(s.toks); i++ {
		t := s.toks[i]
		if s.afterDot(i) {
			continue
		}
		switch t.data {
		case "import":
			next := s.at(i + 1)
			if next.data == "(" || next.data == "." || !s.keywordStatement(i) {
				continue
			}
			s.res.ModuleSyntax = true
			i = s.importDecl(i)
		case "export":
			if !s.keywordStatement(i) {
				continue
			}
			s.res.ModuleSyntax = true
			i = s.exportDecl(i)
		}
	}
}

// keywordStatement reports whether the import or export token at i can
// start a module declaration. Object keys, shorthand properties, class
// fields and methods named import or export cannot.
func (s *scanner) keywordStatement(i int) bool {
	switch s.at(i - 1).data {
	case "{", ",", "(", "[", ":", "?", "=", "static", "get", "set", "async", "*":
		return false
	}
	switch s.at(i + 1).data {
	case ":", "(", "=", ",", "}", ")", "]", ";", "?":
		return false
	}
	return true
}

func (s *scanner) importDecl(i int) int {
	if site, ok := s.site(KindImport, s.at(i+1)); ok {
		s.res.Sites = append(s.res.Sites, site)
		s.res.Imports = append(s.res.Imports, ImportDecl{Source: site, Start: s.toks[i].start, End: s.statementEnd(i + 1)})
		return i + 1
	}
	for j := i + 1; j < len(s.toks); j++ {
		switch s.toks[j].data {
		case ";", "import", "export":
			return j - 1
		case "from":
			site, ok := s.site(KindImport, s.at(j+1))
			if !ok {
				continue
			}
			decl := ImportDecl{
				Source:   site,
				Bindings: parseImportClause(s.toks[i+1 : j]),
				Start:    s.toks[i].start,
				End:      s.statementEnd(j + 1),
			}
			s.res.Sites = append(s.res.Sites, site)
			s.res.Imports = append(s.res.Imports, decl)
			s.bind(decl)
			return j + 1
		}
	}
	return len(s.toks)
}

// statementEnd returns the offset just past the token at last, or past the
// semicolon following it.
func (s *scanner) statementEnd(last int) int {
	if s.at(last+1).data == ";" {
		return s.toks[last+1].end
	}
	return s.toks[last].end
}

// IsTemplateHelperModule reports whether specifier exports an inline
// template helper such as hbs or precompileTemplate.
func IsTemplateHelperModule(specifier string) bool {
	_, ok := templateHelpers[specifier]
	return ok
}

func (s *scanner) bind(decl ImportDecl) {
	for _, b := range decl.Bindings {
		if decl.Source.Specifier == MacrosModule && b.Imported == "importSync" {
			s.importSync[b.Local] = true
		}
		if helpers, ok := templateHelpers[decl.Source.Specifier]; ok {
			if callee, ok := helpers[b.Imported]; ok {
				s.templates[b.Local] = callee
			}
		}
	}
}

// calls handles call-shaped forms: import(), require(), importSync(),
// define() and inline templates.
func (s *scanner) calls() {
	for i := 0; i < len(s.toks); i++ {
		t := s.toks[i]
		if !isIdentLike(t.data) || s.afterDot(i) {
			continue
		}
		prev := s.at(i - 1).data
		if prev == "function" || prev == "class" {
			continue
		}
		next := s.at(i + 1)

		if callee, ok := s.templates[t.data]; ok {
			switch {
			case next.data == "(":
				s.templateCall(i, callee)
			case next.tt == js.TemplateToken || next.tt == js.TemplateStartToken:
				s.taggedTemplate(i, callee)
			}
			continue
		}
		if next.data != "(" {
			continue
		}

		switch {
		case t.data == "import":
			s.singleArgCall(i, KindDynamicImport)
		case t.data == "require":
			s.singleArgCall(i, KindRequire)
		case s.importSync[t.data]:
			s.singleArgCall(i, KindImportSync)
		case t.data == "define":
			s.defineCall(i)
		}
	}
}

func (s *scanner) singleArgCall(i int, kind Kind) {
	if s.at(i+3).data != ")" {
		return
	}
	if site, ok := s.site(kind, s.at(i+2)); ok {
		s.res.Sites = append(s.res.Sites, site)
	}
}

func (s *scanner) defineCall(i int) {
	call := DefineCall{Pos: positionOf(s.src, s.toks[i].start)}
	defer func() { s.res.Defines = append(s.res.Defines, call) }()

	j := i + 2
	name, ok := s.site(KindDefineName, s.at(j))
	if !ok || s.at(j+1).data != "," || s.at(j+2).data != "[" {
		return
	}
	j += 3

	var deps []Site
	for s.at(j).data != "]" {
		dep, ok := s.site(KindDefineDep, s.at(j))
		if !ok {
			return
		}
		deps = append(deps, dep)
		j++
		if s.at(j).data == "," {
			j++
		}
	}
	j++
	if s.at(j).data != "," || !s.isFactory(j+1) {
		return
	}

	call.WellFormed = true
	call.Name = name
	call.Deps = deps
	s.res.Sites = append(s.res.Sites, name)
	s.res.Sites = append(s.res.Sites, deps...)
}

func (s *scanner) isFactory(j int) bool {
	switch t := s.at(j); {
	case t.data == "function", t.data == "async", t.data == "(":
		return true
	case isIdentLike(t.data):
		return s.at(j+1).data == "=>"
	}
	return false
}

func (s *scanner) templateCall(i int, callee string) {
	end := s.matchClose(i + 1)
	call := TemplateCall{
		Callee: callee,
		Local:  s.toks[i].data,
		Pos:    positionOf(s.src, s.toks[i].start),
		Start:  s.toks[i].start,
	}
	if end < 0 {
		call.End = len(s.src)
		call.Err = fmt.Errorf("%w: unterminated call to %s", ErrMalformedTemplateCall, call.Local)
		s.res.Templates = append(s.res.Templates, call)
		return
	}
	call.End = s.toks[end].end

	lit := s.at(i + 2)
	after := s.at(i + 3).data
	switch {
	case !isString(lit) && !isPlainTemplate(lit):
		call.Err = fmt.Errorf("%w: argument to %s must be a string literal", ErrMalformedTemplateCall, call.Local)
	case after == ")":
	case after == "," && callee == "precompileTemplate" && s.at(i+4).data == "{" && s.matchClose(i+4)+1 == end:
	default:
		call.Err = fmt.Errorf("%w: %s takes exactly one string literal argument", ErrMalformedTemplateCall, call.Local)
	}
	if call.Err == nil {
		text, err := Unquote(lit.data)
		if err != nil {
			call.Err = fmt.Errorf("%w: %v", ErrMalformedTemplateCall, err)
		}
		call.Template = text
	}
	s.res.Templates = append(s.res.Templates, call)
}

func (s *scanner) taggedTemplate(i int, callee string) {
	lit := s.toks[i+1]
	call := TemplateCall{
		Callee: callee,
		Local:  s.toks[i].data,
		Pos:    positionOf(s.src, s.toks[i].start),
		Start:  s.toks[i].start,
		End:    lit.end,
	}
	if lit.tt != js.TemplateToken {
		call.Err = fmt.Errorf("%w: tagged template %s cannot contain interpolations", ErrMalformedTemplateCall, call.Local)
		for j := i + 1; j < len(s.toks); j++ {
			if s.toks[j].tt == js.TemplateEndToken {
				call.End = s.toks[j].end
				break
			}
		}
	} else if text, err := Unquote(lit.data); err != nil {
		call.Err = fmt.Errorf("%w: %v", ErrMalformedTemplateCall, err)
	} else {
		call.Template = text
	}
	s.res.Templates = append(s.res.Templates, call)
}

// matchClose returns the index of the bracket closing the one at open, or -1.
func (s *scanner) matchClose(open int) int {
	depth := 0
	for j := open; j < len(s.toks); j++ {
		switch s.toks[j].data {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				return j
			}
		}
		if s.toks[j].tt == js.TemplateStartToken {
			depth++
		}
		if s.toks[j].tt == js.TemplateEndToken {
			depth--
		}
	}
	return -1
}

func parseImportClause(toks []token) []Binding {
	var out []Binding
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.data == "*":
			if i+2 < len(toks) && toks[i+1].data == "as" {
				out = append(out, Binding{Imported: "*", Local: toks[i+2].data})
				i += 2
			}
		case t.data == "{":
			j := i + 1
			for j < len(toks) && toks[j].data != "}" {
				name := toks[j].data
				if isString(toks[j]) {
					name, _ = Unquote(name)
				}
				local := name
				if j+2 < len(toks) && toks[j+1].data == "as" {
					local = toks[j+2].data
					j += 2
				}
				out = append(out, Binding{Imported: name, Local: local})
				j++
				if j < len(toks) && toks[j].data == "," {
					j++
				}
			}
			i = j
		case t.data == "," || t.data == "type":
		case isIdentLike(t.data):
			out = append(out, Binding{Imported: "default", Local: t.data})
		}
	}
	return out
}

// Apply returns src with every edit applied. Edits may be given in any order
// but must not overlap.
func Apply(src []byte, edits []Edit) ([]byte, error) {
	sorted := slices.Clone(edits)
	slices.SortStableFunc(sorted, func(a, b Edit) int { return a.Start - b.Start })

	out := make([]byte, 0, len(src))
	cursor := 0
	for _, e := range sorted {
		if e.Start < cursor || e.End < e.Start || e.End > len(src) {
			return nil, fmt.Errorf("invalid or overlapping edit [%d,%d)", e.Start, e.End)
		}
		out = append(out, src[cursor:e.Start]...)
		out = append(out, e.Text...)
		cursor = e.End
	}
	return append(out, src[cursor:]...), nil
}
