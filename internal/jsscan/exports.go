// SPDX-License-Identifier: MPL-2.0

package jsscan

import (
	"strings"

	"github.com/tdewolff/parse/v2/js"
)

// exportDecl records the export statement starting at i and returns the
// index of the last token it consumed.
func (s *scanner) exportDecl(i int) int {
	decl := ExportDecl{Pos: positionOf(s.src, s.toks[i].start)}
	j := i + 1
	switch s.at(j).data {
	case "*":
		j++
		if s.at(j).data == "as" {
			decl.Names = []ExportName{{Local: "*", Exported: exportedName(s.at(j + 1))}}
			j += 2
		} else {
			decl.Star = true
		}
	case "{":
		end := s.matchClose(j)
		if end < 0 {
			return i
		}
		decl.Names = parseExportList(s.toks[j+1 : end])
		j = end + 1
	case "default":
		decl.Names = []ExportName{{Local: "default", Exported: "default"}}
		s.res.Exports = append(s.res.Exports, decl)
		return i
	default:
		for _, name := range s.declaredNames(j) {
			decl.Names = append(decl.Names, ExportName{Local: name, Exported: name})
		}
		if len(decl.Names) > 0 {
			s.res.Exports = append(s.res.Exports, decl)
		}
		return i
	}

	if s.at(j).data == "from" {
		site, ok := s.site(KindReExport, s.at(j+1))
		if !ok {
			return i
		}
		s.res.Sites = append(s.res.Sites, site)
		decl.Source = &site
		s.res.Exports = append(s.res.Exports, decl)
		return j + 1
	}
	if !decl.Star {
		s.res.Exports = append(s.res.Exports, decl)
	}
	return i
}

// declaredNames returns the bindings introduced by the declaration at j.
func (s *scanner) declaredNames(j int) []string {
	if s.at(j).data == "async" {
		j++
	}
	switch s.at(j).data {
	case "function":
		j++
		if s.at(j).data == "*" {
			j++
		}
		if t := s.at(j); isIdentLike(t.data) {
			return []string{t.data}
		}
	case "class":
		if t := s.at(j + 1); isIdentLike(t.data) && t.data != "extends" {
			return []string{t.data}
		}
	case "var", "let", "const":
		return s.declarators(j + 1)
	}
	return nil
}

// declarators collects the names of a comma separated declarator list.
func (s *scanner) declarators(j int) []string {
	var names []string
	for j < len(s.toks) {
		t := s.toks[j]
		switch {
		case t.data == "{" || t.data == "[":
			end := s.matchClose(j)
			if end < 0 {
				return names
			}
			names = append(names, s.patternNames(j+1, end)...)
			j = end + 1
		case isIdentLike(t.data):
			names = append(names, t.data)
			j++
		default:
			return names
		}
		j = s.skipInitializer(j)
		if s.at(j).data != "," {
			return names
		}
		j++
	}
	return names
}

// patternNames returns the binding identifiers of a destructuring pattern
// between from and to. Property keys are skipped; default values may add
// spurious names, which only widens the surface.
func (s *scanner) patternNames(from, to int) []string {
	var names []string
	for k := from; k < to; k++ {
		t := s.toks[k]
		if !isIdentLike(t.data) || s.afterDot(k) {
			continue
		}
		switch s.at(k + 1).data {
		case ",", "}", "]", "=":
			names = append(names, t.data)
		}
	}
	return names
}

// skipInitializer advances past an optional `= expr` and returns the index
// of the token that ends it: a top-level comma, a semicolon, a closing
// bracket or a token that starts a new statement on a new line.
func (s *scanner) skipInitializer(j int) int {
	if s.at(j).data != "=" {
		return j
	}
	depth := 0
	for k := j + 1; k < len(s.toks); k++ {
		t := s.toks[k]
		switch t.data {
		case "(", "[", "{":
			depth++
			continue
		case ")", "]", "}":
			if depth == 0 {
				return k
			}
			depth--
			continue
		}
		if t.tt == js.TemplateStartToken {
			depth++
		}
		if t.tt == js.TemplateEndToken {
			depth--
		}
		if depth > 0 {
			continue
		}
		if t.data == "," || t.data == ";" || s.startsStatement(k) {
			return k
		}
	}
	return len(s.toks)
}

// startsStatement reports whether automatic semicolon insertion ends the
// previous statement before token k.
func (s *scanner) startsStatement(k int) bool {
	prev, cur := s.at(k-1), s.at(k)
	if !strings.Contains(string(s.src[prev.end:cur.start]), "\n") {
		return false
	}
	if !isIdentLike(cur.data) {
		return false
	}
	switch {
	case isIdentLike(prev.data), isString(prev), isNumber(prev.data),
		prev.tt == js.TemplateToken, prev.tt == js.TemplateEndToken:
	case prev.data == ")" || prev.data == "]" || prev.data == "}":
	default:
		return false
	}
	switch cur.data {
	case "instanceof", "in", "of":
		return false
	}
	return true
}

func parseExportList(toks []token) []ExportName {
	var out []ExportName
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.data == "," || t.data == "type" && i+1 < len(toks) && toks[i+1].data != "," && toks[i+1].data != "as" {
			continue
		}
		local := exportedName(t)
		exported := local
		if i+2 < len(toks) && toks[i+1].data == "as" {
			exported = exportedName(toks[i+2])
			i += 2
		}
		out = append(out, ExportName{Local: local, Exported: exported})
	}
	return out
}

func isNumber(s string) bool {
	return s != "" && (s[0] >= '0' && s[0] <= '9' || s[0] == '.' && len(s) > 1)
}

// exportedName returns an identifier or the value of a string literal name.
func exportedName(t token) string {
	if isString(t) {
		if v, err := Unquote(t.data); err == nil {
			return v
		}
	}
	return t.data
}
