// SPDX-License-Identifier: MPL-2.0

package template

import (
	"fmt"
	"sort"
	"strings"
)

// voidElements never have children or a closing tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "param": true,
	"source": true, "track": true, "wbr": true,
}

// rawTextElements hold text that is not parsed as template syntax.
var rawTextElements = map[string]bool{"script": true, "style": true}

// ParseError reports a syntax error in template source.
type ParseError struct {
	Loc Loc
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Loc.Line, e.Loc.Column, e.Msg)
}

const (
	termEOF termKind = iota
	termCloseBlock
	termElse
	termCloseElement
)

type (
	termKind int

	// terminator is what ended a run of statements.
	terminator struct {
		kind termKind
		name string
		// chained is set for `{{else if ...}}`; the cursor is left at the
		// nested block's path.
		chained bool
		loc     Loc
	}

	parser struct {
		src        string
		pos        int
		lineStarts []int
	}
)

// Parse parses Glimmer template source.
func Parse(src string) (*Template, error) {
	p := &parser{src: src, lineStarts: []int{0}}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			p.lineStarts = append(p.lineStarts, i+1)
		}
	}

	body, term, err := p.statements()
	if err != nil {
		return nil, err
	}
	switch term.kind {
	case termCloseBlock:
		return nil, &ParseError{Loc: term.loc, Msg: fmt.Sprintf("closing {{/%s}} without an open block", term.name)}
	case termElse:
		return nil, &ParseError{Loc: term.loc, Msg: "{{else}} outside of a block"}
	case termCloseElement:
		return nil, &ParseError{Loc: term.loc, Msg: fmt.Sprintf("closing </%s> without an open element", term.name)}
	}
	return &Template{Block: Block{Body: body, Loc: Loc{Line: 1, Column: 1}}}, nil
}

func (p *parser) loc(offset int) Loc {
	line := sort.SearchInts(p.lineStarts, offset+1) - 1
	return Loc{Line: line + 1, Column: offset - p.lineStarts[line] + 1}
}

func (p *parser) errorf(offset int, format string, args ...any) error {
	return &ParseError{Loc: p.loc(offset), Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) rest() string { return p.src[p.pos:] }

func (p *parser) skipSpace() {
	for !p.eof() && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

// consume advances past s when the input starts with it.
func (p *parser) consume(s string) bool {
	if strings.HasPrefix(p.rest(), s) {
		p.pos += len(s)
		return true
	}
	return false
}

// closeMustache consumes an optional "~" and then closer.
func (p *parser) closeMustache(closer string) bool {
	start := p.pos
	p.skipSpace()
	p.consume("~")
	if p.consume(closer) {
		return true
	}
	p.pos = start
	return false
}

func (p *parser) atMustacheClose(closer string) bool {
	r := p.rest()
	return strings.HasPrefix(r, closer) || strings.HasPrefix(r, "~"+closer)
}

// statements parses until EOF or a construct the caller must handle.
func (p *parser) statements() ([]Statement, terminator, error) {
	var out []Statement
	for {
		if p.eof() {
			return out, terminator{kind: termEOF}, nil
		}
		start := p.pos
		r := p.rest()

		switch {
		case strings.HasPrefix(r, "{{"):
			stmt, term, err := p.mustache()
			if err != nil {
				return nil, terminator{}, err
			}
			if term != nil {
				return out, *term, nil
			}
			out = append(out, stmt)

		case strings.HasPrefix(r, "<!--"):
			end := strings.Index(r[4:], "-->")
			if end < 0 {
				return nil, terminator{}, p.errorf(start, "unterminated HTML comment")
			}
			out = append(out, &CommentStatement{Value: r[4 : 4+end], Loc: p.loc(start)})
			p.pos += 4 + end + 3

		case strings.HasPrefix(r, "</"):
			p.pos += 2
			name := p.tagName()
			p.skipSpace()
			if !p.consume(">") {
				return nil, terminator{}, p.errorf(start, "malformed closing tag </%s", name)
			}
			return out, terminator{kind: termCloseElement, name: name, loc: p.loc(start)}, nil

		case startsTag(r):
			el, err := p.element()
			if err != nil {
				return nil, terminator{}, err
			}
			out = append(out, el)

		default:
			out = append(out, p.text())
		}
	}
}

// text reads content up to the next mustache or tag.
func (p *parser) text() *TextNode {
	start := p.pos
	var b strings.Builder
	for !p.eof() {
		r := p.rest()
		if strings.HasPrefix(r, `\{{`) {
			b.WriteString("{{")
			p.pos += 3
			continue
		}
		if strings.HasPrefix(r, "{{") || strings.HasPrefix(r, "<!--") || strings.HasPrefix(r, "</") || startsTag(r) {
			break
		}
		b.WriteByte(p.src[p.pos])
		p.pos++
	}
	return &TextNode{Chars: b.String(), Loc: p.loc(start)}
}

// mustache parses anything starting with "{{". It returns a terminator for
// {{else}} and {{/close}}.
func (p *parser) mustache() (Statement, *terminator, error) {
	start := p.pos
	loc := p.loc(start)

	if p.consume("{{{") {
		p.consume("~")
		path, params, hash, _, err := p.call("}}}", false)
		if err != nil {
			return nil, nil, err
		}
		return &MustacheStatement{Path: path, Params: params, Hash: hash, Trusted: true, Loc: loc}, nil, nil
	}

	p.pos += 2
	p.consume("~")
	p.skipSpace()

	switch {
	case p.consume("!--"):
		end, width := strings.Index(p.rest(), "--}}"), 4
		if tilde := strings.Index(p.rest(), "--~}}"); tilde >= 0 && (end < 0 || tilde < end) {
			end, width = tilde, 5
		}
		if end < 0 {
			return nil, nil, p.errorf(start, "unterminated comment")
		}
		value := p.rest()[:end]
		p.pos += end + width
		return &MustacheCommentStatement{Value: value, Loc: loc}, nil, nil

	case p.consume("!"):
		end := strings.Index(p.rest(), "}}")
		if end < 0 {
			return nil, nil, p.errorf(start, "unterminated comment")
		}
		value := strings.TrimSuffix(p.rest()[:end], "~")
		p.pos += end + 2
		return &MustacheCommentStatement{Value: value, Loc: loc}, nil, nil

	case p.consume("#"):
		stmt, err := p.block(loc)
		return stmt, nil, err

	case p.consume("/"):
		p.skipSpace()
		nameStart := p.pos
		for !p.eof() && !isSpace(p.src[p.pos]) && !p.atMustacheClose("}}") {
			p.pos++
		}
		name := p.src[nameStart:p.pos]
		if !p.closeMustache("}}") {
			return nil, nil, p.errorf(start, "malformed closing block {{/%s", name)
		}
		return nil, &terminator{kind: termCloseBlock, name: name, loc: loc}, nil

	case p.isKeyword("else"):
		p.pos += len("else")
		if p.closeMustache("}}") {
			return nil, &terminator{kind: termElse, loc: loc}, nil
		}
		p.skipSpace()
		return nil, &terminator{kind: termElse, chained: true, loc: loc}, nil
	}

	path, params, hash, _, err := p.call("}}", false)
	if err != nil {
		return nil, nil, err
	}
	return &MustacheStatement{Path: path, Params: params, Hash: hash, Loc: loc}, nil, nil
}

// isKeyword reports whether the input starts with word followed by a
// delimiter.
func (p *parser) isKeyword(word string) bool {
	r := p.rest()
	if !strings.HasPrefix(r, word) {
		return false
	}
	after := r[len(word):]
	return after == "" || isSpace(after[0]) || after[0] == '}' || after[0] == '~'
}

// block parses a block statement after "{{#".
func (p *parser) block(loc Loc) (*BlockStatement, error) {
	stmt := &BlockStatement{Loc: loc}
	if err := p.blockOpen(stmt); err != nil {
		return nil, err
	}
	closeName := ExpressionSource(stmt.Path)
	return stmt, p.blockTail(stmt, closeName)
}

// blockOpen parses the path, arguments and block params of an opening block
// and the closing "}}".
func (p *parser) blockOpen(stmt *BlockStatement) error {
	path, params, hash, blockParams, err := p.call("}}", true)
	if err != nil {
		return err
	}
	stmt.Path = path
	stmt.Params = params
	stmt.Hash = hash
	stmt.Program = &Block{BlockParams: blockParams, Loc: stmt.Loc}
	return nil
}

func (p *parser) blockTail(stmt *BlockStatement, closeName string) error {
	body, term, err := p.statements()
	if err != nil {
		return err
	}
	stmt.Program.Body = body

	switch term.kind {
	case termCloseBlock:
		if term.name != closeName {
			return &ParseError{Loc: term.loc, Msg: fmt.Sprintf("{{/%s}} does not match {{#%s}}", term.name, closeName)}
		}
		return nil

	case termElse:
		if term.chained {
			nested := &BlockStatement{Loc: term.loc}
			if err := p.blockOpen(nested); err != nil {
				return err
			}
			stmt.Inverse = &Block{Body: []Statement{nested}, Loc: term.loc}
			return p.blockTail(nested, closeName)
		}
		inverse, end, err := p.statements()
		if err != nil {
			return err
		}
		stmt.Inverse = &Block{Body: inverse, Loc: term.loc}
		if end.kind != termCloseBlock || end.name != closeName {
			return &ParseError{Loc: end.loc, Msg: fmt.Sprintf("expected {{/%s}}", closeName)}
		}
		return nil

	case termCloseElement:
		return &ParseError{Loc: term.loc, Msg: fmt.Sprintf("</%s> closes an element inside open block {{#%s}}", term.name, closeName)}

	default:
		return &ParseError{Loc: stmt.Loc, Msg: fmt.Sprintf("unclosed block {{#%s}}", closeName)}
	}
}

// call parses `path params hash [as |x|]` up to closer.
func (p *parser) call(closer string, allowBlockParams bool) (Expression, []Expression, Hash, []string, error) {
	var (
		params      []Expression
		hash        Hash
		blockParams []string
	)
	p.skipSpace()
	start := p.pos
	path, err := p.expression()
	if err != nil {
		return nil, nil, Hash{}, nil, err
	}

	for {
		p.skipSpace()
		if p.closeMustache(closer) {
			return path, params, hash, blockParams, nil
		}
		if p.eof() {
			return nil, nil, Hash{}, nil, p.errorf(start, "unterminated mustache, expected %q", closer)
		}
		if p.isKeyword("as") && strings.HasPrefix(strings.TrimLeft(p.rest()[2:], " \t\r\n"), "|") {
			if !allowBlockParams {
				return nil, nil, Hash{}, nil, p.errorf(p.pos, "block params are only allowed on blocks and elements")
			}
			names, err := p.blockParams()
			if err != nil {
				return nil, nil, Hash{}, nil, err
			}
			blockParams = names
			continue
		}
		if key, ok := p.hashKey(); ok {
			pairLoc := p.loc(p.pos)
			p.pos += len(key) + 1
			value, err := p.expression()
			if err != nil {
				return nil, nil, Hash{}, nil, err
			}
			hash.Pairs = append(hash.Pairs, HashPair{Key: key, Value: value, Loc: pairLoc})
			continue
		}
		param, err := p.expression()
		if err != nil {
			return nil, nil, Hash{}, nil, err
		}
		params = append(params, param)
	}
}

// hashKey returns the key when the input is `key=`.
func (p *parser) hashKey() (string, bool) {
	r := p.rest()
	i := 0
	for i < len(r) && isIdentChar(r[i]) {
		i++
	}
	if i == 0 || i >= len(r) || r[i] != '=' {
		return "", false
	}
	return r[:i], true
}

// blockParams parses `as |a b|`.
func (p *parser) blockParams() ([]string, error) {
	start := p.pos
	p.pos += 2
	p.skipSpace()
	p.consume("|")
	end := strings.IndexByte(p.rest(), '|')
	if end < 0 {
		return nil, p.errorf(start, "unterminated block params")
	}
	names := strings.Fields(p.rest()[:end])
	p.pos += end + 1
	if len(names) == 0 {
		return nil, p.errorf(start, "empty block params")
	}
	return names, nil
}

func (p *parser) expression() (Expression, error) {
	p.skipSpace()
	if p.eof() {
		return nil, p.errorf(p.pos, "unexpected end of template")
	}
	start := p.pos
	loc := p.loc(start)
	c := p.src[p.pos]

	switch {
	case c == '(':
		p.pos++
		path, params, hash, _, err := p.call(")", false)
		if err != nil {
			return nil, err
		}
		return &SubExpression{Path: path, Params: params, Hash: hash, Loc: loc}, nil

	case c == '"' || c == '\'':
		return p.stringLiteral(loc)

	case isDigit(c) || (c == '-' && p.pos+1 < len(p.src) && isDigit(p.src[p.pos+1])):
		p.pos++
		for !p.eof() && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
			p.pos++
		}
		return &NumberLiteral{Original: p.src[start:p.pos], Loc: loc}, nil
	}

	for !p.eof() && isPathChar(p.src[p.pos]) {
		p.pos++
	}
	word := p.src[start:p.pos]
	if word == "" {
		return nil, p.errorf(start, "unexpected %q", string(c))
	}
	switch word {
	case "true", "false":
		return &BooleanLiteral{Value: word == "true", Loc: loc}, nil
	case "null":
		return &NullLiteral{Loc: loc}, nil
	case "undefined":
		return &UndefinedLiteral{Loc: loc}, nil
	}
	return &PathExpression{Original: word, Loc: loc}, nil
}

func (p *parser) stringLiteral(loc Loc) (*StringLiteral, error) {
	start := p.pos
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for !p.eof() {
		c := p.src[p.pos]
		if c == '\\' && p.pos+1 < len(p.src) && p.src[p.pos+1] == quote {
			b.WriteByte(quote)
			p.pos += 2
			continue
		}
		if c == quote {
			p.pos++
			return &StringLiteral{Value: b.String(), Original: p.src[start:p.pos], Loc: loc}, nil
		}
		b.WriteByte(c)
		p.pos++
	}
	return nil, p.errorf(start, "unterminated string literal")
}

func (p *parser) tagName() string {
	start := p.pos
	for !p.eof() {
		c := p.src[p.pos]
		if isSpace(c) || c == '/' || c == '>' {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

// element parses an element, its attributes, modifiers and children.
func (p *parser) element() (*ElementNode, error) {
	start := p.pos
	p.pos++
	el := &ElementNode{Tag: p.tagName(), Loc: p.loc(start)}

	for {
		p.skipSpace()
		if p.eof() {
			return nil, p.errorf(start, "unterminated <%s> tag", el.Tag)
		}
		switch {
		case p.consume("/>"):
			el.SelfClosing = true
			return el, nil
		case p.consume(">"):
			return el, p.children(el)
		case strings.HasPrefix(p.rest(), "{{"):
			loc := p.loc(p.pos)
			if strings.HasPrefix(p.rest(), "{{!") {
				if _, _, err := p.mustache(); err != nil {
					return nil, err
				}
				continue
			}
			p.pos += 2
			p.consume("~")
			path, params, hash, _, err := p.call("}}", false)
			if err != nil {
				return nil, err
			}
			el.Modifiers = append(el.Modifiers, &ElementModifierStatement{Path: path, Params: params, Hash: hash, Loc: loc})
		case p.isKeyword("as"):
			names, err := p.blockParams()
			if err != nil {
				return nil, err
			}
			el.BlockParams = names
		default:
			attr, err := p.attribute()
			if err != nil {
				return nil, err
			}
			el.Attributes = append(el.Attributes, attr)
		}
	}
}

func (p *parser) children(el *ElementNode) error {
	lower := strings.ToLower(el.Tag)
	if voidElements[lower] {
		return nil
	}
	if rawTextElements[lower] {
		closer := "</" + el.Tag
		end := strings.Index(strings.ToLower(p.rest()), strings.ToLower(closer))
		if end < 0 {
			return p.errorf(p.pos, "unclosed <%s>", el.Tag)
		}
		if end > 0 {
			el.Children = []Statement{&TextNode{Chars: p.rest()[:end], Loc: p.loc(p.pos)}}
		}
		p.pos += end + len(closer)
		p.skipSpace()
		if !p.consume(">") {
			return p.errorf(p.pos, "malformed closing tag </%s", el.Tag)
		}
		return nil
	}

	body, term, err := p.statements()
	if err != nil {
		return err
	}
	el.Children = body
	if term.kind != termCloseElement {
		return &ParseError{Loc: el.Loc, Msg: fmt.Sprintf("unclosed element <%s>", el.Tag)}
	}
	if term.name != el.Tag {
		return &ParseError{Loc: term.loc, Msg: fmt.Sprintf("</%s> does not match <%s>", term.name, el.Tag)}
	}
	return nil
}

func (p *parser) attribute() (*AttrNode, error) {
	start := p.pos
	for !p.eof() {
		c := p.src[p.pos]
		if isSpace(c) || c == '=' || c == '>' || c == '/' {
			break
		}
		p.pos++
	}
	attr := &AttrNode{Name: p.src[start:p.pos], Loc: p.loc(start)}
	if attr.Name == "" {
		return nil, p.errorf(start, "unexpected %q in tag", string(p.src[p.pos]))
	}
	if !p.consume("=") {
		attr.Value = &TextNode{Loc: attr.Loc}
		return attr, nil
	}

	valueStart := p.pos
	switch {
	case p.eof():
		return nil, p.errorf(start, "missing value for attribute %s", attr.Name)
	case p.src[p.pos] == '"' || p.src[p.pos] == '\'':
		value, err := p.quotedAttrValue()
		if err != nil {
			return nil, err
		}
		attr.Value = value
	case strings.HasPrefix(p.rest(), "{{"):
		stmt, term, err := p.mustache()
		if err != nil {
			return nil, err
		}
		if term != nil {
			return nil, p.errorf(valueStart, "unexpected block syntax in attribute %s", attr.Name)
		}
		attr.Value = stmt
	default:
		for !p.eof() && !isSpace(p.src[p.pos]) && p.src[p.pos] != '>' && !strings.HasPrefix(p.rest(), "/>") {
			p.pos++
		}
		attr.Value = &TextNode{Chars: p.src[valueStart:p.pos], Loc: p.loc(valueStart)}
	}
	return attr, nil
}

// quotedAttrValue returns a TextNode for plain values and a ConcatStatement
// when mustaches are interpolated.
func (p *parser) quotedAttrValue() (Node, error) {
	start := p.pos
	quote := p.src[p.pos]
	p.pos++

	var (
		parts    []Node
		text     strings.Builder
		textFrom = p.pos
		dynamic  bool
	)
	flush := func() {
		if text.Len() > 0 {
			parts = append(parts, &TextNode{Chars: text.String(), Loc: p.loc(textFrom)})
			text.Reset()
		}
	}
	for {
		if p.eof() {
			return nil, p.errorf(start, "unterminated attribute value")
		}
		c := p.src[p.pos]
		if c == quote {
			p.pos++
			break
		}
		if strings.HasPrefix(p.rest(), "{{") {
			flush()
			stmt, term, err := p.mustache()
			if err != nil {
				return nil, err
			}
			if term != nil {
				return nil, p.errorf(start, "unexpected block syntax in attribute value")
			}
			if _, comment := stmt.(*MustacheCommentStatement); !comment {
				parts = append(parts, stmt)
				dynamic = true
			}
			textFrom = p.pos
			continue
		}
		text.WriteByte(c)
		p.pos++
	}
	flush()

	if !dynamic {
		var chars strings.Builder
		for _, part := range parts {
			chars.WriteString(part.(*TextNode).Chars)
		}
		return &TextNode{Chars: chars.String(), Loc: p.loc(start)}, nil
	}
	return &ConcatStatement{Parts: parts, Loc: p.loc(start)}, nil
}

// startsTag reports whether r begins an opening tag.
func startsTag(r string) bool {
	if len(r) < 2 || r[0] != '<' {
		return false
	}
	c := r[1]
	return isLetter(c) || c == '@' || c == ':'
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isIdentChar(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '_' || c == '-' || c == '$' || c == '@'
}

func isPathChar(c byte) bool {
	if isSpace(c) {
		return false
	}
	switch c {
	case '}', '(', ')', '=', '|', '"', '\'', '~', '{':
		return false
	}
	return true
}
