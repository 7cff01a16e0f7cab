// SPDX-License-Identifier: MPL-2.0

package jsscan

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
)

type (
	// token is a significant (non-whitespace, non-comment) lexer token with
	// its byte range in the source.
	token struct {
		tt    js.TokenType
		data  string
		start int
		end   int
	}

	// Position is a 1-based line and column in a source file.
	Position struct {
		Line   int
		Column int
	}

	// LexError reports a tokenization failure.
	LexError struct {
		Pos Position
		Err error
	}
)

func (e *LexError) Error() string {
	return fmt.Sprintf("%d:%d: %v", e.Pos.Line, e.Pos.Column, e.Err)
}

// Unwrap returns the underlying lexer error.
func (e *LexError) Unwrap() error { return e.Err }

// keywords after which a slash starts a regular expression literal.
var regexAfterKeyword = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "yield": true, "await": true,
}

func isTrivia(tt js.TokenType) bool {
	switch tt {
	case js.WhitespaceToken, js.LineTerminatorToken, js.CommentToken, js.CommentLineTerminatorToken:
		return true
	}
	return false
}

// regexAllowed reports whether a '/' following prev begins a regular expression.
func regexAllowed(prev *token) bool {
	if prev == nil {
		return true
	}
	switch prev.data {
	case ")", "]":
		return false
	}
	if prev.tt == js.StringToken || prev.tt == js.TemplateToken || prev.tt == js.TemplateEndToken {
		return false
	}
	if isIdentLike(prev.data) {
		return regexAfterKeyword[prev.data]
	}
	if prev.data != "" && (prev.data[0] >= '0' && prev.data[0] <= '9' || prev.data[0] == '.' && len(prev.data) > 1) {
		return false
	}
	return true
}

// tokenize lexes src into significant tokens.
func tokenize(src []byte) ([]token, error) {
	l := js.NewLexer(parse.NewInputBytes(src))
	var (
		toks   []token
		offset int
	)
	for {
		tt, data := l.Next()
		if tt == js.ErrorToken {
			if err := l.Err(); err != nil && !errors.Is(err, io.EOF) {
				return toks, &LexError{Pos: positionOf(src, offset), Err: err}
			}
			return toks, nil
		}
		start := offset
		if tt == js.DivToken || tt == js.DivEqToken {
			var prev *token
			if len(toks) > 0 {
				prev = &toks[len(toks)-1]
			}
			if regexAllowed(prev) {
				tt, data = l.RegExp()
				if tt == js.ErrorToken {
					return toks, &LexError{Pos: positionOf(src, start), Err: errors.New("unterminated regular expression")}
				}
			}
		}
		offset = start + len(data)
		if isTrivia(tt) {
			continue
		}
		toks = append(toks, token{tt: tt, data: string(data), start: start, end: offset})
	}
}

func isIdentLike(s string) bool {
	if s == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r == '_' || r == '$' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= utf8.RuneSelf
}

func isString(t token) bool { return t.tt == js.StringToken }

// isPlainTemplate reports whether t is a template literal without substitutions.
func isPlainTemplate(t token) bool { return t.tt == js.TemplateToken }

// Unquote decodes a JavaScript string literal (single or double quoted) or a
// template literal without substitutions.
func Unquote(lit string) (string, error) {
	if len(lit) < 2 {
		return "", fmt.Errorf("invalid string literal %q", lit)
	}
	quote := lit[0]
	if (quote != '"' && quote != '\'' && quote != '`') || lit[len(lit)-1] != quote {
		return "", fmt.Errorf("invalid string literal %q", lit)
	}
	body := lit[1 : len(lit)-1]
	if !strings.ContainsRune(body, '\\') {
		return body, nil
	}

	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 >= len(body) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch e := body[i]; e {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'v':
			sb.WriteByte('\v')
		case '0':
			sb.WriteByte(0)
		case '\n':
			// line continuation
		case '\r':
			if i+1 < len(body) && body[i+1] == '\n' {
				i++
			}
		case 'u':
			r, n, ok := unicodeEscape(body[i-1:])
			if !ok {
				return "", fmt.Errorf("invalid unicode escape in %q", lit)
			}
			if utf16.IsSurrogate(r) {
				if r2, n2, ok := unicodeEscape(body[i-1+n:]); ok {
					if pair := utf16.DecodeRune(r, r2); pair != utf8.RuneError {
						r = pair
						n += n2
					}
				}
			}
			sb.WriteRune(r)
			i += n - 2
		case 'x':
			if i+2 >= len(body) {
				return "", fmt.Errorf("invalid hex escape in %q", lit)
			}
			n, err := strconv.ParseUint(body[i+1:i+3], 16, 8)
			if err != nil {
				return "", fmt.Errorf("invalid hex escape in %q", lit)
			}
			sb.WriteRune(rune(n))
			i += 2
		default:
			sb.WriteByte(e)
		}
	}
	return sb.String(), nil
}

// unicodeEscape decodes a \uXXXX or \u{X...} escape at the start of s and
// returns the rune and the escape's length in bytes.
func unicodeEscape(s string) (rune, int, bool) {
	if len(s) < 3 || s[0] != '\\' || s[1] != 'u' {
		return 0, 0, false
	}
	if s[2] == '{' {
		end := strings.IndexByte(s, '}')
		if end < 4 {
			return 0, 0, false
		}
		n, err := strconv.ParseUint(s[3:end], 16, 32)
		if err != nil || n > unicode.MaxRune {
			return 0, 0, false
		}
		return rune(n), end + 1, true
	}
	if len(s) < 6 {
		return 0, 0, false
	}
	n, err := strconv.ParseUint(s[2:6], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	return rune(n), 6, true
}

// Quote renders s as a double-quoted JavaScript string literal. Printable
// characters are kept as is; everything else uses escapes JavaScript accepts.
func Quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); {
		r, width := utf8.DecodeRuneInString(s[i:])
		i += width
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\v':
			sb.WriteString(`\v`)
		default:
			switch {
			case r == utf8.RuneError && width == 1:
				sb.WriteString(`\uFFFD`)
			case r < 0x80 && (r < 0x20 || r == 0x7f):
				fmt.Fprintf(&sb, `\x%02X`, r)
			case r == '\u2028' || r == '\u2029' || !unicode.IsPrint(r):
				if r > 0xFFFF {
					fmt.Fprintf(&sb, `\u{%X}`, r)
				} else {
					fmt.Fprintf(&sb, `\u%04X`, r)
				}
			default:
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// positionOf converts a byte offset into a 1-based line/column.
func positionOf(src []byte, offset int) Position {
	if offset > len(src) {
		offset = len(src)
	}
	line, col := 1, 1
	for _, b := range src[:offset] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return Position{Line: line, Column: col}
}

// PositionOf converts a byte offset in src into a 1-based line/column.
func PositionOf(src []byte, offset int) Position {
	return positionOf(src, offset)
}
