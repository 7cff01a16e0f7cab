// SPDX-License-Identifier: MPL-2.0

package template

import "strings"

type (
	// Loc is a 1-based line/column position in template source.
	Loc struct {
		Line   int
		Column int
	}

	// Node is any template AST node.
	Node interface {
		Location() Loc
	}

	// Statement is a node that may appear in a block body.
	Statement interface {
		Node
		statement()
	}

	// Expression is a value position: a path, a literal or a sub-expression.
	Expression interface {
		Node
		expression()
	}

	// Block is a body that may bind block params (`as |a b|`).
	Block struct {
		Body        []Statement
		BlockParams []string
		Loc         Loc
	}

	// Template is the root of a parsed template.
	Template struct {
		Block
	}

	// TextNode is literal content.
	TextNode struct {
		Chars string
		Loc   Loc
	}

	// CommentStatement is an HTML comment.
	CommentStatement struct {
		Value string
		Loc   Loc
	}

	// MustacheCommentStatement is a `{{! }}` or `{{!-- --}}` comment.
	MustacheCommentStatement struct {
		Value string
		Loc   Loc
	}

	// Hash is a list of key=value arguments.
	Hash struct {
		Pairs []HashPair
	}

	// HashPair is one key=value argument.
	HashPair struct {
		Key   string
		Value Expression
		Loc   Loc
	}

	// MustacheStatement is `{{path params hash}}`.
	MustacheStatement struct {
		Path    Expression
		Params  []Expression
		Hash    Hash
		Trusted bool
		Loc     Loc
	}

	// BlockStatement is `{{#path ...}}...{{else}}...{{/path}}`.
	BlockStatement struct {
		Path    Expression
		Params  []Expression
		Hash    Hash
		Program *Block
		Inverse *Block
		Loc     Loc
	}

	// ElementModifierStatement is a `{{modifier ...}}` inside an element tag.
	ElementModifierStatement struct {
		Path   Expression
		Params []Expression
		Hash   Hash
		Loc    Loc
	}

	// AttrNode is one element attribute. Value is a TextNode,
	// MustacheStatement or ConcatStatement.
	AttrNode struct {
		Name  string
		Value Node
		Loc   Loc
	}

	// ConcatStatement is an attribute value mixing text and mustaches.
	ConcatStatement struct {
		Parts []Node
		Loc   Loc
	}

	// ElementNode is an HTML element or an angle-bracket invocation.
	ElementNode struct {
		Tag         string
		Attributes  []*AttrNode
		Modifiers   []*ElementModifierStatement
		Children    []Statement
		BlockParams []string
		SelfClosing bool
		Loc         Loc
	}

	// PathExpression is `foo`, `foo.bar`, `this.foo` or `@foo`.
	PathExpression struct {
		Original string
		Loc      Loc
	}

	// SubExpression is `(helper params hash)`.
	SubExpression struct {
		Path   Expression
		Params []Expression
		Hash   Hash
		Loc    Loc
	}

	// StringLiteral is a quoted string.
	StringLiteral struct {
		Value    string
		Original string
		Loc      Loc
	}

	// NumberLiteral is a numeric literal kept in its source spelling.
	NumberLiteral struct {
		Original string
		Loc      Loc
	}

	// BooleanLiteral is true or false.
	BooleanLiteral struct {
		Value bool
		Loc   Loc
	}

	// NullLiteral is null.
	NullLiteral struct{ Loc Loc }

	// UndefinedLiteral is undefined.
	UndefinedLiteral struct{ Loc Loc }
)

func (n *Block) Location() Loc                    { return n.Loc }
func (n *TextNode) Location() Loc                 { return n.Loc }
func (n *CommentStatement) Location() Loc         { return n.Loc }
func (n *MustacheCommentStatement) Location() Loc { return n.Loc }
func (n *MustacheStatement) Location() Loc        { return n.Loc }
func (n *BlockStatement) Location() Loc           { return n.Loc }
func (n *ElementModifierStatement) Location() Loc { return n.Loc }
func (n *AttrNode) Location() Loc                 { return n.Loc }
func (n *ConcatStatement) Location() Loc          { return n.Loc }
func (n *ElementNode) Location() Loc              { return n.Loc }
func (n *PathExpression) Location() Loc           { return n.Loc }
func (n *SubExpression) Location() Loc            { return n.Loc }
func (n *StringLiteral) Location() Loc            { return n.Loc }
func (n *NumberLiteral) Location() Loc            { return n.Loc }
func (n *BooleanLiteral) Location() Loc           { return n.Loc }
func (n *NullLiteral) Location() Loc              { return n.Loc }
func (n *UndefinedLiteral) Location() Loc         { return n.Loc }

func (*TextNode) statement()                 {}
func (*CommentStatement) statement()         {}
func (*MustacheCommentStatement) statement() {}
func (*MustacheStatement) statement()        {}
func (*BlockStatement) statement()           {}
func (*ElementNode) statement()              {}

func (*PathExpression) expression()   {}
func (*SubExpression) expression()    {}
func (*StringLiteral) expression()    {}
func (*NumberLiteral) expression()    {}
func (*BooleanLiteral) expression()   {}
func (*NullLiteral) expression()      {}
func (*UndefinedLiteral) expression() {}

// Head is the first segment of the path: "foo" for "foo.bar", "this" for
// "this.x" and "@arg" for "@arg.y".
func (p *PathExpression) Head() string {
	head, _, _ := strings.Cut(p.Original, ".")
	return head
}

// IsLocal reports whether the path starts at this or an @argument, which
// can never name a global invokable.
func (p *PathExpression) IsLocal() bool {
	head := p.Head()
	return head == "this" || strings.HasPrefix(head, "@")
}

// IsSimple reports whether the path is one bare segment.
func (p *PathExpression) IsSimple() bool {
	return !p.IsLocal() && !strings.Contains(p.Original, ".")
}

// Len returns the number of pairs.
func (h Hash) Len() int { return len(h.Pairs) }

// TagHead is the first dot segment of the tag ("foo" for <foo.bar>).
func (n *ElementNode) TagHead() string {
	head, _, _ := strings.Cut(n.Tag, ".")
	return head
}

// ExpressionSource renders e the way it would be written in a template.
func ExpressionSource(e Expression) string {
	switch v := e.(type) {
	case *PathExpression:
		return v.Original
	case *StringLiteral:
		return v.Original
	case *NumberLiteral:
		return v.Original
	case *BooleanLiteral:
		if v.Value {
			return "true"
		}
		return "false"
	case *NullLiteral:
		return "null"
	case *UndefinedLiteral:
		return "undefined"
	case *SubExpression:
		parts := []string{ExpressionSource(v.Path)}
		for _, p := range v.Params {
			parts = append(parts, ExpressionSource(p))
		}
		for _, pair := range v.Hash.Pairs {
			parts = append(parts, pair.Key+"="+ExpressionSource(pair.Value))
		}
		return "(" + strings.Join(parts, " ") + ")"
	default:
		return ""
	}
}
