// SPDX-License-Identifier: MPL-2.0

package template

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Invokable kinds.
const (
	KindComponent Kind = "component"
	KindHelper    Kind = "helper"
	KindModifier  Kind = "modifier"
)

// ErrUnresolved is wrapped by InvokableError.
var ErrUnresolved = errors.New("unresolvable invokable")

// keywords are built into the template language and never resolved.
var keywords = map[string]bool{
	"action": true, "array": true, "component": true, "concat": true, "debugger": true,
	"each": true, "each-in": true, "fn": true, "get": true, "has-block": true,
	"has-block-params": true, "hash": true, "helper": true, "if": true, "in-element": true,
	"-in-element": true, "let": true, "log": true, "modifier": true, "mount": true, "mut": true,
	"on": true, "outlet": true, "query-params": true, "readonly": true, "unbound": true,
	"unique-id": true, "unless": true, "with": true, "yield": true,
	"input": true, "textarea": true, "link-to": true,
}

// builtinComponents are angle-bracket components provided by the framework.
var builtinComponents = map[string]bool{"Input": true, "Textarea": true, "LinkTo": true}

type (
	// Kind is what an invokable resolved to.
	Kind string

	// Record is one statically resolved invokable.
	Record struct {
		Kind Kind `json:"kind"`
		// Name is the reference as written in the template.
		Name string `json:"name"`
		// RuntimeName is the module's name in the runtime registry.
		RuntimeName string `json:"runtimeName"`
		// Path is the file (or virtual module) implementing it.
		Path string `json:"path"`
		Loc  Loc    `json:"loc"`
	}

	// Resolver answers invokable lookups for one build. A nil record with a
	// nil error means the reference is left to runtime resolution.
	Resolver interface {
		// ResolveMustache resolves `{{name}}`, `{{name arg}}` or a block head,
		// which may be a component or a helper.
		ResolveMustache(ctx context.Context, name, fromFile string, hasArgs bool) (*Record, error)
		// ResolveSubExpression resolves the head of `(name ...)`.
		ResolveSubExpression(ctx context.Context, name, fromFile string) (*Record, error)
		// ResolveElement resolves an angle-bracket invocation.
		ResolveElement(ctx context.Context, tag, fromFile string) (*Record, error)
		// ResolveModifier resolves `<div {{name}}>`.
		ResolveModifier(ctx context.Context, name, fromFile string) (*Record, error)
		// ResolveComponentName resolves the first argument of the component
		// helper. Literal names are strict; dynamic ones are advisory.
		ResolveComponentName(ctx context.Context, name, fromFile string, literal bool) (*Record, error)
	}

	// InvokableError reports a reference that had to resolve but did not.
	InvokableError struct {
		Kind     Kind
		Name     string
		FromFile string
		Loc      Loc
		Reason   string
	}

	// Dependencies holds one ordered record list per template module name.
	Dependencies struct {
		order   []string
		records map[string][]Record
	}

	// analyzer walks one template with a stack of block-param scopes.
	analyzer struct {
		ctx        context.Context
		resolver   Resolver
		fromFile   string
		moduleName string
		deps       *Dependencies
		scopes     [][]string
		problems   *multierror.Error
	}
)

func (e *InvokableError) Error() string {
	msg := fmt.Sprintf("%s:%d:%d: unable to resolve %s %q", e.FromFile, e.Loc.Line, e.Loc.Column, e.Kind, e.Name)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvokableError) Unwrap() error { return ErrUnresolved }

// NewDependencies returns an empty set.
func NewDependencies() *Dependencies {
	return &Dependencies{records: make(map[string][]Record)}
}

// Add appends r to moduleName's list.
func (d *Dependencies) Add(moduleName string, r Record) {
	if _, ok := d.records[moduleName]; !ok {
		d.order = append(d.order, moduleName)
	}
	d.records[moduleName] = append(d.records[moduleName], r)
}

// For returns the records of moduleName in encounter order.
func (d *Dependencies) For(moduleName string) []Record {
	return slices.Clone(d.records[moduleName])
}

// Modules returns module names in the order they were first seen.
func (d *Dependencies) Modules() []string { return slices.Clone(d.order) }

// Analyze resolves every invokable in tmpl and appends the results to deps
// under moduleName. Unresolvable strict references are collected and
// returned together; records found before a failure are still kept.
func Analyze(ctx context.Context, tmpl *Template, fromFile, moduleName string, r Resolver, deps *Dependencies) error {
	a := &analyzer{
		ctx:        ctx,
		resolver:   r,
		fromFile:   fromFile,
		moduleName: moduleName,
		deps:       deps,
	}
	a.block(&tmpl.Block)
	return a.problems.ErrorOrNil()
}

func (a *analyzer) push(names []string) { a.scopes = append(a.scopes, names) }

func (a *analyzer) pop() { a.scopes = a.scopes[:len(a.scopes)-1] }

func (a *analyzer) inScope(name string) bool {
	for i := len(a.scopes) - 1; i >= 0; i-- {
		if slices.Contains(a.scopes[i], name) {
			return true
		}
	}
	return false
}

func (a *analyzer) record(rec *Record, err error, loc Loc) {
	if err != nil {
		var inv *InvokableError
		if errors.As(err, &inv) && inv.Loc == (Loc{}) {
			inv.Loc = loc
		}
		a.problems = multierror.Append(a.problems, err)
		return
	}
	if rec == nil {
		return
	}
	rec.Loc = loc
	a.deps.Add(a.moduleName, *rec)
}

func (a *analyzer) block(b *Block) {
	a.push(b.BlockParams)
	defer a.pop()
	for _, stmt := range b.Body {
		a.statement(stmt)
	}
}

func (a *analyzer) statement(stmt Statement) {
	switch n := stmt.(type) {
	case *MustacheStatement:
		hasArgs := len(n.Params) > 0 || n.Hash.Len() > 0
		a.invocation(n.Path, n.Params, n.Hash, hasArgs, n.Loc)
	case *BlockStatement:
		a.invocation(n.Path, n.Params, n.Hash, true, n.Loc)
		a.block(n.Program)
		if n.Inverse != nil {
			a.block(n.Inverse)
		}
	case *ElementNode:
		a.element(n)
	}
}

// invocation handles mustache and block heads.
func (a *analyzer) invocation(path Expression, params []Expression, hash Hash, hasArgs bool, loc Loc) {
	if p, ok := path.(*PathExpression); ok && !a.skip(p) {
		if p.Original == "component" && len(params) > 0 {
			a.componentHelper(params[0])
		} else if !keywords[p.Original] {
			rec, err := a.resolver.ResolveMustache(a.ctx, p.Original, a.fromFile, hasArgs)
			a.record(rec, err, loc)
		}
	}
	a.arguments(path, params, hash)
}

// arguments walks nested sub-expressions.
func (a *analyzer) arguments(path Expression, params []Expression, hash Hash) {
	if sub, ok := path.(*SubExpression); ok {
		a.expression(sub)
	}
	for _, p := range params {
		a.expression(p)
	}
	for _, pair := range hash.Pairs {
		a.expression(pair.Value)
	}
}

func (a *analyzer) expression(e Expression) {
	sub, ok := e.(*SubExpression)
	if !ok {
		return
	}
	if p, ok := sub.Path.(*PathExpression); ok && !a.skip(p) {
		if p.Original == "component" && len(sub.Params) > 0 {
			a.componentHelper(sub.Params[0])
		} else if !keywords[p.Original] {
			rec, err := a.resolver.ResolveSubExpression(a.ctx, p.Original, a.fromFile)
			a.record(rec, err, sub.Loc)
		}
	}
	a.arguments(sub.Path, sub.Params, sub.Hash)
}

// skip reports whether p cannot name a global invokable.
func (a *analyzer) skip(p *PathExpression) bool {
	return !p.IsSimple() || a.inScope(p.Head())
}

func (a *analyzer) componentHelper(arg Expression) {
	switch v := arg.(type) {
	case *StringLiteral:
		rec, err := a.resolver.ResolveComponentName(a.ctx, v.Value, a.fromFile, true)
		a.record(rec, err, v.Loc)
	case *PathExpression:
		if a.inScope(v.Head()) {
			return
		}
		rec, err := a.resolver.ResolveComponentName(a.ctx, ExpressionSource(v), a.fromFile, false)
		a.record(rec, err, v.Loc)
	}
}

func (a *analyzer) element(el *ElementNode) {
	if isInvocationTag(el.Tag) && !a.inScope(el.TagHead()) && !builtinComponents[el.Tag] {
		rec, err := a.resolver.ResolveElement(a.ctx, el.Tag, a.fromFile)
		a.record(rec, err, el.Loc)
	}

	// Attributes and modifiers interleave in source order.
	attrs, mods := el.Attributes, el.Modifiers
	for len(attrs) > 0 || len(mods) > 0 {
		if len(mods) == 0 || (len(attrs) > 0 && before(attrs[0].Loc, mods[0].Loc)) {
			a.attrValue(attrs[0].Value)
			attrs = attrs[1:]
			continue
		}
		a.modifier(mods[0])
		mods = mods[1:]
	}

	a.push(el.BlockParams)
	defer a.pop()
	for _, child := range el.Children {
		a.statement(child)
	}
}

func (a *analyzer) modifier(m *ElementModifierStatement) {
	if p, ok := m.Path.(*PathExpression); ok && !a.skip(p) && !keywords[p.Original] {
		rec, err := a.resolver.ResolveModifier(a.ctx, p.Original, a.fromFile)
		a.record(rec, err, m.Loc)
	}
	a.arguments(m.Path, m.Params, m.Hash)
}

func (a *analyzer) attrValue(n Node) {
	switch v := n.(type) {
	case *MustacheStatement:
		a.statement(v)
	case *ConcatStatement:
		for _, part := range v.Parts {
			if m, ok := part.(*MustacheStatement); ok {
				a.statement(m)
			}
		}
	}
}

// isInvocationTag reports whether tag names a global component. Paths,
// named arguments and named blocks (<:header>) are local.
func isInvocationTag(tag string) bool {
	if tag == "" || strings.ContainsAny(tag, ".@:") && !strings.Contains(tag, "::") {
		return false
	}
	return tag[0] >= 'A' && tag[0] <= 'Z'
}

func before(x, y Loc) bool {
	return x.Line < y.Line || (x.Line == y.Line && x.Column < y.Column)
}
