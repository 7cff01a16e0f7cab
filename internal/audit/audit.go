// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/invowk/stitch/internal/jsscan"
)

// Result is the output of an audit run.
type Result struct {
	// Modules is keyed by app relative path.
	Modules  map[string]*Module `json:"modules"`
	Findings []Finding          `json:"findings"`
	Summary  Summary            `json:"summary"`
}

type auditor struct {
	host   Host
	logger *log.Logger

	modules  map[string]*Module
	order    []*Module
	queue    []*Module
	findings []Finding
	seen     map[string]bool
}

// Run walks the module graph reachable from the entrypoints, breadth first,
// and reports every dependency that does not resolve and every import of a
// name its target does not export.
//
// Modules that fail to load or parse are reported once and dropped; they
// never cause findings in the modules that import them.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}
	a := &auditor{
		host:    opts.Host,
		logger:  opts.Logger,
		modules: make(map[string]*Module),
		seen:    make(map[string]bool),
	}
	for _, entry := range opts.Entrypoints {
		a.discover(entry, nil)
	}

	for len(a.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("audit canceled: %w", err)
		}
		m := a.queue[0]
		a.queue = a.queue[1:]
		if err := a.visit(ctx, m); err != nil {
			return nil, err
		}
	}

	a.linkAll()
	for _, m := range a.order {
		a.checkImports(m)
	}
	return a.result(), nil
}

// discover returns the module for id, queueing it the first time it is seen.
func (a *auditor) discover(id string, from *Module) *Module {
	if m, ok := a.modules[id]; ok {
		return m
	}
	m := &Module{
		AppRelativePath: a.host.RelativePath(id),
		ConsumedFrom:    RootMarker,
		State:           StateDiscovered,
		id:              id,
	}
	if from != nil {
		m.ConsumedFrom = from.AppRelativePath
	}
	a.modules[id] = m
	a.order = append(a.order, m)
	a.queue = append(a.queue, m)
	a.logger.Debug("discovered module", "module", m.AppRelativePath, "from", m.ConsumedFrom)
	return m
}

func (a *auditor) report(f Finding) {
	if a.seen[f.key()] {
		return
	}
	a.seen[f.key()] = true
	a.findings = append(a.findings, f)
}

func (a *auditor) visit(ctx context.Context, m *Module) error {
	content, findings, err := a.host.Load(ctx, m.id)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", m.AppRelativePath, err)
	}
	if content == nil || len(findings) > 0 {
		for _, f := range findings {
			a.report(f)
		}
		return nil
	}
	m.Type = content.Type
	m.source = content.Source

	if f := parseContent(m, content); f != nil {
		a.report(*f)
		return nil
	}
	m.State = StateParsed

	m.Resolutions = make(map[string]string)
	m.deps = make(map[string]*Module)
	for _, imp := range m.Imports {
		if _, done := m.Resolutions[imp.Specifier]; done {
			continue
		}
		target, err := a.host.Resolve(ctx, imp.Specifier, m.id)
		if err != nil {
			return fmt.Errorf("failed to resolve %q from %s: %w", imp.Specifier, m.AppRelativePath, err)
		}
		switch target.Kind {
		case TargetModule:
			dep := a.discover(target.ID, m)
			m.deps[imp.Specifier] = dep
			m.Resolutions[imp.Specifier] = dep.AppRelativePath
		case TargetExternal:
			m.Resolutions[imp.Specifier] = ExternalMarker
		default:
			m.Resolutions[imp.Specifier] = ""
			a.report(Finding{
				Filename:  m.AppRelativePath,
				Message:   MessageUnresolved,
				Detail:    imp.Specifier,
				CodeFrame: a.frame(m, imp.pos),
			})
		}
	}
	m.State = StateResolved
	return nil
}

// linker expands `export *` surfaces with Tarjan's strongly connected
// components over the star graph. Members of a star cycle share one surface:
// the cycle's own exports plus everything it re-exports from outside. A
// component with a star target that cannot be linked stays Resolved, and
// imports from it are not checked.
type linker struct {
	index   map[*Module]int
	low     map[*Module]int
	onStack map[*Module]bool
	stack   []*Module
}

func (a *auditor) linkAll() {
	l := &linker{
		index:   make(map[*Module]int),
		low:     make(map[*Module]int),
		onStack: make(map[*Module]bool),
	}
	for _, m := range a.order {
		if _, visited := l.index[m]; !visited && m.State == StateResolved {
			l.connect(m)
		}
	}
}

// starTargets returns the modules m re-exports from, or false when one of
// them can never be linked.
func starTargets(m *Module) ([]*Module, bool) {
	targets := make([]*Module, 0, len(m.ExportStars))
	for _, spec := range m.ExportStars {
		dep := m.deps[spec]
		if dep == nil || dep.permissive() || (dep.State != StateResolved && dep.State != StateLinked) {
			return nil, false
		}
		targets = append(targets, dep)
	}
	return targets, true
}

func (l *linker) connect(m *Module) {
	l.index[m] = len(l.index)
	l.low[m] = l.index[m]
	l.stack = append(l.stack, m)
	l.onStack[m] = true

	targets, _ := starTargets(m)
	for _, dep := range targets {
		if _, visited := l.index[dep]; !visited {
			l.connect(dep)
			l.low[m] = min(l.low[m], l.low[dep])
		} else if l.onStack[dep] {
			l.low[m] = min(l.low[m], l.index[dep])
		}
	}
	if l.low[m] != l.index[m] {
		return
	}

	var members []*Module
	for {
		top := l.stack[len(l.stack)-1]
		l.stack = l.stack[:len(l.stack)-1]
		l.onStack[top] = false
		members = append(members, top)
		if top == m {
			break
		}
	}
	linkComponent(members)
}

// linkComponent runs once every component reachable from members has been
// linked or has failed, which Tarjan's completion order guarantees.
func linkComponent(members []*Module) {
	inComponent := make(map[*Module]bool, len(members))
	for _, m := range members {
		inComponent[m] = true
	}
	shared := make(map[string]bool)
	for _, m := range members {
		targets, ok := starTargets(m)
		if !ok {
			return
		}
		for _, name := range m.Exports {
			shared[name] = true
		}
		for _, dep := range targets {
			if inComponent[dep] {
				continue
			}
			if dep.State != StateLinked {
				return
			}
			maps.Copy(shared, dep.linked)
		}
	}
	for _, m := range members {
		names := maps.Clone(shared)
		delete(names, "default")
		for _, name := range m.Exports {
			names[name] = true
		}
		m.linked = names
		m.LinkedExports = sortedNames(names)
		m.State = StateLinked
	}
}

func (a *auditor) checkImports(m *Module) {
	for _, imp := range m.Imports {
		dep := m.deps[imp.Specifier]
		if dep == nil || dep.State != StateLinked || dep.permissive() {
			continue
		}
		for _, name := range imp.Names {
			if name.Name == "*" || dep.linked[name.Name] {
				continue
			}
			f := Finding{Filename: m.AppRelativePath, CodeFrame: a.frame(m, imp.pos)}
			if name.Name == "default" {
				f.Message = MessageMissingDefault
				f.Detail = fmt.Sprintf("%s has no default export. Did you mean `import * as %s from %q`?",
					dep.AppRelativePath, name.Local, imp.Specifier)
			} else {
				f.Message = MessageMissingNamed
				f.Detail = fmt.Sprintf("%s has no export named %q%s",
					dep.AppRelativePath, name.Name, didYouMean(name.Name, dep.LinkedExports))
			}
			a.report(f)
		}
	}
}

func (a *auditor) frame(m *Module, pos jsscan.Position) string {
	if pos.Line == 0 {
		return ""
	}
	return jsscan.CodeFrame(m.source, pos)
}

func (a *auditor) result() *Result {
	res := &Result{
		Modules:  make(map[string]*Module, len(a.order)),
		Findings: slices.Clone(a.findings),
	}
	if res.Findings == nil {
		res.Findings = []Finding{}
	}
	for _, m := range a.order {
		res.Modules[m.AppRelativePath] = m
	}
	res.Summary = ComputeSummary(res)
	return res
}
