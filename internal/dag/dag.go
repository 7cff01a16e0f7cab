// SPDX-License-Identifier: MPL-2.0

// Package dag orders named nodes under "must come before" constraints. The
// resolver uses it to merge addon app trees in the order implied by each
// addon's ember-addon before/after declarations.
package dag

import (
	"fmt"
	"slices"
	"strings"
)

type (
	// CycleError indicates that the constraints cannot all be satisfied.
	CycleError struct {
		// Cycle lists the nodes left unordered, in insertion order.
		Cycle []string
	}

	// Graph is a directed graph whose edge A -> B means A is ordered before B.
	Graph struct {
		successors map[string][]string
		// index records insertion order; it breaks ties between ready nodes.
		index map[string]int
		nodes []string
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("ordering cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		successors: make(map[string][]string),
		index:      make(map[string]int),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
}

// Has reports whether name was added.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// AddEdge orders from before to, adding either node if missing.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	if !slices.Contains(g.successors[from], to) {
		g.successors[from] = append(g.successors[from], to)
	}
}

// Constrain orders from before to only when both nodes already exist.
// Hints that mention absent nodes are dropped.
func (g *Graph) Constrain(from, to string) bool {
	if !g.Has(from) || !g.Has(to) || from == to {
		return false
	}
	g.AddEdge(from, to)
	return true
}

// TopologicalSort returns every node such that each edge's source precedes its
// target. Among nodes that are free to go next, the one added first wins, so
// an unconstrained graph sorts in insertion order.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	for _, succ := range g.successors {
		for _, n := range succ {
			inDegree[n]++
		}
	}

	var ready []string
	for _, n := range g.nodes {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		slices.SortFunc(ready, func(a, b string) int { return g.index[a] - g.index[b] })
		n := ready[0]
		ready = ready[1:]
		result = append(result, n)

		for _, succ := range g.successors[n] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}

	if len(result) != len(g.nodes) {
		var cycle []string
		for _, n := range g.nodes {
			if inDegree[n] > 0 {
				cycle = append(cycle, n)
			}
		}
		return nil, &CycleError{Cycle: cycle}
	}
	return result, nil
}
