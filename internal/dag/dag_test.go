// SPDX-License-Identifier: MPL-2.0

package dag

import (
	"errors"
	"slices"
	"testing"
)

func TestTopologicalSort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		nodes []string
		edges [][2]string
		want  []string
	}{
		{name: "empty", want: nil},
		{name: "unconstrained keeps insertion order", nodes: []string{"c", "a", "b"}, want: []string{"c", "a", "b"}},
		{
			name:  "chain",
			edges: [][2]string{{"a", "b"}, {"b", "c"}},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "later node constrained first",
			nodes: []string{"addon-a", "addon-b", "addon-c"},
			edges: [][2]string{{"addon-c", "addon-a"}},
			want:  []string{"addon-b", "addon-c", "addon-a"},
		},
		{
			name:  "diamond",
			edges: [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}},
			want:  []string{"a", "b", "c", "d"},
		},
		{
			name:  "duplicate edges",
			edges: [][2]string{{"a", "b"}, {"a", "b"}},
			want:  []string{"a", "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := New()
			for _, n := range tt.nodes {
				g.AddNode(n)
			}
			for _, e := range tt.edges {
				g.AddEdge(e[0], e[1])
			}
			got, err := g.TopologicalSort()
			if err != nil {
				t.Fatalf("TopologicalSort() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("TopologicalSort() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTopologicalSortCycle(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddNode("free")
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	_, err := g.TopologicalSort()
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if !slices.Equal(cycleErr.Cycle, []string{"a", "b"}) {
		t.Errorf("Cycle = %v, want [a b]", cycleErr.Cycle)
	}
	if cycleErr.Error() != "ordering cycle detected: a -> b" {
		t.Errorf("Error() = %q", cycleErr.Error())
	}
}

func TestConstrainIgnoresUnknownNodes(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddNode("a")
	g.AddNode("b")

	if g.Constrain("a", "missing") {
		t.Error("Constrain() with unknown target should be dropped")
	}
	if g.Constrain("a", "a") {
		t.Error("Constrain() on itself should be dropped")
	}
	if !g.Constrain("b", "a") {
		t.Error("Constrain() between known nodes should apply")
	}
	if g.Has("missing") {
		t.Error("Constrain() must not add nodes")
	}

	got, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort() error = %v", err)
	}
	if !slices.Equal(got, []string{"b", "a"}) {
		t.Errorf("TopologicalSort() = %v, want [b a]", got)
	}
}
