package engine

import (
	"fmt"
	"slices"
	"strings"
	"testing"
)

func groupsEqual(a, b [][]ItemID) bool {
	return slices.EqualFunc(a, b, func(x, y []ItemID) bool { return slices.Equal(x, y) })
}

func TestItemGraphBuilder_Build_Empty(t *testing.T) {
	graph, err := NewItemGraphBuilder().Build()
	if err != nil {
		t.Fatalf("Expected no error for empty graph, got: %v", err)
	}

	if graph.Len() != 0 {
		t.Errorf("Expected 0 items, got %d", graph.Len())
	}

	if len(graph.RankConcurrentGroups()) != 0 {
		t.Errorf("Expected 0 groups, got %d", len(graph.RankConcurrentGroups()))
	}
}

func TestItemGraphBuilder_Build_LinearDependencies(t *testing.T) {
	graph := buildGraph(t,
		[]*testItem{newTestItem("a", 0, 0), newTestItem("b", 0, 0), newTestItem("c", 0, 0)},
		[2]string{"a", "b"}, [2]string{"b", "c"},
	)

	want := [][]ItemID{{"a"}, {"b"}, {"c"}}
	if got := graph.RankConcurrentGroups(); !groupsEqual(got, want) {
		t.Errorf("RankConcurrentGroups() = %v, want %v", got, want)
	}

	wantRev := [][]ItemID{{"c"}, {"b"}, {"a"}}
	if got := graph.RankConcurrentGroupsRev(); !groupsEqual(got, wantRev) {
		t.Errorf("RankConcurrentGroupsRev() = %v, want %v", got, wantRev)
	}

	if deps := graph.Dependencies("c"); !slices.Equal(deps, []ItemID{"b"}) {
		t.Errorf("Dependencies(c) = %v, want [b]", deps)
	}

	if deps := graph.Dependents("a"); !slices.Equal(deps, []ItemID{"b"}) {
		t.Errorf("Dependents(a) = %v, want [b]", deps)
	}
}

func TestItemGraphBuilder_Build_DiamondDependencies(t *testing.T) {
	graph := buildGraph(t,
		[]*testItem{newTestItem("a", 0, 0), newTestItem("c", 0, 0), newTestItem("b", 0, 0), newTestItem("d", 0, 0)},
		[2]string{"a", "b"}, [2]string{"a", "c"}, [2]string{"b", "d"}, [2]string{"c", "d"},
	)

	// Items in a group keep insertion order.
	want := [][]ItemID{{"a"}, {"c", "b"}, {"d"}}
	if got := graph.RankConcurrentGroups(); !groupsEqual(got, want) {
		t.Errorf("RankConcurrentGroups() = %v, want %v", got, want)
	}

	if items := graph.Items(); !slices.Equal(items, []ItemID{"a", "c", "b", "d"}) {
		t.Errorf("Items() = %v, want insertion order", items)
	}
}

func TestItemGraphBuilder_Build_ParallelItems(t *testing.T) {
	graph := buildGraph(t, []*testItem{newTestItem("x", 0, 0), newTestItem("y", 0, 0), newTestItem("z", 0, 0)})

	groups := graph.RankConcurrentGroups()
	if len(groups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(groups))
	}
	if len(groups[0]) != 3 {
		t.Errorf("Expected 3 items in group, got %d", len(groups[0]))
	}
}

func TestItemGraph_RankConcurrentGroups_ReturnsCopy(t *testing.T) {
	graph := buildGraph(t, []*testItem{newTestItem("a", 0, 0), newTestItem("b", 0, 0)})

	groups := graph.RankConcurrentGroups()
	groups[0][0] = "mutated"

	if got := graph.RankConcurrentGroups()[0][0]; got != "a" {
		t.Errorf("Graph was mutated through returned groups, got %s", got)
	}
}

func TestItemGraph_IterInDependencyOrder(t *testing.T) {
	tests := []struct {
		name  string
		ids   []string
		edges [][2]string
	}{
		{name: "linear", ids: []string{"a", "b", "c"}, edges: [][2]string{{"a", "b"}, {"b", "c"}}},
		{name: "reversed insertion", ids: []string{"c", "b", "a"}, edges: [][2]string{{"a", "b"}, {"b", "c"}}},
		{name: "diamond", ids: []string{"d", "c", "b", "a"}, edges: [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}}},
		{name: "forest", ids: []string{"a", "b", "c", "d", "e"}, edges: [][2]string{{"e", "a"}, {"d", "b"}, {"a", "c"}}},
		{name: "wide", ids: []string{"root", "l1", "l2", "l3", "l4", "tail"}, edges: [][2]string{
			{"root", "l1"}, {"root", "l2"}, {"root", "l3"}, {"root", "l4"},
			{"l1", "tail"}, {"l4", "tail"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]*testItem, len(tt.ids))
			for i, id := range tt.ids {
				items[i] = newTestItem(id, 0, 0)
			}
			graph := buildGraph(t, items, tt.edges...)

			position := make(map[ItemID]int)
			for item := range graph.IterInDependencyOrder() {
				position[item.ID()] = len(position)
			}

			if len(position) != len(tt.ids) {
				t.Fatalf("Expected %d items, got %d", len(tt.ids), len(position))
			}
			for _, e := range tt.edges {
				if position[ItemID(e[0])] >= position[ItemID(e[1])] {
					t.Errorf("Item %s yielded before its dependency %s", e[1], e[0])
				}
			}

			reversed := make(map[ItemID]int)
			for item := range graph.IterInReverseDependencyOrder() {
				reversed[item.ID()] = len(reversed)
			}
			for _, e := range tt.edges {
				if reversed[ItemID(e[1])] >= reversed[ItemID(e[0])] {
					t.Errorf("Reverse order yielded %s before its dependent %s", e[0], e[1])
				}
			}
		})
	}
}

func TestItemGraph_IterInDependencyOrder_Restartable(t *testing.T) {
	graph := buildGraph(t,
		[]*testItem{newTestItem("a", 0, 0), newTestItem("b", 0, 0), newTestItem("c", 0, 0)},
		[2]string{"a", "b"},
	)

	collect := func() []ItemID {
		var ids []ItemID
		for item := range graph.IterInDependencyOrder() {
			ids = append(ids, item.ID())
		}
		return ids
	}

	first, second := collect(), collect()
	if !slices.Equal(first, second) {
		t.Errorf("Iteration is not restartable: %v then %v", first, second)
	}

	count := 0
	for range graph.IterInDependencyOrder() {
		count++
		break
	}
	if count != 1 {
		t.Errorf("Expected early break after 1 item, got %d", count)
	}
}

func TestItemGraphBuilder_DetectCycles(t *testing.T) {
	tests := []struct {
		name  string
		ids   []string
		edges [][2]string
	}{
		{name: "two nodes", ids: []string{"a", "b"}, edges: [][2]string{{"a", "b"}, {"b", "a"}}},
		{name: "three nodes", ids: []string{"a", "b", "c"}, edges: [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}}},
		{name: "cycle behind root", ids: []string{"root", "x", "y", "z"}, edges: [][2]string{
			{"root", "x"}, {"x", "y"}, {"y", "z"}, {"z", "x"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewItemGraphBuilder()
			for _, id := range tt.ids {
				b.AddItem(Erase[int, int](newTestItem(id, 0, 0)))
			}
			for _, e := range tt.edges {
				b.AddEdge(ItemID(e[0]), ItemID(e[1]))
			}

			_, err := b.Build()
			if err == nil {
				t.Fatal("Expected cycle detection error, got nil")
			}
			if !HasCode(err, ErrCodeCycleDetected) {
				t.Errorf("Expected %s, got: %v", ErrCodeCycleDetected, err)
			}
			if !strings.Contains(err.Error(), "circular dependency detected") {
				t.Errorf("Expected cycle path in message, got: %v", err)
			}
		})
	}
}

func TestItemGraphBuilder_InvalidEdge(t *testing.T) {
	_, err := NewItemGraphBuilder().
		AddItem(Erase[int, int](newTestItem("a", 0, 0))).
		AddEdge("a", "missing").
		Build()

	if err == nil {
		t.Fatal("Expected error for edge to unknown item, got nil")
	}
	if !HasCode(err, ErrCodeValidation) {
		t.Errorf("Expected %s, got: %v", ErrCodeValidation, err)
	}
}

func TestItemGraphBuilder_DuplicateIDs(t *testing.T) {
	_, err := NewItemGraphBuilder().
		AddItem(Erase[int, int](newTestItem("a", 0, 0))).
		AddItem(Erase[int, int](newTestItem("a", 1, 1))).
		Build()

	if err == nil {
		t.Fatal("Expected error for duplicate IDs, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate item ID") {
		t.Errorf("Expected duplicate ID error, got: %v", err)
	}
}

func TestItemGraphBuilder_InvalidID(t *testing.T) {
	_, err := NewItemGraphBuilder().AddItem(Erase[int, int](newTestItem("1abc", 0, 0))).Build()
	if !HasCode(err, ErrCodeInvalidID) {
		t.Errorf("Expected %s, got: %v", ErrCodeInvalidID, err)
	}
}

func TestItemGraphBuilder_DuplicateEdgeIgnored(t *testing.T) {
	graph := buildGraph(t,
		[]*testItem{newTestItem("a", 0, 0), newTestItem("b", 0, 0)},
		[2]string{"a", "b"}, [2]string{"a", "b"},
	)

	if deps := graph.Dependencies("b"); len(deps) != 1 {
		t.Errorf("Expected 1 dependency, got %v", deps)
	}
}

func TestItemGraphBuilder_AccessConflict(t *testing.T) {
	writer := newTestItem("writer", 0, 0)
	writer.access = DataAccess{Writes: []string{"counter"}}
	reader := newTestItem("reader", 0, 0)
	reader.access = DataAccess{Reads: []string{"counter"}}

	_, err := NewItemGraphBuilder().
		AddItems(Erase[int, int](writer), Erase[int, int](reader)).
		Build()
	if !HasCode(err, ErrCodeValidation) {
		t.Fatalf("Expected access conflict validation error, got: %v", err)
	}

	// An ordering edge puts them in different groups.
	_, err = NewItemGraphBuilder().
		AddItems(Erase[int, int](writer), Erase[int, int](reader)).
		AddEdge("writer", "reader").
		Build()
	if err != nil {
		t.Errorf("Expected no error with ordering edge, got: %v", err)
	}
}

func TestItemGraph_ToDOT(t *testing.T) {
	graph := buildGraph(t,
		[]*testItem{newTestItem("a", 0, 0), newTestItem("b", 0, 0)},
		[2]string{"a", "b"},
	)

	dot := graph.ToDOT()

	for _, want := range []string{
		"digraph ItemGraph {",
		"subgraph cluster_group_0",
		"subgraph cluster_group_1",
		fmt.Sprintf("%q -> %q;", "a", "b"),
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q, got:\n%s", want, dot)
		}
	}
}
