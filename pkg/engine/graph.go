package engine

import (
	"fmt"
	"iter"
	"slices"
	"strings"
)

// ItemGraphBuilder assembles an ItemGraph. Misuse such as duplicate IDs or
// edges to unknown items is recorded and returned by Build.
type ItemGraphBuilder struct {
	// items holds the items in insertion order
	items []Item

	// index maps item IDs to their insertion position
	index map[ItemID]int

	// dependents maps an item to the items that depend on it
	dependents map[ItemID][]ItemID

	// dependencies maps an item to the items it depends on
	dependencies map[ItemID][]ItemID

	// err is the first misuse error
	err error
}

// NewItemGraphBuilder creates an empty builder.
func NewItemGraphBuilder() *ItemGraphBuilder {
	return &ItemGraphBuilder{
		index:        make(map[ItemID]int),
		dependents:   make(map[ItemID][]ItemID),
		dependencies: make(map[ItemID][]ItemID),
	}
}

// AddItem adds an item node.
func (b *ItemGraphBuilder) AddItem(item Item) *ItemGraphBuilder {
	if b.err != nil {
		return b
	}
	if item == nil {
		b.err = NewPermanentError("item is nil", nil).WithCode(ErrCodeValidation)
		return b
	}
	id := item.ID()
	if _, err := NewItemID(string(id)); err != nil {
		b.err = err
		return b
	}
	if _, exists := b.index[id]; exists {
		b.err = NewPermanentError(fmt.Sprintf("duplicate item ID: %s", id), nil).
			WithCode(ErrCodeValidation).WithItem(id)
		return b
	}
	b.index[id] = len(b.items)
	b.items = append(b.items, item)
	return b
}

// AddItems adds several item nodes.
func (b *ItemGraphBuilder) AddItems(items ...Item) *ItemGraphBuilder {
	for _, item := range items {
		b.AddItem(item)
	}
	return b
}

// AddEdge records that item to depends on item from, so from must complete
// before to starts.
func (b *ItemGraphBuilder) AddEdge(from, to ItemID) *ItemGraphBuilder {
	if b.err != nil {
		return b
	}
	for _, id := range []ItemID{from, to} {
		if _, exists := b.index[id]; !exists {
			b.err = NewPermanentError(
				fmt.Sprintf("edge %s -> %s references non-existent item %s", from, to, id),
				nil,
			).WithCode(ErrCodeValidation).WithItem(to)
			return b
		}
	}
	if slices.Contains(b.dependencies[to], from) {
		return b
	}
	b.dependents[from] = append(b.dependents[from], to)
	b.dependencies[to] = append(b.dependencies[to], from)
	return b
}

// Build validates the graph, detects cycles and computes concurrency groups.
func (b *ItemGraphBuilder) Build() (*ItemGraph, error) {
	if b.err != nil {
		return nil, b.err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	groups, err := b.computeGroups()
	if err != nil {
		return nil, err
	}

	g := &ItemGraph{
		items:        slices.Clone(b.items),
		index:        make(map[ItemID]int, len(b.index)),
		dependents:   make(map[ItemID][]ItemID, len(b.dependents)),
		dependencies: make(map[ItemID][]ItemID, len(b.dependencies)),
		groups:       groups,
	}
	for id, i := range b.index {
		g.index[id] = i
	}
	for id, deps := range b.dependents {
		g.dependents[id] = b.sortByInsertion(slices.Clone(deps))
	}
	for id, deps := range b.dependencies {
		g.dependencies[id] = b.sortByInsertion(slices.Clone(deps))
	}
	for _, group := range groups {
		g.order = append(g.order, group...)
	}

	if err := g.validateAccess(); err != nil {
		return nil, err
	}

	return g, nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *ItemGraphBuilder) detectCycles() error {
	visited := make(map[ItemID]bool)
	recStack := make(map[ItemID]bool)

	for _, item := range b.items {
		id := item.ID()
		if visited[id] {
			continue
		}
		if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
			return NewPermanentError(
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)),
				nil,
			).WithCode(ErrCodeCycleDetected).WithItem(cycle[0])
		}
	}

	return nil
}

// detectCyclesUtil returns the cycle path reachable from nodeID, if any.
func (b *ItemGraphBuilder) detectCyclesUtil(
	nodeID ItemID,
	visited map[ItemID]bool,
	recStack map[ItemID]bool,
	path []ItemID,
) []ItemID {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range b.dependents[nodeID] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			start := slices.Index(path, dependent)
			return append(slices.Clone(path[start:]), dependent)
		}
	}

	recStack[nodeID] = false
	return nil
}

// computeGroups assigns items to concurrency groups using Kahn's algorithm,
// one group per level. Items within a group keep insertion order.
func (b *ItemGraphBuilder) computeGroups() ([][]ItemID, error) {
	inDegree := make(map[ItemID]int, len(b.items))
	current := make([]ItemID, 0)
	for _, item := range b.items {
		id := item.ID()
		inDegree[id] = len(b.dependencies[id])
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	groups := make([][]ItemID, 0)
	processed := 0
	for len(current) > 0 {
		groups = append(groups, current)
		processed += len(current)

		next := make([]ItemID, 0)
		for _, id := range current {
			for _, dependent := range b.dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = b.sortByInsertion(next)
	}

	if processed != len(b.items) {
		return nil, NewPermanentError("failed to process all items - possible cycle", nil).
			WithCode(ErrCodeInternal)
	}

	return groups, nil
}

func (b *ItemGraphBuilder) sortByInsertion(ids []ItemID) []ItemID {
	slices.SortFunc(ids, func(x, y ItemID) int { return b.index[x] - b.index[y] })
	return ids
}

// ItemGraph is an immutable directed acyclic graph of items. It is shared
// read-only by every block of a command execution.
type ItemGraph struct {
	items        []Item
	index        map[ItemID]int
	dependents   map[ItemID][]ItemID
	dependencies map[ItemID][]ItemID
	groups       [][]ItemID
	order        []ItemID
}

// Len returns the number of items.
func (g *ItemGraph) Len() int { return len(g.items) }

// Items returns the item IDs in insertion order.
func (g *ItemGraph) Items() []ItemID {
	ids := make([]ItemID, len(g.items))
	for i, item := range g.items {
		ids[i] = item.ID()
	}
	return ids
}

// Item returns the item with the given ID.
func (g *ItemGraph) Item(id ItemID) (Item, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.items[i], true
}

// Contains reports whether id is part of the graph.
func (g *ItemGraph) Contains(id ItemID) bool {
	_, ok := g.index[id]
	return ok
}

// Dependencies returns the items id directly depends on.
func (g *ItemGraph) Dependencies(id ItemID) []ItemID {
	return slices.Clone(g.dependencies[id])
}

// Dependents returns the items that directly depend on id.
func (g *ItemGraph) Dependents(id ItemID) []ItemID {
	return slices.Clone(g.dependents[id])
}

// IterInDependencyOrder yields every item such that an item's dependencies
// are always yielded before it. Each call starts a fresh iteration.
func (g *ItemGraph) IterInDependencyOrder() iter.Seq[Item] {
	return func(yield func(Item) bool) {
		for _, id := range g.order {
			if !yield(g.items[g.index[id]]) {
				return
			}
		}
	}
}

// IterInReverseDependencyOrder yields dependents before their dependencies.
func (g *ItemGraph) IterInReverseDependencyOrder() iter.Seq[Item] {
	return func(yield func(Item) bool) {
		for i := len(g.order) - 1; i >= 0; i-- {
			if !yield(g.items[g.index[g.order[i]]]) {
				return
			}
		}
	}
}

// RankConcurrentGroups returns ordered groups of items. Items in a group
// share no dependency edge and may run concurrently; every item's
// dependencies are in earlier groups.
func (g *ItemGraph) RankConcurrentGroups() [][]ItemID {
	groups := make([][]ItemID, len(g.groups))
	for i, group := range g.groups {
		groups[i] = slices.Clone(group)
	}
	return groups
}

// RankConcurrentGroupsRev returns the concurrency groups last to first, so
// every item's dependents are in earlier groups.
func (g *ItemGraph) RankConcurrentGroupsRev() [][]ItemID {
	groups := g.RankConcurrentGroups()
	slices.Reverse(groups)
	return groups
}

// validateAccess rejects groups containing two items whose declared
// resource access conflicts without an ordering edge.
func (g *ItemGraph) validateAccess() error {
	for _, group := range g.groups {
		for i := 0; i < len(group); i++ {
			a, _ := g.Item(group[i])
			for j := i + 1; j < len(group); j++ {
				b, _ := g.Item(group[j])
				if a.Access().Conflicts(b.Access()) {
					return NewPermanentError(
						fmt.Sprintf("items %s and %s access the same resource and need a dependency edge", a.ID(), b.ID()),
						nil,
					).WithCode(ErrCodeValidation).WithItem(b.ID())
				}
			}
		}
	}
	return nil
}

// ToDOT generates a DOT format representation of the graph for visualization.
// The output can be rendered with Graphviz tools.
func (g *ItemGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ItemGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.groups {
		fmt.Fprintf(&sb, "  subgraph cluster_group_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Group %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			fmt.Fprintf(&sb, "    %q;\n", string(id))
		}
		sb.WriteString("  }\n\n")
	}

	for _, item := range g.items {
		for _, dep := range g.dependents[item.ID()] {
			fmt.Fprintf(&sb, "  %q -> %q;\n", string(item.ID()), string(dep))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []ItemID) string {
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}
