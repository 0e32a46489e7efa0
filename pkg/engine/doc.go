// Package engine provides the execution pipeline of the reconciliation engine.
//
// # Overview
//
// Given a set of items arranged in a dependency graph, a command execution
// discovers each item's current state, computes its goal state, diffs the
// two, decides whether corrective action is required and applies it. Work
// is streamed item by item: one failing item never aborts unrelated items.
//
// # Core Types
//
//   - Item: the type-erased capability set every managed unit implements
//   - TypedItem: the typed authoring interface, wrapped with Erase
//   - ItemGraph: an immutable DAG of items with concurrency groups
//   - CmdBlock: one pipeline stage run across the whole graph
//   - CmdExecution: an ordered sequence of blocks run end to end
//   - Resources: the shared map blocks thread their values through
//   - Interrupt: the single-fire cancellation token
//   - ProgressChannel: the bounded stream of per-item progress updates
//
// # Item Graph
//
// Graphs are assembled with ItemGraphBuilder. Build fails with
// ErrCodeCycleDetected before any execution starts when the graph contains a
// cycle:
//
//	graph, err := engine.NewItemGraphBuilder().
//	    AddItems(download, extract, configure).
//	    AddEdge("download", "extract").
//	    AddEdge("extract", "configure").
//	    Build()
//
// RankConcurrentGroups returns ordered groups of items that share no edge.
// Items in one group run concurrently; a group starts only after the
// previous group finished.
//
// # Command Blocks
//
// Item-wise blocks use ExecItemWise, which runs a function for every item
// group by group. Failing items are recorded in an ItemErrors map in group
// order; items depending on a failed or skipped item are skipped and are
// not errors. Once the interrupt fires no new item starts, and the block
// outcome becomes StreamInterruptedAtStart or StreamInterruptedDuring.
//
// # Command Execution
//
//	exec, err := engine.NewCmdExecutionBuilder(discover, diff, apply).
//	    WithProgressBuffer(256).
//	    WithPresenter(presenter).
//	    Build()
//	outcome, err := exec.Exec(ctx, graph, resources, interrupt)
//
// Blocks run strictly in sequence. Execution stops after a block that was
// interrupted or reported item errors, returning the partial outcome.
// Errors that cannot be attributed to an item are returned as
// *CmdExecutionError.
//
// # Error Classification
//
// Errors are classified so that outer callers can decide on retries; the
// engine itself never retries:
//
//   - Transient: Temporary failures that may succeed on retry
//   - Throttled: Rate limiting that requires backoff
//   - Conflict: Stored and discovered states disagree
//   - Permanent: Non-recoverable errors
//
// # Thread Safety
//
// ItemGraph is read-only after Build and safe for concurrent use. Resources
// guards each entry with a read/write lock; items declare the entries they
// read and write, and items with conflicting access must be ordered by an
// edge.
package engine
