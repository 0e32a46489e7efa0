// Package workspace lays out where a flow's states are persisted and
// assembles the command context blocks run against.
//
// States live below <dir>/.reconcile/<profile>/<flow>/:
//
//	states_current.yaml   current states, written after discover and apply
//	states_goal.yaml      goal states, written after discover
//	.history/             execution history database
//
// State files are YAML mappings from item ID to that item's state, written
// in graph order. Unknown item IDs are ignored on read and a missing entry
// means the item has not been discovered yet.
package workspace
