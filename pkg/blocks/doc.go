// Package blocks provides the command blocks reconcile commands are built
// from.
//
// Blocks communicate through the execution's resource map. Each block
// reads the entries produced by earlier blocks and inserts its own:
//
//	StatesDiscover       -> StatesCurrentKey, StatesGoalKey
//	StatesCurrentRead    -> StatesCurrentStoredKey
//	StatesGoalRead       -> StatesGoalStoredKey
//	Diff                 -> StateDiffsKey
//	ApplyStateSyncCheck  (reads stored and discovered states)
//	ApplyPolicyCheck     -> PolicyDecisionsKey
//	ApplyExec            -> StatesPreviousKey, ApplyChecksKey and one of
//	                        StatesEnsuredKey, StatesEnsuredDryKey,
//	                        StatesCleanedKey, StatesCleanedDryKey
//
// A block that needs an entry nobody inserted fails with NOT_FOUND, which
// aborts the command execution.
package blocks
