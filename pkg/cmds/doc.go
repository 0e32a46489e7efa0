// Package cmds assembles blocks into the reconcile commands.
//
//	Discover   discover current and goal states, store both
//	Diff       discover both, diff them
//	Ensure     read stored states, rediscover, check they are in sync,
//	           diff, check policies, apply, store the ensured states
//	EnsureDry  as Ensure but with dry-run apply and nothing stored
//	Clean      read stored current states, rediscover, check sync,
//	           check policies, clean in reverse order, store the result
//	CleanDry   as Clean but with dry-run clean and nothing stored
//	Status     diff the stored states without touching anything live
//
// Ensure and Clean store their resulting states even when some items fail,
// so the next run starts from what actually happened. Every command records
// an entry in the flow's execution history when a History is configured.
package cmds
