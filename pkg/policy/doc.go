// Package policy gates apply operations with Rego policies evaluated by the
// Open Policy Agent.
//
// Before an item is ensured or cleaned, each enabled policy is evaluated
// with the item's planned change as input:
//
//	{
//	  "item_id":       "web",
//	  "operation":     "ensure",          // or "clean"
//	  "dry_run":       false,
//	  "state_current": {...},
//	  "state_goal":    {...},             // the clean state for "clean"
//	  "diff":          {...}
//	}
//
// Policies deny a change by adding to their package's deny set. An entry is
// either a message string or an object with message and severity keys:
//
//	package reconcile.policies.no_prod_clean
//
//	import rego.v1
//
//	deny contains msg if {
//		input.operation == "clean"
//		startswith(input.item_id, "prod_")
//		msg := sprintf("%s must not be cleaned", [input.item_id])
//	}
//
// Violations with error or critical severity block the change; warnings
// are reported only. Data documents are available under data.reconcile,
// for example data.reconcile.protected_items used by the built-in
// protected-items policy.
package policy
