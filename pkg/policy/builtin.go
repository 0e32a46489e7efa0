package policy

import "strings"

const builtinPrefix = "builtin."

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedItemsPolicy(),
	}
}

func isBuiltin(name string) bool {
	return strings.HasPrefix(name, builtinPrefix)
}

// protectedItemsPolicy denies cleaning any item listed in
// data.reconcile.protected_items. Dry runs are reported as warnings.
func protectedItemsPolicy() Policy {
	return Policy{
		Name:        builtinPrefix + "protected-items",
		Description: "Protected items must not be cleaned",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package reconcile.builtin.protected_items

import rego.v1

protected if {
	some id in data.reconcile.protected_items
	id == input.item_id
}

deny contains msg if {
	input.operation == "clean"
	not input.dry_run
	protected
	msg := sprintf("item %s is protected and cannot be cleaned", [input.item_id])
}

deny contains {"message": msg, "severity": "warning"} if {
	input.operation == "clean"
	input.dry_run
	protected
	msg := sprintf("item %s is protected and would not be cleaned", [input.item_id])
}
`,
	}
}
