package policy

import "github.com/openfroyo/reconcile/pkg/engine"

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies the change.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Operation is the kind of change being gated.
type Operation string

const (
	OperationEnsure Operation = "ensure"
	OperationClean  Operation = "clean"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`
}

// Input is the document policies are evaluated against.
type Input struct {
	ItemID       engine.ItemID `json:"item_id"`
	Operation    Operation     `json:"operation"`
	DryRun       bool          `json:"dry_run"`
	StateCurrent any           `json:"state_current"`
	StateGoal    any           `json:"state_goal"`
	Diff         any           `json:"diff"`
}

// Violation represents a single denied rule.
type Violation struct {
	Policy   string        `json:"policy"`
	ItemID   engine.ItemID `json:"item_id"`
	Message  string        `json:"message"`
	Severity Severity      `json:"severity"`
}

// Decision is the combined result of every enabled policy for one input.
type Decision struct {
	// Allowed is false when any violation blocks.
	Allowed bool `json:"allowed"`

	// Violations lists every deny entry in policy name order.
	Violations []Violation `json:"violations,omitempty"`

	// Evaluated lists the policies that ran.
	Evaluated []string `json:"evaluated"`
}

// Blocking returns the violations that deny the change.
func (d *Decision) Blocking() []Violation {
	var out []Violation
	for _, v := range d.Violations {
		if v.Severity.Blocks() {
			out = append(out, v)
		}
	}
	return out
}

