package engine

import "fmt"

// ProgressLimitKind is the unit a progress limit is measured in.
type ProgressLimitKind string

const (
	// ProgressLimitUnknown means the amount of work cannot be estimated.
	ProgressLimitUnknown ProgressLimitKind = "unknown"

	// ProgressLimitSteps counts discrete steps.
	ProgressLimitSteps ProgressLimitKind = "steps"

	// ProgressLimitBytes counts bytes transferred or written.
	ProgressLimitBytes ProgressLimitKind = "bytes"
)

// ProgressLimit sizes a progress bar. It carries no control-flow meaning.
type ProgressLimit struct {
	Kind  ProgressLimitKind `json:"kind" yaml:"kind"`
	Total uint64            `json:"total,omitempty" yaml:"total,omitempty"`
}

// LimitUnknown returns a limit for work of unknown size.
func LimitUnknown() ProgressLimit { return ProgressLimit{Kind: ProgressLimitUnknown} }

// LimitSteps returns a limit of n steps.
func LimitSteps(n uint64) ProgressLimit { return ProgressLimit{Kind: ProgressLimitSteps, Total: n} }

// LimitBytes returns a limit of n bytes.
func LimitBytes(n uint64) ProgressLimit { return ProgressLimit{Kind: ProgressLimitBytes, Total: n} }

// String implements fmt.Stringer.
func (l ProgressLimit) String() string {
	switch l.Kind {
	case ProgressLimitSteps, ProgressLimitBytes:
		return fmt.Sprintf("%d %s", l.Total, l.Kind)
	default:
		return string(ProgressLimitUnknown)
	}
}

// ApplyCheck is the decision of whether an item needs corrective action.
type ApplyCheck struct {
	// Required is true when apply logic must run.
	Required bool `json:"required"`

	// ProgressLimit estimates the work apply will do. Only meaningful when
	// Required is true.
	ProgressLimit ProgressLimit `json:"progress_limit,omitempty"`
}

// ExecRequired returns a check that requires execution with the given limit.
func ExecRequired(limit ProgressLimit) ApplyCheck {
	return ApplyCheck{Required: true, ProgressLimit: limit}
}

// ExecNotRequired returns a check that requires no execution.
func ExecNotRequired() ApplyCheck {
	return ApplyCheck{}
}

// String implements fmt.Stringer.
func (c ApplyCheck) String() string {
	if c.Required {
		return fmt.Sprintf("execution required (%s)", c.ProgressLimit)
	}
	return "execution not required"
}
