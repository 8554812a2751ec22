package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not deny access.
	SeverityWarning Severity = "warning"

	// SeverityError denies access.
	SeverityError Severity = "error"

	// SeverityCritical denies access.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies access.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Input kinds.
const (
	KindPath     = "path"
	KindFunction = "function"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	Description string `json:"description"`

	// Rego contains the Rego policy code. The policy contributes to the
	// decision through a "deny" set in its package.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set one.
	Severity Severity `json:"severity"`

	Enabled bool `json:"enabled"`

	// Builtin is set for policies shipped with the engine.
	Builtin bool `json:"builtin"`

	Tags []string `json:"tags,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input is the document a policy sees as "input".
//
//	{"kind": "path", "target": "config.db.password",
//	 "segments": ["config", "db", "password"], "scope": "REQUEST"}
type Input struct {
	// Kind is "path" or "function".
	Kind string `json:"kind"`

	// Target is the template path or function name.
	Target string `json:"target"`

	// Segments is the split path; a single element for functions.
	Segments []string `json:"segments"`

	// Scope is the resolution scope.
	Scope string `json:"scope"`

	Context *EvalContext `json:"context,omitempty"`
}

// EvalContext provides context information for policy evaluation.
type EvalContext struct {
	Timestamp time.Time `json:"timestamp"`

	// Environment is the deployment environment, when known.
	Environment string `json:"environment,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Violation represents a single deny result.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	Kind   string `json:"kind"`
	Target string `json:"target"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Decision is the result of evaluating every enabled policy for one input.
type Decision struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations are blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}
