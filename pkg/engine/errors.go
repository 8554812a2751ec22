package engine

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable identifier for a class of resolution failure.
type ErrorCode string

const (
	// CodeComputeNotFound indicates a {{fn:name}} reference to an unregistered function.
	CodeComputeNotFound ErrorCode = "ERR_COMPUTE_NOT_FOUND"

	// CodeComputeFailed indicates a registered function returned an error or panicked.
	// The original error is preserved as the cause.
	CodeComputeFailed ErrorCode = "ERR_COMPUTE_FAILED"

	// CodeSecurity indicates a path touched a denylisted or malformed segment.
	// Always fatal, never suppressed by a missing-value strategy.
	CodeSecurity ErrorCode = "ERR_SECURITY_PATH"

	// CodeRecursionLimit indicates nested resolution exceeded the configured depth.
	CodeRecursionLimit ErrorCode = "ERR_RECURSION_LIMIT"

	// CodeScopeViolation indicates a REQUEST function was reached under STARTUP scope.
	CodeScopeViolation ErrorCode = "ERR_SCOPE_VIOLATION"

	// CodeValidation indicates malformed expression syntax or invalid arguments.
	CodeValidation ErrorCode = "ERR_VALIDATION_ERROR"

	// CodeMissingValue indicates a path lookup found nothing, no default was
	// supplied and the missing strategy is ERROR.
	CodeMissingValue ErrorCode = "ERR_MISSING_VALUE"

	// CodeAlreadyRegistered indicates a duplicate compute function registration.
	CodeAlreadyRegistered ErrorCode = "ERR_ALREADY_REGISTERED"

	// CodePolicyDenied indicates an access policy rejected a path or function.
	CodePolicyDenied ErrorCode = "ERR_POLICY_DENIED"
)

// ResolveError is the error type returned by every resolution component.
// nolint:revive // ResolveError is intentionally named to distinguish from standard errors
type ResolveError struct {
	// Code is the stable error code for programmatic handling.
	Code ErrorCode `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Path is the template path involved, if any.
	Path string `json:"path,omitempty"`

	// Function is the compute function involved, if any.
	Function string `json:"function,omitempty"`

	// Expression is the raw placeholder text being resolved, if known.
	Expression string `json:"expression,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	switch {
	case e.Function != "" && e.Path != "":
		msg = fmt.Sprintf("%s (function=%s, path=%s)", msg, e.Function, e.Path)
	case e.Function != "":
		msg = fmt.Sprintf("%s (function=%s)", msg, e.Function)
	case e.Path != "":
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *ResolveError with the same code.
// This makes the package sentinels usable with errors.Is.
func (e *ResolveError) Is(target error) bool {
	t, ok := target.(*ResolveError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is comparisons. They match any ResolveError with the same code.
var (
	ErrComputeNotFound   = &ResolveError{Code: CodeComputeNotFound, Message: "compute function not found"}
	ErrComputeFailed     = &ResolveError{Code: CodeComputeFailed, Message: "compute function failed"}
	ErrSecurity          = &ResolveError{Code: CodeSecurity, Message: "path rejected"}
	ErrRecursionLimit    = &ResolveError{Code: CodeRecursionLimit, Message: "recursion limit exceeded"}
	ErrScopeViolation    = &ResolveError{Code: CodeScopeViolation, Message: "scope violation"}
	ErrValidation        = &ResolveError{Code: CodeValidation, Message: "validation failed"}
	ErrMissingValue      = &ResolveError{Code: CodeMissingValue, Message: "missing value"}
	ErrAlreadyRegistered = &ResolveError{Code: CodeAlreadyRegistered, Message: "function already registered"}
	ErrPolicyDenied      = &ResolveError{Code: CodePolicyDenied, Message: "denied by policy"}
)

// NewComputeNotFoundError creates an error for an unregistered compute function.
func NewComputeNotFoundError(name string) *ResolveError {
	return &ResolveError{
		Code:     CodeComputeNotFound,
		Message:  fmt.Sprintf("compute function %q is not registered", name),
		Function: name,
	}
}

// NewComputeFailedError wraps a failure raised by a compute function.
func NewComputeFailedError(name string, err error) *ResolveError {
	return &ResolveError{
		Code:     CodeComputeFailed,
		Message:  fmt.Sprintf("compute function %q failed", name),
		Function: name,
		Err:      err,
	}
}

// NewSecurityError creates an error for a rejected path.
func NewSecurityError(path, reason string) *ResolveError {
	return &ResolveError{
		Code:    CodeSecurity,
		Message: reason,
		Path:    path,
	}
}

// NewRecursionLimitError creates an error for exceeding the maximum depth.
func NewRecursionLimitError(depth, maxDepth int) *ResolveError {
	return &ResolveError{
		Code:    CodeRecursionLimit,
		Message: fmt.Sprintf("maximum recursion depth %d exceeded", maxDepth),
		Details: map[string]interface{}{
			"depth":     depth,
			"max_depth": maxDepth,
		},
	}
}

// NewScopeViolationError creates an error for calling a function outside its scope.
func NewScopeViolationError(name string, fnScope, callerScope Scope) *ResolveError {
	return &ResolveError{
		Code: CodeScopeViolation,
		Message: fmt.Sprintf("%s-scoped function %q cannot be resolved under %s scope",
			fnScope, name, callerScope),
		Function: name,
		Details: map[string]interface{}{
			"function_scope": string(fnScope),
			"caller_scope":   string(callerScope),
		},
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *ResolveError {
	return &ResolveError{
		Code:    CodeValidation,
		Message: message,
		Err:     err,
	}
}

// NewMissingValueError creates an error for an unresolved path without a default.
func NewMissingValueError(path string) *ResolveError {
	return &ResolveError{
		Code:    CodeMissingValue,
		Message: "no value found and no default supplied",
		Path:    path,
	}
}

// NewAlreadyRegisteredError creates an error for a duplicate registration.
func NewAlreadyRegisteredError(name string) *ResolveError {
	return &ResolveError{
		Code:     CodeAlreadyRegistered,
		Message:  fmt.Sprintf("compute function %q is already registered", name),
		Function: name,
	}
}

// NewPolicyDeniedError creates an error for an access policy rejection.
func NewPolicyDeniedError(message string) *ResolveError {
	return &ResolveError{
		Code:    CodePolicyDenied,
		Message: message,
	}
}

// WithPath adds path context to an error.
func (e *ResolveError) WithPath(path string) *ResolveError {
	e.Path = path
	return e
}

// WithFunction adds compute function context to an error.
func (e *ResolveError) WithFunction(name string) *ResolveError {
	e.Function = name
	return e
}

// WithExpression records the placeholder text that was being resolved.
func (e *ResolveError) WithExpression(expr string) *ResolveError {
	e.Expression = expr
	return e
}

// WithDetail adds a detail field to the error context.
func (e *ResolveError) WithDetail(key string, value interface{}) *ResolveError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the error code of the first ResolveError in err's chain,
// or the empty string.
func CodeOf(err error) ErrorCode {
	var e *ResolveError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func hasCode(err error, codes ...ErrorCode) bool {
	code := CodeOf(err)
	if code == "" {
		return false
	}
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

// IsComputeNotFound returns true if the error is a missing compute function.
func IsComputeNotFound(err error) bool {
	return hasCode(err, CodeComputeNotFound)
}

// IsComputeFailed returns true if a compute function failed.
func IsComputeFailed(err error) bool {
	return hasCode(err, CodeComputeFailed)
}

// IsSecurity returns true for rejected paths, including policy denials.
func IsSecurity(err error) bool {
	return hasCode(err, CodeSecurity, CodePolicyDenied)
}

// IsRecursionLimit returns true if the depth bound was exceeded.
func IsRecursionLimit(err error) bool {
	return hasCode(err, CodeRecursionLimit)
}

// IsScopeViolation returns true if a REQUEST function was reached under STARTUP scope.
func IsScopeViolation(err error) bool {
	return hasCode(err, CodeScopeViolation)
}

// IsValidation returns true for syntax errors, missing values and duplicate registrations.
func IsValidation(err error) bool {
	return hasCode(err, CodeValidation, CodeMissingValue, CodeAlreadyRegistered)
}

// IsFatal returns true for errors that must abort a whole resolution pass
// regardless of how the caller handles individual leaves.
func IsFatal(err error) bool {
	return IsSecurity(err) || IsRecursionLimit(err) || IsScopeViolation(err)
}
