package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestResolveError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ResolveError
		want string
	}{
		{
			name: "message only",
			err:  NewValidationError("empty placeholder", nil),
			want: "[ERR_VALIDATION_ERROR] empty placeholder",
		},
		{
			name: "with path",
			err:  NewSecurityError("__proto__.x", "denylisted segment"),
			want: "[ERR_SECURITY_PATH] denylisted segment (path=__proto__.x)",
		},
		{
			name: "with function and cause",
			err:  NewComputeFailedError("db_url", fmt.Errorf("connection refused")),
			want: `[ERR_COMPUTE_FAILED] compute function "db_url" failed (function=db_url): connection refused`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("resolving app.name: %w", NewComputeFailedError("boom", cause))

	if !errors.Is(err, ErrComputeFailed) {
		t.Error("expected errors.Is to match ErrComputeFailed sentinel")
	}
	if errors.Is(err, ErrComputeNotFound) {
		t.Error("did not expect errors.Is to match ErrComputeNotFound")
	}
	if !errors.Is(err, cause) {
		t.Error("expected the original cause to be preserved")
	}
	if CodeOf(err) != CodeComputeFailed {
		t.Errorf("CodeOf() = %q, want %q", CodeOf(err), CodeComputeFailed)
	}
	if CodeOf(cause) != "" {
		t.Errorf("CodeOf(plain error) = %q, want empty", CodeOf(cause))
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		security bool
		valid    bool
		fatal    bool
	}{
		{"security", NewSecurityError("a..b", "empty segment"), true, false, true},
		{"policy denied", NewPolicyDeniedError("no secrets"), true, false, true},
		{"recursion", NewRecursionLimitError(11, 10), false, false, true},
		{"scope", NewScopeViolationError("request_id", ScopeRequest, ScopeStartup), false, false, true},
		{"missing", NewMissingValueError("env.HOST"), false, true, false},
		{"duplicate", NewAlreadyRegisteredError("x"), false, true, false},
		{"validation", NewValidationError("bad", nil), false, true, false},
		{"not found", NewComputeNotFoundError("x"), false, false, false},
		{"plain", errors.New("plain"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSecurity(tt.err); got != tt.security {
				t.Errorf("IsSecurity() = %v, want %v", got, tt.security)
			}
			if got := IsValidation(tt.err); got != tt.valid {
				t.Errorf("IsValidation() = %v, want %v", got, tt.valid)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestScopeViolationDetails(t *testing.T) {
	err := NewScopeViolationError("request_id", ScopeRequest, ScopeStartup)

	if err.Details["function_scope"] != "REQUEST" || err.Details["caller_scope"] != "STARTUP" {
		t.Errorf("unexpected details: %v", err.Details)
	}
	if !strings.Contains(err.Error(), "request_id") {
		t.Errorf("expected function name in message, got %q", err.Error())
	}
}

func TestWithDetail(t *testing.T) {
	err := NewValidationError("bad", nil).WithDetail("expression", "{{}}").WithPath("a.b")

	if err.Details["expression"] != "{{}}" {
		t.Errorf("expected detail to be recorded, got %v", err.Details)
	}
	if err.Path != "a.b" {
		t.Errorf("Path = %q, want a.b", err.Path)
	}
}
