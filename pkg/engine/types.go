package engine

import (
	"fmt"
	"strings"
)

// Scope is the lifetime class of a compute function, and the phase a
// resolution pass runs in.
type Scope string

const (
	// ScopeStartup is resolved once; results are cached for the life of the registry.
	ScopeStartup Scope = "STARTUP"

	// ScopeRequest is resolved on every invocation and never cached.
	ScopeRequest Scope = "REQUEST"
)

// String returns the scope name.
func (s Scope) String() string {
	return string(s)
}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeStartup || s == ScopeRequest
}

// ParseScope parses a scope name case-insensitively.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToUpper(strings.TrimSpace(s))) {
	case ScopeStartup:
		return ScopeStartup, nil
	case ScopeRequest:
		return ScopeRequest, nil
	default:
		return "", NewValidationError(fmt.Sprintf("unknown scope %q", s), nil)
	}
}

// MissingStrategy controls what happens when a template path resolves to
// nothing and the placeholder carries no default literal.
type MissingStrategy string

const (
	// MissingError fails the resolution with a missing-value error.
	MissingError MissingStrategy = "ERROR"

	// MissingDefault substitutes nil.
	MissingDefault MissingStrategy = "DEFAULT"

	// MissingIgnore keeps the original placeholder text.
	MissingIgnore MissingStrategy = "IGNORE"
)

// String returns the strategy name.
func (m MissingStrategy) String() string {
	return string(m)
}

// ParseMissingStrategy parses a strategy name case-insensitively.
// KEEP is accepted as an alias of IGNORE.
func ParseMissingStrategy(s string) (MissingStrategy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return MissingError, nil
	case "DEFAULT":
		return MissingDefault, nil
	case "IGNORE", "KEEP":
		return MissingIgnore, nil
	default:
		return "", NewValidationError(fmt.Sprintf("unknown missing strategy %q", s), nil)
	}
}

// FunctionInfo describes a registered compute function.
type FunctionInfo struct {
	Name   string `json:"name" yaml:"name"`
	Scope  Scope  `json:"scope" yaml:"scope"`
	Cached bool   `json:"cached" yaml:"cached"`
}
