package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/openfroyo/ctxresolver/pkg/engine"
)

var pathCharPattern = regexp.MustCompile(`^[A-Za-z0-9_.\[\]'"-]+$`)

// deniedSegments are rejected wherever they appear in a path.
var deniedSegments = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
	"__class__":   {},
	"__dict__":    {},
}

// ValidatePath rejects paths that must never reach a lookup. It checks, in
// order: the path is non-empty, uses only letters, digits, '_', '-', '.',
// brackets and quotes, has no empty segment, and has no denylisted or
// underscore-prefixed segment.
//
// Every failure is a security error.
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return engine.NewSecurityError(path, "path cannot be empty")
	}

	if !pathCharPattern.MatchString(path) {
		return engine.NewSecurityError(path, "path contains disallowed characters")
	}

	segments, err := SplitPath(path)
	if err != nil {
		return engine.NewSecurityError(path, fmt.Sprintf("malformed path: %v", err))
	}

	for _, seg := range segments {
		if _, denied := deniedSegments[seg]; denied {
			return engine.NewSecurityError(path, fmt.Sprintf("path contains blocked segment %q", seg)).
				WithDetail("segment", seg)
		}
		if strings.HasPrefix(seg, "_") {
			return engine.NewSecurityError(path, fmt.Sprintf("path segment %q starts with underscore", seg)).
				WithDetail("segment", seg)
		}
	}

	return nil
}

// ValidateFunctionName checks a compute function identifier.
func ValidateFunctionName(name string) error {
	if name == "" {
		return engine.NewValidationError("function name cannot be empty", nil)
	}
	if !identifierPattern.MatchString(name) {
		return engine.NewValidationError(fmt.Sprintf("invalid function name %q", name), nil).WithFunction(name)
	}
	return nil
}
