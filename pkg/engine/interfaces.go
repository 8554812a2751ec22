package engine

import (
	"context"
)

// ComputeFunc produces a value from the resolution context.
// Blocking work is awaited by the caller; ctx carries cancellation.
type ComputeFunc func(ctx context.Context, data map[string]interface{}) (interface{}, error)

// Registry is a scoped name to function table.
// Implementations must be safe for concurrent use.
type Registry interface {
	// Register adds a function under name. Duplicate names are an error.
	Register(name string, fn ComputeFunc, scope Scope) error

	// Unregister removes a function and its cached result. Absent names are ignored.
	Unregister(name string)

	// Has reports whether name is registered.
	Has(name string) bool

	// List returns registered names in sorted order.
	List() []string

	// Scope returns the scope of a registered function.
	Scope(name string) (Scope, bool)

	// Resolve invokes the named function, serving STARTUP results from cache.
	Resolve(ctx context.Context, name string, data map[string]interface{}) (interface{}, error)

	// ClearCache drops cached STARTUP results, keeping registrations.
	ClearCache()

	// Clear drops all registrations and cached results.
	Clear()
}

// AccessPolicy decides whether a template path or compute function may be
// used in a given scope. A non-nil error denies access.
type AccessPolicy interface {
	CheckPath(ctx context.Context, path string, scope Scope) error
	CheckFunction(ctx context.Context, name string, scope Scope) error
}
