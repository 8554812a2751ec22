// Package compute implements the scoped compute function registry.
//
// A compute function is referenced from configuration as {{fn:name}} and
// produces a value from the resolution context. Every registration carries
// a scope:
//
//   - STARTUP functions run at most once; the first successful result is
//     cached until ClearCache, Unregister or Clear.
//   - REQUEST functions run on every resolution and are never cached.
//
// Failures and panics are reported as ERR_COMPUTE_FAILED with the original
// error preserved for errors.Is and errors.As. Failed results are not
// cached, so a later call retries.
//
// Functions can be written in Go, taken from the builtin set
// (RegisterBuiltins), or loaded from a Starlark script:
//
//	sf, err := compute.NewStarlarkFunctions("functions.star", src, 0)
//	if err != nil {
//	    return err
//	}
//	err = sf.Register(reg, map[string]engine.Scope{"trace_header": engine.ScopeRequest})
package compute
