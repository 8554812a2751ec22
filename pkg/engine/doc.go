// Package engine defines the shared vocabulary of the context resolver:
// resolution scopes, missing-value strategies, the compute function
// signature, the Registry and AccessPolicy contracts, and the error taxonomy.
//
// # Scopes
//
// Every compute function is registered under one of two scopes:
//
//   - STARTUP: executed once, result cached until the registry cache is cleared
//   - REQUEST: executed on every resolution, never cached
//
// A resolution pass also runs under a scope. Reaching a REQUEST function while
// resolving under STARTUP is a scope violation; the opposite direction is
// allowed and serves the cached STARTUP value.
//
// # Errors
//
// All components return *ResolveError values carrying a stable ErrorCode:
//
//	val, err := res.Resolve(ctx, "{{fn:request_id}}", data, engine.ScopeStartup, 0)
//	if engine.IsScopeViolation(err) {
//	    // configuration ordering bug in the caller
//	}
//
//	if errors.Is(err, engine.ErrSecurity) {
//	    // denylisted path
//	}
//
// Security, recursion-limit and scope-violation errors are fatal (IsFatal)
// and are never downgraded by a missing-value strategy.
package engine
