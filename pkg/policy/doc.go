// Package policy provides Open Policy Agent (OPA) access control for
// template paths and compute functions.
//
// An Engine compiles Rego policies and implements engine.AccessPolicy, so it
// can be handed straight to a resolver:
//
//	pe, err := policy.NewEngine(logger, policy.WithAllowedFunctions("request_id", "hostname"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	r := resolver.New(reg, resolver.WithAccessPolicy(pe))
//
// # Writing Policies
//
// Every policy contributes to a "deny" set in its own package. The input
// document describes one access:
//
//	{
//	  "kind": "path",             // or "function"
//	  "target": "config.db.password",
//	  "segments": ["config", "db", "password"],
//	  "scope": "REQUEST"
//	}
//
// Deny members are either a message string or an object with message and
// severity. Severities error and critical deny access; warning and info are
// logged and the access proceeds.
//
//	package mycompany.paths
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.kind == "path"
//	    input.segments[0] == "internal"
//	    msg := "internal data is not exposed to templates"
//	}
//
// Policies can read data.ctxresolver.settings.allowed_functions, the list set
// with Engine.SetAllowedFunctions.
//
// # Built-in Policies
//
//   - sensitive-paths: denies credential-like path segments (disabled by default)
//   - startup-request-data: warns when a STARTUP pass reads request data
//   - function-allowlist: denies functions missing from a non-empty allow list
//
// # Loading and Hot Reload
//
// Loader reads .rego files from files or directory trees. A file's leading
// comment block describes the policy and may set its severity, tags and
// enabled flag with "key: value" lines. Loader.Watch reloads the files
// through Engine.ReloadPolicies when they change.
// A policy that fails to evaluate denies the access.
package policy
