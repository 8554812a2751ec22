package policy

import (
	"time"
)

// Builtin policy names.
const (
	PolicySensitivePaths    = "sensitive-paths"
	PolicyStartupRequest    = "startup-request-data"
	PolicyFunctionAllowlist = "function-allowlist"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		sensitivePathsPolicy(),
		startupRequestDataPolicy(),
		functionAllowlistPolicy(),
	}
}

// sensitivePathsPolicy blocks paths that name credential-like keys. It is
// disabled by default because many deployments resolve secrets on purpose.
func sensitivePathsPolicy() Policy {
	return Policy{
		Name:        PolicySensitivePaths,
		Description: "Blocks template paths that reference password, secret or token keys",
		Severity:    SeverityError,
		Enabled:     false,
		Builtin:     true,
		Tags:        []string{"secrets", "paths"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ctxresolver.policies.sensitive

import rego.v1

sensitive := {"password", "passwd", "secret", "token", "private_key", "api_key", "credentials"}

deny contains violation if {
	input.kind == "path"
	some seg in input.segments
	lower(seg) in sensitive
	violation := {
		"message": sprintf("path %s references sensitive key '%s'", [input.target, seg]),
		"severity": "error",
	}
}
`,
	}
}

// startupRequestDataPolicy warns when a STARTUP pass reads request data,
// which is never present at startup.
func startupRequestDataPolicy() Policy {
	return Policy{
		Name:        PolicyStartupRequest,
		Description: "Warns when request data is read during a STARTUP resolution",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"scope"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ctxresolver.policies.startup

import rego.v1

deny contains violation if {
	input.kind == "path"
	input.scope == "STARTUP"
	input.segments[0] == "request"
	violation := {
		"message": sprintf("path %s reads request data during startup", [input.target]),
		"severity": "warning",
	}
}
`,
	}
}

// functionAllowlistPolicy restricts compute functions to the list set with
// Engine.SetAllowedFunctions. An empty list allows every function.
func functionAllowlistPolicy() Policy {
	return Policy{
		Name:        PolicyFunctionAllowlist,
		Description: "Restricts compute functions to a configured allow list",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"functions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ctxresolver.policies.functions

import rego.v1

allowed := data.ctxresolver.settings.allowed_functions

deny contains violation if {
	input.kind == "function"
	count(allowed) > 0
	not input.target in allowed
	violation := {
		"message": sprintf("function %s is not in the allowed function list", [input.target]),
		"severity": "error",
	}
}
`,
	}
}
