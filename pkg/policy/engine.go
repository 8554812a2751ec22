package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/openfroyo/ctxresolver/pkg/engine"
	"github.com/openfroyo/ctxresolver/pkg/telemetry"
	"github.com/openfroyo/ctxresolver/pkg/template"
	"github.com/rs/zerolog"
)

// Engine evaluates Rego policies for template paths and compute functions.
// It implements engine.AccessPolicy and is safe for concurrent use.
type Engine struct {
	mu               sync.RWMutex
	policies         map[string]*compiledPolicy
	store            storage.Store
	allowedFunctions []string
	logger           zerolog.Logger
	tel              *telemetry.Telemetry
}

var _ engine.AccessPolicy = (*Engine)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTelemetry records policy decisions and denials.
func WithTelemetry(tel *telemetry.Telemetry) EngineOption {
	return func(e *Engine) {
		e.tel = tel
	}
}

// WithAllowedFunctions seeds the function allow list.
func WithAllowedFunctions(names ...string) EngineOption {
	return func(e *Engine) {
		e.allowedFunctions = append([]string(nil), names...)
	}
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.store = newSettingsStore(e.allowedFunctions)

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// newSettingsStore builds the data document policies read from
// data.ctxresolver.settings.
func newSettingsStore(allowed []string) storage.Store {
	fns := make([]interface{}, 0, len(allowed))
	for _, name := range allowed {
		fns = append(fns, name)
	}
	return inmem.NewFromObject(map[string]interface{}{
		"ctxresolver": map[string]interface{}{
			"settings": map[string]interface{}{
				"allowed_functions": fns,
			},
		},
	})
}

// CheckPath evaluates path policies for a template path.
func (e *Engine) CheckPath(ctx context.Context, path string, scope engine.Scope) error {
	segments, err := template.SplitPath(path)
	if err != nil {
		segments = []string{path}
	}
	return e.check(ctx, Input{
		Kind:     KindPath,
		Target:   path,
		Segments: segments,
		Scope:    scope.String(),
	})
}

// CheckFunction evaluates function policies for a compute function.
func (e *Engine) CheckFunction(ctx context.Context, name string, scope engine.Scope) error {
	return e.check(ctx, Input{
		Kind:     KindFunction,
		Target:   name,
		Segments: []string{name},
		Scope:    scope.String(),
	})
}

// check converts a decision into an access error. Evaluation failures deny.
func (e *Engine) check(ctx context.Context, input Input) error {
	decision, err := e.Evaluate(ctx, input)
	if err != nil {
		if e.tel != nil {
			e.tel.Metrics.RecordPolicyDecision(input.Kind, false)
		}
		return e.denied(input, "", fmt.Sprintf("policy evaluation failed: %v", err))
	}

	for _, w := range decision.Warnings {
		e.logger.Warn().
			Str("policy", w.Policy).
			Str("kind", w.Kind).
			Str("target", w.Target).
			Str("scope", input.Scope).
			Msg(w.Message)
	}

	if e.tel != nil {
		e.tel.Metrics.RecordPolicyDecision(input.Kind, decision.Allowed)
	}
	if decision.Allowed {
		return nil
	}

	v := decision.Violations[0]
	return e.denied(input, v.Policy, v.Message)
}

func (e *Engine) denied(input Input, policyName, message string) error {
	e.logger.Warn().
		Str("kind", input.Kind).
		Str("target", input.Target).
		Str("scope", input.Scope).
		Str("policy", policyName).
		Msg("Access denied by policy")

	if e.tel != nil {
		_ = e.tel.Events.PublishPolicyDenied(input.Kind, input.Target, input.Scope, message)
	}

	err := engine.NewPolicyDeniedError(message)
	if input.Kind == KindFunction {
		err = err.WithFunction(input.Target)
	} else {
		err = err.WithPath(input.Target)
	}
	if policyName != "" {
		err = err.WithDetail("policy", policyName)
	}
	return err
}

// Evaluate evaluates every enabled policy against input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Decision, error) {
	startTime := time.Now()
	if input.Context == nil {
		input.Context = &EvalContext{Timestamp: startTime}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := &Decision{Allowed: true}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		decision.EvaluatedPolicies = append(decision.EvaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("target", input.Target).
				Msg("Policy evaluation failed")
			return nil, fmt.Errorf("policy %s: %w", cp.policy.Name, err)
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				decision.Allowed = false
				decision.Violations = append(decision.Violations, v)
			} else {
				decision.Warnings = append(decision.Warnings, v)
			}
		}
	}

	decision.Duration = time.Since(startTime)
	e.logger.Debug().
		Str("kind", input.Kind).
		Str("target", input.Target).
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Dur("duration", decision.Duration).
		Msg("Policy evaluation completed")

	return decision, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(rego string) string {
	for _, line := range strings.Split(rego, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "ctxresolver.policies"
}

// createViolation creates a Violation from a deny set member. Members may be
// plain strings or objects with message and severity.
func createViolation(policy *Policy, result interface{}, input Input) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Kind:     input.Kind,
		Target:   input.Target,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	if violation.Message == "" {
		violation.Message = fmt.Sprintf("denied by policy %s", policy.Name)
	}
	return violation
}

// compilePolicy parses a policy and prepares its deny query against store.
func compilePolicy(ctx context.Context, policy *Policy, store storage.Store) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(store),
		rego.Query(fmt.Sprintf("data.%s.deny", extractPackageName(policy.Rego))),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		cp, err := compilePolicy(ctx, &builtins[i], e.store)
		if err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		e.policies[builtins[i].Name] = cp
	}

	e.logger.Info().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// AddPolicy compiles and adds a single policy, replacing any policy of the
// same name.
func (e *Engine) AddPolicy(ctx context.Context, policy Policy) error {
	if policy.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if policy.Severity == "" {
		policy.Severity = SeverityError
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cp, err := compilePolicy(ctx, &policy, e.store)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", policy.Name, err)
	}
	e.policies[policy.Name] = cp

	e.logger.Debug().Str("policy", policy.Name).Msg("Policy compiled successfully")
	return nil
}

// LoadPolicies loads policy files and directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.AddPolicy(ctx, policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return err
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// ReloadPolicies replaces every non-builtin policy with policies. Nothing
// changes if any of them fails to compile.
func (e *Engine) ReloadPolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledPolicy, len(e.policies)+len(policies))
	for name, cp := range e.policies {
		if cp.policy.Builtin {
			next[name] = cp
		}
	}
	for i := range policies {
		p := policies[i]
		if p.Severity == "" {
			p.Severity = SeverityError
		}
		cp, err := compilePolicy(ctx, &p, e.store)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		next[p.Name] = cp
	}

	e.policies = next
	e.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	return nil
}

// SetAllowedFunctions replaces the function allow list. An empty list
// allows every function.
func (e *Engine) SetAllowedFunctions(ctx context.Context, names []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	store := newSettingsStore(names)
	next := make(map[string]*compiledPolicy, len(e.policies))
	for name, cp := range e.policies {
		recompiled, err := compilePolicy(ctx, cp.policy, store)
		if err != nil {
			return fmt.Errorf("failed to recompile policy %s: %w", name, err)
		}
		next[name] = recompiled
	}

	e.store = store
	e.policies = next
	e.allowedFunctions = append([]string(nil), names...)

	e.logger.Info().Strs("functions", names).Msg("Function allow list updated")
	return nil
}

// AllowedFunctions returns the current function allow list.
func (e *Engine) AllowedFunctions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.allowedFunctions...)
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// sortedNames returns policy names in evaluation order. Callers hold mu.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	cp.policy.UpdatedAt = time.Now()

	if enabled {
		e.logger.Info().Str("policy", name).Msg("Policy enabled")
	} else {
		e.logger.Info().Str("policy", name).Msg("Policy disabled")
	}
	return nil
}
