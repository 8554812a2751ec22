package policy

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/openfroyo/ctxresolver/pkg/engine"
	"github.com/openfroyo/ctxresolver/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, opts...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{PolicyFunctionAllowlist, PolicySensitivePaths, PolicyStartupRequest}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("policies[%d] = %s, want %s", i, policies[i].Name, name)
		}
		if !policies[i].Builtin {
			t.Errorf("%s should be marked builtin", name)
		}
	}

	p, err := eng.GetPolicy(PolicySensitivePaths)
	if err != nil {
		t.Fatal(err)
	}
	if p.Enabled {
		t.Error("sensitive-paths should be disabled by default")
	}
}

func TestCheckPath_SensitivePaths(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.CheckPath(ctx, "config.db.password", engine.ScopeRequest); err != nil {
		t.Fatalf("disabled policy should allow, got %v", err)
	}

	if err := eng.EnablePolicy(PolicySensitivePaths); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path    string
		allowed bool
	}{
		{"config.db.password", false},
		{"config.API_KEY", false},
		{"config.db.host", true},
		{"env.HOME", true},
		{"state.tokens", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := eng.CheckPath(ctx, tt.path, engine.ScopeRequest)
			if tt.allowed && err != nil {
				t.Errorf("Expected %s to be allowed, got %v", tt.path, err)
			}
			if !tt.allowed {
				if err == nil {
					t.Fatalf("Expected %s to be denied", tt.path)
				}
				if engine.CodeOf(err) != engine.CodePolicyDenied {
					t.Errorf("Expected policy denied code, got %s", engine.CodeOf(err))
				}
				var re *engine.ResolveError
				if !errors.As(err, &re) || re.Path != tt.path {
					t.Errorf("Expected error to carry path %s, got %v", tt.path, err)
				}
			}
		})
	}
}

func TestCheckPath_StartupRequestIsWarning(t *testing.T) {
	eng := newTestEngine(t)

	decision, err := eng.Evaluate(context.Background(), Input{
		Kind:     KindPath,
		Target:   "request.id",
		Segments: []string{"request", "id"},
		Scope:    "STARTUP",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed {
		t.Error("warning should not deny")
	}
	if len(decision.Warnings) != 1 || decision.Warnings[0].Policy != PolicyStartupRequest {
		t.Errorf("Expected one startup warning, got %+v", decision.Warnings)
	}

	if err := eng.CheckPath(context.Background(), "request.id", engine.ScopeStartup); err != nil {
		t.Errorf("CheckPath() should allow with a warning, got %v", err)
	}
}

func TestCheckFunction_Allowlist(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.CheckFunction(ctx, "anything", engine.ScopeRequest); err != nil {
		t.Fatalf("empty allow list should allow every function, got %v", err)
	}

	if err := eng.SetAllowedFunctions(ctx, []string{"request_id", "hostname"}); err != nil {
		t.Fatal(err)
	}

	if err := eng.CheckFunction(ctx, "hostname", engine.ScopeStartup); err != nil {
		t.Errorf("hostname should be allowed, got %v", err)
	}

	err := eng.CheckFunction(ctx, "shell", engine.ScopeRequest)
	if err == nil {
		t.Fatal("shell should be denied")
	}
	var re *engine.ResolveError
	if !errors.As(err, &re) {
		t.Fatalf("Expected ResolveError, got %T", err)
	}
	if re.Function != "shell" || re.Details["policy"] != PolicyFunctionAllowlist {
		t.Errorf("unexpected error fields: %+v", re)
	}

	if got := eng.AllowedFunctions(); len(got) != 2 {
		t.Errorf("AllowedFunctions() = %v", got)
	}

	if err := eng.SetAllowedFunctions(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := eng.CheckFunction(ctx, "shell", engine.ScopeRequest); err != nil {
		t.Errorf("cleared allow list should allow, got %v", err)
	}
}

func TestWithAllowedFunctions(t *testing.T) {
	eng := newTestEngine(t, WithAllowedFunctions("hostname"))
	if err := eng.CheckFunction(context.Background(), "request_id", engine.ScopeRequest); err == nil {
		t.Error("request_id should be denied")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.DisablePolicy(PolicyFunctionAllowlist); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	p, _ := eng.GetPolicy(PolicyFunctionAllowlist)
	if p.Enabled {
		t.Error("Policy should be disabled")
	}

	if err := eng.EnablePolicy(PolicyFunctionAllowlist); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	p, _ = eng.GetPolicy(PolicyFunctionAllowlist)
	if !p.Enabled {
		t.Error("Policy should be enabled")
	}

	if err := eng.EnablePolicy("non-existent"); err == nil {
		t.Error("Expected error for non-existent policy")
	}
}

func TestAddPolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	err := eng.AddPolicy(ctx, Policy{Name: "deny-admin", Rego: denyAdminRego, Enabled: true})
	if err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	err = eng.CheckPath(ctx, "admin.users", engine.ScopeRequest)
	if engine.CodeOf(err) != engine.CodePolicyDenied {
		t.Errorf("Expected denial from custom policy, got %v", err)
	}

	if err := eng.AddPolicy(ctx, Policy{Name: "bad", Rego: "package x\ndeny contains"}); err == nil {
		t.Error("Expected compile error")
	}
	if err := eng.AddPolicy(ctx, Policy{Rego: denyAdminRego}); err == nil {
		t.Error("Expected error for unnamed policy")
	}
}

func TestLoadAndReloadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "admin.rego"), denyAdminRego)

	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}
	if _, err := eng.GetPolicy("admin"); err != nil {
		t.Fatalf("loaded policy missing: %v", err)
	}

	if err := eng.ReloadPolicies(ctx, []Policy{{Name: "broken", Rego: "package"}}); err == nil {
		t.Fatal("Expected reload error")
	}
	if _, err := eng.GetPolicy("admin"); err != nil {
		t.Error("failed reload should keep existing policies")
	}

	if err := eng.ReloadPolicies(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.GetPolicy("admin"); err == nil {
		t.Error("reload should drop custom policies")
	}
	if len(eng.ListPolicies()) != 3 {
		t.Errorf("builtins should survive reload, got %d", len(eng.ListPolicies()))
	}
}

func TestCheckRecordsTelemetry(t *testing.T) {
	tel, err := telemetry.NewTelemetry(telemetry.TestConfig())
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	var denied []telemetry.Event
	tel.Events.Subscribe(func(ev telemetry.Event) {
		denied = append(denied, ev)
	}, telemetry.FilterByType(telemetry.EventTypePolicyDenied))

	eng := newTestEngine(t, WithTelemetry(tel), WithAllowedFunctions("hostname"))
	_ = eng.CheckFunction(context.Background(), "hostname", engine.ScopeStartup)
	_ = eng.CheckFunction(context.Background(), "shell", engine.ScopeRequest)

	expected := `
# HELP ctxresolver_policy_decisions_total Total number of access policy decisions
# TYPE ctxresolver_policy_decisions_total counter
ctxresolver_policy_decisions_total{decision="allow",kind="function"} 1
ctxresolver_policy_decisions_total{decision="deny",kind="function"} 1
`
	if err := testutil.GatherAndCompare(tel.Metrics.Registry(), strings.NewReader(expected), "ctxresolver_policy_decisions_total"); err != nil {
		t.Error(err)
	}
	if len(denied) != 1 || denied[0].Function != "shell" {
		t.Errorf("Expected one policy.denied event for shell, got %+v", denied)
	}
}

func TestConcurrentChecks(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eng.CheckPath(ctx, "config.db.host", engine.ScopeRequest); err != nil {
				t.Errorf("CheckPath() error = %v", err)
			}
		}()
	}
	wg.Wait()
}
