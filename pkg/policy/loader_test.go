package policy

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const denyAdminRego = `package test.admin

import rego.v1

# Blocks the admin subtree

deny contains msg if {
	input.kind == "path"
	input.segments[0] == "admin"
	msg := "admin paths are blocked"
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestLoadFile(t *testing.T) {
	loader := newTestLoader()

	policyFile := filepath.Join(t.TempDir(), "deny-admin.rego")
	writeFile(t, policyFile, denyAdminRego)

	policy, err := loader.LoadFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "deny-admin" {
		t.Errorf("Expected name 'deny-admin', got '%s'", policy.Name)
	}
	if policy.Rego != denyAdminRego {
		t.Error("Rego content doesn't match")
	}
	if policy.Description != "Blocks the admin subtree" {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected default severity error, got %s", policy.Severity)
	}
	if policy.Metadata["source"] != policyFile {
		t.Errorf("Expected source metadata, got %v", policy.Metadata["source"])
	}
	if policy.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should come from the file")
	}
}

func TestLoadFileRejectsOtherExtensions(t *testing.T) {
	loader := newTestLoader()

	for _, name := range []string{"admin.json", "notes.txt"} {
		path := filepath.Join(t.TempDir(), name)
		writeFile(t, path, "{}")
		if _, err := loader.LoadFile(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
		if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err == nil {
			t.Errorf("%s: expected error from LoadFromPaths", name)
		}
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		want    header
		wantErr bool
	}{
		{
			name: "defaults",
			src:  "package test\n",
			want: header{severity: SeverityError, enabled: true, tags: []string{}},
		},
		{
			name: "description and fields",
			src: `# Keeps admin settings out of templates
# in every scope.
# severity: Warning
# tags: paths, admin,
# enabled: false
package test

# not part of the header
`,
			want: header{
				description: "Keeps admin settings out of templates in every scope.",
				severity:    SeverityWarning,
				enabled:     false,
				tags:        []string{"paths", "admin"},
			},
		},
		{
			name: "header after package",
			src:  "package test\n\nimport rego.v1\n\n# Note: reads request headers\n\ndeny contains 1 if false\n",
			want: header{description: "Note: reads request headers", severity: SeverityError, enabled: true, tags: []string{}},
		},
		{
			name:    "unknown severity",
			src:     "# severity: fatal\npackage test\n",
			wantErr: true,
		},
		{
			name:    "bad enabled",
			src:     "# enabled: sometimes\npackage test\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseHeader(tt.src)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseHeader() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseHeader() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadFromPathsDirectory(t *testing.T) {
	loader := newTestLoader()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.rego"), denyAdminRego)
	writeFile(t, filepath.Join(dir, "nested", "a.rego"), denyAdminRego)
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	var names []string
	for _, p := range policies {
		names = append(names, p.Name)
	}
	if want := []string{"b", "nested.a"}; !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestLoadFromPathsDuplicateName(t *testing.T) {
	loader := newTestLoader()

	one, two := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(one, "admin.rego"), denyAdminRego)
	writeFile(t, filepath.Join(two, "admin.rego"), denyAdminRego)

	_, err := loader.LoadFromPaths(context.Background(), []string{one, two})
	if err == nil || !strings.Contains(err.Error(), `"admin"`) {
		t.Errorf("expected duplicate name error, got %v", err)
	}
}

func TestLoadFromPathsNonExistent(t *testing.T) {
	loader := newTestLoader()

	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/path"}); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestLoadFileCache(t *testing.T) {
	loader := newTestLoader()

	policyFile := filepath.Join(t.TempDir(), "test.rego")
	writeFile(t, policyFile, denyAdminRego)

	first, err := loader.LoadFile(policyFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(loader.cache) != 1 {
		t.Errorf("Expected 1 cache entry, got %d", len(loader.cache))
	}

	// Cached policies are copies.
	first.Tags = append(first.Tags, "mutated")
	again, err := loader.LoadFile(policyFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Tags) != 0 {
		t.Errorf("cached policy was mutated: %v", again.Tags)
	}

	// A changed file is read again.
	writeFile(t, policyFile, "# severity: warning\n"+denyAdminRego+"\n")
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(policyFile, later, later); err != nil {
		t.Fatal(err)
	}
	changed, err := loader.LoadFile(policyFile)
	if err != nil {
		t.Fatal(err)
	}
	if changed.Severity != SeverityWarning {
		t.Errorf("expected re-read policy, got severity %s", changed.Severity)
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", len(loader.cache))
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	loader := newTestLoader()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), denyAdminRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan int, 4)
	err := loader.Watch(ctx, []string{dir}, func(_ context.Context, policies []Policy) error {
		reloaded <- len(policies)
		return nil
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer func() { _ = loader.StopWatching() }()

	writeFile(t, filepath.Join(dir, "b.rego"), denyAdminRego)

	select {
	case n := <-reloaded:
		if n != 2 {
			t.Errorf("Expected 2 policies after reload, got %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload was not triggered")
	}

	if err := loader.StopWatching(); err != nil {
		t.Errorf("StopWatching() error = %v", err)
	}
	if err := loader.StopWatching(); err != nil {
		t.Errorf("second StopWatching() error = %v", err)
	}
}
