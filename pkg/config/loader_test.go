package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func nopLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestLoaderMergesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yml", `
app:
  name: svc
  version: "1.0"
server:
  port: 8080
  hosts: [a, b]
headers:
  Authorization: null
`)
	writeConfig(t, dir, "server.prod.yaml", `
server:
  port: 9090
  hosts: [c]
`)
	writeConfig(t, dir, "extra.json", `{"headers": {"Authorization": "{{env.TOKEN}}"}}`)
	writeConfig(t, dir, "limits.cue", `
limits: {
	rps:   100
	burst: rps * 2
}
`)

	loader, err := NewLoader(LoaderOptions{
		Dir:   dir,
		Files: []string{"base.yml", "server.prod.yaml", "extra.json", "limits.cue"},
	}, nopLogger())
	if err != nil {
		t.Fatal(err)
	}

	got, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := map[string]interface{}{
		"app":     map[string]interface{}{"name": "svc", "version": "1.0"},
		"server":  map[string]interface{}{"port": 9090, "hosts": []interface{}{"c"}},
		"headers": map[string]interface{}{"Authorization": "{{env.TOKEN}}"},
		"limits":  map[string]interface{}{"rps": 100, "burst": 200},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoaderDefaultFiles(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yml", "app:\n  name: svc\n")

	loader, err := NewLoader(LoaderOptions{Dir: dir, Env: "Staging"}, nopLogger())
	if err != nil {
		t.Fatal(err)
	}

	files := loader.Files()
	wantFiles := []string{filepath.Join(dir, "base.yml"), filepath.Join(dir, "server.staging.yaml")}
	if diff := cmp.Diff(wantFiles, files); diff != "" {
		t.Errorf("Files() mismatch (-want +got):\n%s", diff)
	}

	got, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("missing overlay should be skipped, got %v", err)
	}
	if got["app"].(map[string]interface{})["name"] != "svc" {
		t.Errorf("unexpected tree: %v", got)
	}
}

func TestLoaderMissingRequiredFile(t *testing.T) {
	loader, err := NewLoader(LoaderOptions{Dir: t.TempDir()}, nopLogger())
	if err != nil {
		t.Fatal(err)
	}
	_, err = loader.Load(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error for base.yml, got %v", err)
	}
}

func TestLoaderOptionsValidation(t *testing.T) {
	tests := []struct {
		name string
		opts LoaderOptions
	}{
		{"nothing to load", LoaderOptions{}},
		{"bad env", LoaderOptions{Dir: "x", Env: "../etc"}},
		{"empty file entry", LoaderOptions{Files: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader(tt.opts, nopLogger()); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported extension", "conf.toml", "a = 1"},
		{"invalid yaml", "bad.yaml", "a: [1, 2"},
		{"list at top level", "list.yaml", "- a\n- b\n"},
		{"invalid cue", "bad.cue", "a: int & \"x\""},
		{"incomplete cue", "open.cue", "a: int"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, dir, tt.file, tt.content)
			if _, err := LoadFile(path); err == nil {
				t.Errorf("LoadFile(%s) expected error", tt.file)
			}
		})
	}
}

func TestLoadFileCUEErrorsHavePositions(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "bad.cue", "a: 1\na: 2\n")

	_, err := LoadFile(path)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
	}
	if verrs[0].File == "" || verrs[0].Line == 0 {
		t.Errorf("expected file position, got %+v", verrs[0])
	}
}

func TestLoadFileEmpty(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "empty.yaml", "")
	got, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty tree, got %v", got)
	}
}

func TestNormalize(t *testing.T) {
	in := map[string]interface{}{
		"a": map[interface{}]interface{}{1: "one", "b": int64(2)},
		"l": []interface{}{uint64(3), 1.5},
	}
	want := map[string]interface{}{
		"a": map[string]interface{}{"1": "one", "b": 2},
		"l": []interface{}{3, 1.5},
	}
	if diff := cmp.Diff(want, normalize(in)); diff != "" {
		t.Errorf("normalize() mismatch (-want +got):\n%s", diff)
	}
}
