package config

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#Config: {
	field1: string
	field2: int
}
`
	if err := sr.RegisterSchema("custom", customSchema); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("custom")
	if !ok {
		t.Fatal("expected to find custom schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	names := sr.ListSchemas()
	if len(names) != 2 || names[0] != "custom" || names[1] != SchemaServer {
		t.Errorf("ListSchemas() = %v", names)
	}
}

func TestSchemaRegistry_InvalidSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("broken", "a: {"); err == nil {
		t.Error("expected compile error")
	}
}

func TestSchemaRegistry_ValidateServer(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		tree    map[string]interface{}
		wantErr bool
	}{
		{
			name: "valid",
			tree: map[string]interface{}{
				"app":    map[string]interface{}{"name": "svc", "owner": "team"},
				"server": map[string]interface{}{"port": 8080},
				"extra":  []interface{}{1, "two"},
			},
		},
		{
			name:    "missing app name",
			tree:    map[string]interface{}{"app": map[string]interface{}{}},
			wantErr: true,
		},
		{
			name: "port out of range",
			tree: map[string]interface{}{
				"app":    map[string]interface{}{"name": "svc"},
				"server": map[string]interface{}{"port": 70000},
			},
			wantErr: true,
		},
		{
			name: "port as string",
			tree: map[string]interface{}{
				"app":    map[string]interface{}{"name": "svc"},
				"server": map[string]interface{}{"port": "8080"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.Validate(ctx, SchemaServer, tt.tree)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var verrs ValidationErrors
				if !errors.As(err, &verrs) || len(verrs) == 0 {
					t.Errorf("expected ValidationErrors, got %T", err)
				}
			}
		})
	}
}

func TestSchemaRegistry_TopLevelSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("flat", "mode: \"a\" | \"b\"\n"); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := sr.Validate(ctx, "flat", map[string]interface{}{"mode": "a"}); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
	if err := sr.Validate(ctx, "flat", map[string]interface{}{"mode": "c"}); err == nil {
		t.Error("expected disjunction failure")
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.Validate(context.Background(), "missing", map[string]interface{}{}); err == nil {
		t.Error("expected error for unknown schema")
	}
}

func TestSchemaRegistry_RegisterSchemaFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "limits.cue", "#Config: { rps: int & >0 }\n")

	sr := NewSchemaRegistry()
	if err := sr.RegisterSchemaFile("limits", path); err != nil {
		t.Fatal(err)
	}
	if err := sr.Validate(context.Background(), "limits", map[string]interface{}{"rps": 0}); err == nil {
		t.Error("expected constraint failure")
	}
	if err := sr.RegisterSchemaFile("missing", filepath.Join(t.TempDir(), "none.cue")); err == nil {
		t.Error("expected read error")
	}
}
