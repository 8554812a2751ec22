package template

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path    string
		want    []string
		wantErr bool
	}{
		{path: "env", want: []string{"env"}},
		{path: "env.API_NAME", want: []string{"env", "API_NAME"}},
		{path: "servers[0].host", want: []string{"servers", "0", "host"}},
		{path: "matrix[1][2]", want: []string{"matrix", "1", "2"}},
		{path: "headers['x-request-id']", want: []string{"headers", "x-request-id"}},
		{path: `headers["a.b"]`, want: []string{"headers", "a.b"}},
		{path: "", wantErr: true},
		{path: ".env", wantErr: true},
		{path: "env.", wantErr: true},
		{path: "a..b", wantErr: true},
		{path: "a.[0]", wantErr: true},
		{path: "a[0", wantErr: true},
		{path: "a]0", wantErr: true},
		{path: "a[]", wantErr: true},
		{path: "a['']", wantErr: true},
		{path: "a[0]b", wantErr: true},
		{path: "a'b", wantErr: true},
		{path: `a['b"]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := SplitPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SplitPath(%q) mismatch (-want +got):\n%s", tt.path, diff)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	data := map[string]interface{}{
		"env": map[string]string{
			"APP_NAME": "Prod",
		},
		"config": map[string]interface{}{
			"count":    42,
			"nothing":  nil,
			"servers":  []interface{}{map[string]interface{}{"host": "a"}, map[string]interface{}{"host": "b"}},
			"tags":     []string{"x", "y"},
			"enabled":  true,
			"database": map[string]interface{}{"port": 5432},
		},
	}

	tests := []struct {
		path      string
		want      interface{}
		wantFound bool
	}{
		{"env.APP_NAME", "Prod", true},
		{"config.count", 42, true},
		{"config.nothing", nil, true},
		{"config.servers[1].host", "b", true},
		{"config.servers.0.host", "a", true},
		{"config.tags[1]", "y", true},
		{"config['database'].port", 5432, true},
		{"config.enabled", true, true},
		{"env.MISSING", nil, false},
		{"config.servers[5].host", nil, false},
		{"config.servers[-1]", nil, false},
		{"config.servers.first", nil, false},
		{"config.count.value", nil, false},
		{"config.nothing.value", nil, false},
		{"a..b", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, found := Lookup(data, tt.path)
			if found != tt.wantFound {
				t.Fatalf("Lookup(%q) found = %v, want %v", tt.path, found, tt.wantFound)
			}
			if got != tt.want {
				t.Errorf("Lookup(%q) = %#v, want %#v", tt.path, got, tt.want)
			}
		})
	}
}

func TestLookup_NonMapRoot(t *testing.T) {
	if _, found := Lookup("scalar", "a"); found {
		t.Error("expected lookup into a scalar to miss")
	}
	if _, found := Lookup(nil, "a"); found {
		t.Error("expected lookup into nil to miss")
	}
}
