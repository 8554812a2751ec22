package engine

import "testing"

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{"STARTUP", ScopeStartup, false},
		{"request", ScopeRequest, false},
		{" Request ", ScopeRequest, false},
		{"session", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScope(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseScope(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseScope(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if err != nil && !IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestParseMissingStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    MissingStrategy
		wantErr bool
	}{
		{"ERROR", MissingError, false},
		{"default", MissingDefault, false},
		{"ignore", MissingIgnore, false},
		{"KEEP", MissingIgnore, false},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMissingStrategy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMissingStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMissingStrategy(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestScopeValid(t *testing.T) {
	if !ScopeStartup.Valid() || !ScopeRequest.Valid() {
		t.Error("expected builtin scopes to be valid")
	}
	if Scope("NEVER").Valid() {
		t.Error("expected unknown scope to be invalid")
	}
}
