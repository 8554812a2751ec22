package template

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openfroyo/ctxresolver/pkg/engine"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Expression
		wantErr bool
	}{
		{
			name:  "plain string",
			input: "hello",
			want:  Expression{Kind: KindLiteral, Raw: "hello"},
		},
		{
			name:  "embedded placeholder is not a whole match",
			input: "http://{{env.HOST}}",
			want:  Expression{Kind: KindLiteral, Raw: "http://{{env.HOST}}"},
		},
		{
			name:  "compute pattern",
			input: "{{fn:build_connection_string}}",
			want:  Expression{Kind: KindCompute, Raw: "{{fn:build_connection_string}}", Function: "build_connection_string"},
		},
		{
			name:  "compute pattern with inner whitespace",
			input: "{{ fn:request_id }}",
			want:  Expression{Kind: KindCompute, Raw: "{{ fn:request_id }}", Function: "request_id"},
		},
		{
			name:  "compute pattern with default",
			input: "{{fn:lookup | 'none'}}",
			want: Expression{
				Kind:     KindCompute,
				Raw:      "{{fn:lookup | 'none'}}",
				Function: "lookup",
				Default:  &Literal{Raw: "'none'", Value: "none"},
			},
		},
		{
			name:  "template pattern",
			input: "{{env.API_NAME}}",
			want:  Expression{Kind: KindTemplate, Raw: "{{env.API_NAME}}", Path: "env.API_NAME"},
		},
		{
			name:  "template with quoted default",
			input: "{{env.API_NAME | 'default'}}",
			want: Expression{
				Kind:    KindTemplate,
				Raw:     "{{env.API_NAME | 'default'}}",
				Path:    "env.API_NAME",
				Default: &Literal{Raw: "'default'", Value: "default"},
			},
		},
		{
			name:  "template with double quoted default",
			input: `{{port | "8080"}}`,
			want: Expression{
				Kind:    KindTemplate,
				Raw:     `{{port | "8080"}}`,
				Path:    "port",
				Default: &Literal{Raw: `"8080"`, Value: 8080},
			},
		},
		{
			name:  "template with bareword default",
			input: "{{debug | false}}",
			want: Expression{
				Kind:    KindTemplate,
				Raw:     "{{debug | false}}",
				Path:    "debug",
				Default: &Literal{Raw: "false", Value: false},
			},
		},
		{
			name:  "bracket path",
			input: "{{request.headers['x-request-id']}}",
			want:  Expression{Kind: KindTemplate, Raw: "{{request.headers['x-request-id']}}", Path: "request.headers['x-request-id']"},
		},
		{
			name:  "braces inside quoted default",
			input: "{{x | '{}'}}",
			want: Expression{
				Kind:    KindTemplate,
				Raw:     "{{x | '{}'}}",
				Path:    "x",
				Default: &Literal{Raw: "'{}'", Value: "{}"},
			},
		},
		{
			name:  "closing braces inside double quoted default",
			input: `{{fn:lookup | "}}"}}`,
			want: Expression{
				Kind:     KindCompute,
				Raw:      `{{fn:lookup | "}}"}}`,
				Function: "lookup",
				Default:  &Literal{Raw: `"}}"`, Value: "}}"},
			},
		},
		{
			name:  "two quoted placeholders stay separate",
			input: "{{a | 'x'}} and {{b | 'y'}}",
			want:  Expression{Kind: KindLiteral, Raw: "{{a | 'x'}} and {{b | 'y'}}"},
		},
		{
			name:    "unbalanced quote",
			input:   "{{name | it's}}",
			wantErr: true,
		},
		{
			name:    "stray brace in body",
			input:   "{{a}b}}",
			wantErr: true,
		},
		{
			name:    "empty body",
			input:   "{{}}",
			wantErr: true,
		},
		{
			name:    "whitespace body",
			input:   "{{   }}",
			wantErr: true,
		},
		{
			name:    "default without path",
			input:   "{{ | 'x'}}",
			wantErr: true,
		},
		{
			name:    "invalid function name",
			input:   "{{fn:1bad}}",
			wantErr: true,
		},
		{
			name:    "dotted function name",
			input:   "{{fn:a.b}}",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				if !engine.IsValidation(err) {
					t.Errorf("expected validation error, got %v", err)
				}
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestInferLiteral(t *testing.T) {
	tests := []struct {
		raw  string
		want interface{}
	}{
		{"'true'", true},
		{"'false'", false},
		{"TRUE", true},
		{"'42'", 42},
		{"-7", -7},
		{"'3.14'", 3.14},
		{"0.5", 0.5},
		{"'hello'", "hello"},
		{`"quoted"`, "quoted"},
		{"bare", "bare"},
		{"''", ""},
		{"1.2.3", "1.2.3"},
		{"'mismatched\"", "'mismatched\""},
		{"99999999999999999999", 1e20},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := InferLiteral(tt.raw)
			if got != tt.want {
				t.Errorf("InferLiteral(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestIsCompute(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"{{fn:now}}", true},
		{"{{fn:now | 'x'}}", true},
		{"{{now}}", false},
		{"prefix {{fn:now}}", false},
		{"{{fn:}}", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsCompute(tt.in); got != tt.want {
			t.Errorf("IsCompute(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFindAll(t *testing.T) {
	s := "postgres://{{env.DB_USER}}:{{env.DB_PASS | 'x'}}@{{fn:db_host}}/app"

	got := FindAll(s)
	want := []string{"{{env.DB_USER}}", "{{env.DB_PASS | 'x'}}", "{{fn:db_host}}"}

	if len(got) != len(want) {
		t.Fatalf("FindAll() returned %d placeholders, want %d", len(got), len(want))
	}
	for i, p := range got {
		if p.Raw != want[i] {
			t.Errorf("placeholder %d = %q, want %q", i, p.Raw, want[i])
		}
		if s[p.Start:p.End] != p.Raw {
			t.Errorf("placeholder %d offsets do not match raw text", i)
		}
	}

	braces := FindAll("{{a | '}}'}}-{{b}}")
	if len(braces) != 2 || braces[0].Raw != "{{a | '}}'}}" || braces[1].Raw != "{{b}}" {
		t.Errorf("FindAll() with quoted braces = %+v", braces)
	}

	if FindAll("no placeholders") != nil {
		t.Error("expected nil for string without placeholders")
	}
	if !HasPlaceholder(s) || HasPlaceholder("{ {x} }") {
		t.Error("HasPlaceholder returned unexpected result")
	}
}
