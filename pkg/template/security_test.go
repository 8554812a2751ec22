package template

import (
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/openfroyo/ctxresolver/pkg/engine"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"simple", "env", false},
		{"dotted", "env.API_NAME", false},
		{"inner underscore", "config.db_host", false},
		{"indexed", "servers[0].host", false},
		{"quoted key", "headers['x-request-id']", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"proto", "__proto__", true},
		{"nested proto", "config.__proto__.polluted", true},
		{"constructor", "a.constructor", true},
		{"prototype", "a.prototype.b", true},
		{"python class", "obj.__class__", true},
		{"python dict", "obj.__dict__", true},
		{"leading underscore", "_private", true},
		{"nested underscore", "user._secret", true},
		{"bracket underscore", "user['_secret']", true},
		{"bracket denylisted", "user['constructor']", true},
		{"traversal", "a..b", true},
		{"leading dot", ".a", true},
		{"trailing dot", "a.", true},
		{"spaces", "a b", true},
		{"slash", "a/b", true},
		{"braces", "a{b}", true},
		{"dollar", "$env", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err != nil && !engine.IsSecurity(err) {
				t.Errorf("expected security error, got %v", err)
			}
		})
	}
}

func TestValidateFunctionName(t *testing.T) {
	valid := []string{"now", "_internal", "build_connection_string", "fn2"}
	invalid := []string{"", "2fn", "a.b", "a-b", "fn:now"}

	for _, name := range valid {
		if err := ValidateFunctionName(name); err != nil {
			t.Errorf("ValidateFunctionName(%q) unexpected error: %v", name, err)
		}
	}
	for _, name := range invalid {
		err := ValidateFunctionName(name)
		if err == nil {
			t.Errorf("ValidateFunctionName(%q) expected error", name)
			continue
		}
		if !engine.IsValidation(err) {
			t.Errorf("ValidateFunctionName(%q) expected validation error, got %v", name, err)
		}
	}
}

func TestSecurityProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	denied := func(s string) bool {
		_, ok := deniedSegments[s]
		return ok
	}

	properties.Property("identifier paths are accepted", prop.ForAll(
		func(a, b string) bool {
			if denied(a) || denied(b) {
				return true
			}
			return ValidatePath(a+"."+b) == nil
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.Property("denylisted segments are rejected anywhere", prop.ForAll(
		func(a, blocked string, front bool) bool {
			path := a + "." + blocked
			if front {
				path = blocked + "." + a
			}
			return engine.IsSecurity(ValidatePath(path))
		},
		gen.Identifier(),
		gen.OneConstOf("__proto__", "constructor", "prototype", "__class__", "__dict__"),
		gen.Bool(),
	))

	properties.Property("underscore-prefixed segments are rejected", prop.ForAll(
		func(a, b string) bool {
			return engine.IsSecurity(ValidatePath(a + "._" + b))
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.Property("empty segments are rejected", prop.ForAll(
		func(a, b string) bool {
			return engine.IsSecurity(ValidatePath(a + ".." + b))
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func TestInferLiteralProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("quoted integers infer as int", prop.ForAll(
		func(n int) bool {
			return InferLiteral("'"+strconv.Itoa(n)+"'") == n
		},
		gen.IntRange(-1000000, 1000000),
	))

	properties.Property("non-keyword strings are returned unquoted", prop.ForAll(
		func(s string) bool {
			lower := strings.ToLower(s)
			if lower == "true" || lower == "false" {
				return true
			}
			return InferLiteral("'"+s+"'") == s
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
