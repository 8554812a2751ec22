package template

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/openfroyo/ctxresolver/pkg/engine"
)

// Kind classifies a parsed string.
type Kind int

const (
	// KindLiteral is a string that is not a whole-string placeholder.
	KindLiteral Kind = iota

	// KindCompute is a {{fn:name}} placeholder.
	KindCompute

	// KindTemplate is a {{path | default}} placeholder.
	KindTemplate
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindCompute:
		return "compute"
	case KindTemplate:
		return "template"
	default:
		return "literal"
	}
}

const computePrefix = "fn:"

// placeholderBody matches a body without braces, except inside single or
// double quoted runs.
const placeholderBody = `((?:[^{}'"]|'[^']*'|"[^"]*")*)`

var (
	wholePattern       = regexp.MustCompile(`^\{\{` + placeholderBody + `\}\}$`)
	placeholderPattern = regexp.MustCompile(`\{\{` + placeholderBody + `\}\}`)
	identifierPattern  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	integerPattern     = regexp.MustCompile(`^-?[0-9]+$`)
	decimalPattern     = regexp.MustCompile(`^-?[0-9]+\.[0-9]+$`)
)

// Literal is a default value written after the pipe in a placeholder.
type Literal struct {
	// Raw is the literal as written, quotes included.
	Raw string

	// Value is the inferred value (bool, int, float64 or string).
	Value interface{}
}

// Expression is the parsed form of a placeholder.
type Expression struct {
	Kind Kind

	// Raw is the full input text, braces included.
	Raw string

	// Function is set for KindCompute.
	Function string

	// Path is set for KindTemplate.
	Path string

	// Default is nil when no "| default" was written.
	Default *Literal
}

// HasDefault reports whether the placeholder carries a default literal.
func (e Expression) HasDefault() bool {
	return e.Default != nil
}

// Placeholder is one {{...}} occurrence inside a larger string.
type Placeholder struct {
	// Raw is the matched text including braces.
	Raw string

	// Start and End are byte offsets of Raw within the source string.
	Start int
	End   int
}

// Parse classifies s. Strings that are not exactly one placeholder are
// returned as KindLiteral without error. A placeholder whose body is
// malformed yields a validation error, as does a string wrapped in "{{" and
// "}}" that holds no recognisable placeholder at all, such as one with an
// unbalanced quote.
func Parse(s string) (Expression, error) {
	m := wholePattern.FindStringSubmatch(s)
	if m != nil {
		return parseBody(s, m[1])
	}
	if strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") && !placeholderPattern.MatchString(s) {
		return Expression{}, engine.NewValidationError("malformed placeholder", nil).WithExpression(s)
	}
	return Expression{Kind: KindLiteral, Raw: s}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// static initialisation.
func MustParse(s string) Expression {
	expr, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return expr
}

func parseBody(raw, body string) (Expression, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Expression{}, engine.NewValidationError("empty placeholder", nil).WithExpression(raw)
	}

	target, def, hasDefault := strings.Cut(body, "|")
	target = strings.TrimSpace(target)

	expr := Expression{Raw: raw}
	if hasDefault {
		expr.Default = parseLiteral(def)
	}

	if strings.HasPrefix(target, computePrefix) {
		name := strings.TrimSpace(strings.TrimPrefix(target, computePrefix))
		if !identifierPattern.MatchString(name) {
			return Expression{}, engine.NewValidationError("invalid compute function name", nil).
				WithFunction(name).
				WithExpression(raw)
		}
		expr.Kind = KindCompute
		expr.Function = name
		return expr, nil
	}

	if target == "" {
		return Expression{}, engine.NewValidationError("placeholder has no path", nil).WithExpression(raw)
	}

	expr.Kind = KindTemplate
	expr.Path = target
	return expr, nil
}

func parseLiteral(raw string) *Literal {
	raw = strings.TrimSpace(raw)
	return &Literal{Raw: raw, Value: InferLiteral(raw)}
}

// InferLiteral converts a default literal to a typed value:
//
//	'true' / 'false'  -> bool (case-insensitive)
//	'42'              -> int
//	'3.14'            -> float64
//	'hello'           -> "hello"
//
// One pair of matching single or double quotes is stripped first. Integers
// that overflow int are returned as float64.
func InferLiteral(raw string) interface{} {
	v := unquote(strings.TrimSpace(raw))

	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}

	if integerPattern.MatchString(v) {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}

	if decimalPattern.MatchString(v) {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}

	return v
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '\'' || first == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// IsCompute reports whether s is exactly one well-formed {{fn:name}} placeholder.
func IsCompute(s string) bool {
	expr, err := Parse(s)
	return err == nil && expr.Kind == KindCompute
}

// HasPlaceholder reports whether s contains at least one {{...}} occurrence.
func HasPlaceholder(s string) bool {
	return placeholderPattern.MatchString(s)
}

// FindAll returns every {{...}} occurrence in s, in order.
func FindAll(s string) []Placeholder {
	idx := placeholderPattern.FindAllStringIndex(s, -1)
	if len(idx) == 0 {
		return nil
	}

	out := make([]Placeholder, 0, len(idx))
	for _, loc := range idx {
		out = append(out, Placeholder{
			Raw:   s[loc[0]:loc[1]],
			Start: loc[0],
			End:   loc[1],
		})
	}
	return out
}
