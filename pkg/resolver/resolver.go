package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/ctxresolver/pkg/engine"
	"github.com/openfroyo/ctxresolver/pkg/telemetry"
	"github.com/openfroyo/ctxresolver/pkg/template"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxDepth is the nesting limit used when WithMaxDepth is not given.
const DefaultMaxDepth = 10

// Options are the tunable knobs of a Resolver.
type Options struct {
	// MaxDepth bounds the nesting level of resolved trees.
	MaxDepth int `validate:"gte=1"`

	// MissingStrategy applies to template paths that resolve to nothing
	// and carry no default.
	MissingStrategy engine.MissingStrategy `validate:"oneof=ERROR DEFAULT IGNORE"`

	// Concurrency is the number of sibling values resolved in parallel.
	// 1 resolves siblings sequentially in sorted key order.
	Concurrency int `validate:"gte=1,lte=256"`
}

// DefaultOptions returns the default resolver options.
func DefaultOptions() Options {
	return Options{
		MaxDepth:        DefaultMaxDepth,
		MissingStrategy: engine.MissingError,
		Concurrency:     1,
	}
}

var optionsValidator = validator.New()

// Validate checks the options.
func (o Options) Validate() error {
	if err := optionsValidator.Struct(o); err != nil {
		return engine.NewValidationError("invalid resolver options", err)
	}
	return nil
}

// Resolver resolves {{path}} and {{fn:name}} placeholders in strings and
// configuration trees. It holds no per-call state and is safe for
// concurrent use.
type Resolver struct {
	registry engine.Registry
	opts     Options
	policy   engine.AccessPolicy
	logger   zerolog.Logger
	tel      *telemetry.Telemetry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxDepth sets the maximum nesting depth.
func WithMaxDepth(n int) Option {
	return func(r *Resolver) {
		r.opts.MaxDepth = n
	}
}

// WithMissingStrategy sets the missing-value strategy.
func WithMissingStrategy(s engine.MissingStrategy) Option {
	return func(r *Resolver) {
		r.opts.MissingStrategy = s
	}
}

// WithConcurrency sets how many sibling values are resolved in parallel.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		r.opts.Concurrency = n
	}
}

// WithOptions replaces all options at once.
func WithOptions(opts Options) Option {
	return func(r *Resolver) {
		r.opts = opts
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithAccessPolicy adds a policy consulted before every path lookup and
// compute call.
func WithAccessPolicy(p engine.AccessPolicy) Option {
	return func(r *Resolver) {
		r.policy = p
	}
}

// WithTelemetry enables spans, metrics and failure events.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(r *Resolver) {
		r.tel = tel
	}
}

// New creates a resolver backed by reg.
func New(reg engine.Registry, opts ...Option) (*Resolver, error) {
	if reg == nil {
		return nil, engine.NewValidationError("registry is required", nil)
	}

	r := &Resolver{
		registry: reg,
		opts:     DefaultOptions(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.opts.Validate(); err != nil {
		return nil, err
	}

	r.logger = r.logger.With().Str("component", "resolver").Logger()
	return r, nil
}

// Options returns the effective options.
func (r *Resolver) Options() Options {
	return r.opts
}

// Registry returns the backing registry.
func (r *Resolver) Registry() engine.Registry {
	return r.registry
}

// IsComputePattern reports whether expr is exactly one {{fn:name}} placeholder.
func (r *Resolver) IsComputePattern(expr string) bool {
	return template.IsCompute(expr)
}

// Resolve resolves a single expression. Non-strings and strings without
// placeholders are returned unchanged. A string that is exactly one
// placeholder resolves to the native value; placeholders embedded in
// larger text are stringified and spliced in.
func (r *Resolver) Resolve(ctx context.Context, expr interface{}, data map[string]interface{}, scope engine.Scope, depth int) (interface{}, error) {
	if depth > r.opts.MaxDepth {
		return nil, engine.NewRecursionLimitError(depth, r.opts.MaxDepth)
	}
	if !scope.Valid() {
		return nil, engine.NewValidationError(fmt.Sprintf("invalid scope %q", scope), nil)
	}

	s, ok := expr.(string)
	if !ok || !strings.Contains(s, "{{") {
		return expr, nil
	}

	parsed, err := template.Parse(s)
	if err != nil {
		return nil, err
	}
	if parsed.Kind == template.KindLiteral {
		return r.interpolate(ctx, s, data, scope)
	}
	return r.resolveExpression(ctx, parsed, data, scope)
}

func (r *Resolver) resolveExpression(ctx context.Context, expr template.Expression, data map[string]interface{}, scope engine.Scope) (interface{}, error) {
	if expr.Kind == template.KindCompute {
		return r.resolveCompute(ctx, expr, data, scope)
	}
	return r.resolveTemplate(ctx, expr, data, scope)
}

func (r *Resolver) resolveCompute(ctx context.Context, expr template.Expression, data map[string]interface{}, scope engine.Scope) (interface{}, error) {
	name := expr.Function

	fnScope, ok := r.registry.Scope(name)
	if !ok {
		return nil, engine.NewComputeNotFoundError(name).WithExpression(expr.Raw)
	}
	if scope == engine.ScopeStartup && fnScope == engine.ScopeRequest {
		return nil, engine.NewScopeViolationError(name, fnScope, scope).WithExpression(expr.Raw)
	}
	if r.policy != nil {
		if err := r.policy.CheckFunction(ctx, name, scope); err != nil {
			return nil, err
		}
	}

	value, err := r.registry.Resolve(ctx, name, data)
	if err != nil {
		if expr.HasDefault() && engine.IsComputeFailed(err) {
			r.logger.Debug().Err(err).Str("function", name).Msg("Compute function failed, using default")
			return expr.Default.Value, nil
		}
		return nil, err
	}
	return value, nil
}

func (r *Resolver) resolveTemplate(ctx context.Context, expr template.Expression, data map[string]interface{}, scope engine.Scope) (interface{}, error) {
	if err := template.ValidatePath(expr.Path); err != nil {
		return nil, err
	}
	if r.policy != nil {
		if err := r.policy.CheckPath(ctx, expr.Path, scope); err != nil {
			return nil, err
		}
	}

	if value, found := template.Lookup(data, expr.Path); found {
		return value, nil
	}
	if expr.HasDefault() {
		return expr.Default.Value, nil
	}

	switch r.opts.MissingStrategy {
	case engine.MissingDefault:
		return nil, nil
	case engine.MissingIgnore:
		return expr.Raw, nil
	default:
		return nil, engine.NewMissingValueError(expr.Path).WithExpression(expr.Raw)
	}
}

// Interpolate resolves every placeholder inside s and splices the results
// into the surrounding text. Maps and slices are written as JSON and nil
// as the empty string.
func (r *Resolver) Interpolate(ctx context.Context, s string, data map[string]interface{}, scope engine.Scope) (string, error) {
	if !scope.Valid() {
		return "", engine.NewValidationError(fmt.Sprintf("invalid scope %q", scope), nil)
	}
	v, err := r.interpolate(ctx, s, data, scope)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) interpolate(ctx context.Context, s string, data map[string]interface{}, scope engine.Scope) (interface{}, error) {
	placeholders := template.FindAll(s)

	var b strings.Builder
	last := 0
	for _, ph := range placeholders {
		expr, err := template.Parse(ph.Raw)
		if err != nil {
			return nil, err
		}
		value, err := r.resolveExpression(ctx, expr, data, scope)
		if err != nil {
			return nil, err
		}
		b.WriteString(s[last:ph.Start])
		b.WriteString(Stringify(value))
		last = ph.End
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

// Stringify renders a resolved value for splicing into text.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	case map[string]interface{}, []interface{}, map[string]string, []string:
		out, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(out)
	default:
		return fmt.Sprint(val)
	}
}

// ResolveObject resolves every string leaf of node. Mappings and sequences
// are copied; the input is never modified. Scalars are returned unchanged.
// Resolution stops at the first error.
func (r *Resolver) ResolveObject(ctx context.Context, node interface{}, data map[string]interface{}, scope engine.Scope, depth int) (result interface{}, err error) {
	if !scope.Valid() {
		return nil, engine.NewValidationError(fmt.Sprintf("invalid scope %q", scope), nil)
	}
	if depth == 0 {
		op := r.tel.StartResolve(ctx, scope.String(), r.opts.MaxDepth)
		ctx = op.Ctx
		defer func() {
			op.EndResolve(err, string(engine.CodeOf(err)))
			if err != nil {
				r.logger.Debug().Err(err).Str("scope", scope.String()).Msg("Resolution failed")
			}
		}()
	}
	return r.resolveNode(ctx, node, data, scope, depth)
}

func (r *Resolver) resolveNode(ctx context.Context, node interface{}, data map[string]interface{}, scope engine.Scope, depth int) (interface{}, error) {
	if depth > r.opts.MaxDepth {
		return nil, engine.NewRecursionLimitError(depth, r.opts.MaxDepth)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch v := node.(type) {
	case string:
		return r.Resolve(ctx, v, data, scope, depth)
	case map[string]interface{}:
		return r.resolveMapping(ctx, v, data, scope, depth)
	case map[string]string:
		m := make(map[string]interface{}, len(v))
		for k, s := range v {
			m[k] = s
		}
		return r.resolveMapping(ctx, m, data, scope, depth)
	case []interface{}:
		return r.resolveSequence(ctx, v, data, scope, depth)
	case []string:
		seq := make([]interface{}, len(v))
		for i, s := range v {
			seq[i] = s
		}
		return r.resolveSequence(ctx, seq, data, scope, depth)
	case nil, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number, time.Time:
		return v, nil
	default:
		return nil, engine.NewValidationError(fmt.Sprintf("unsupported node type %T", node), nil).
			WithDetail("depth", depth)
	}
}

func (r *Resolver) resolveMapping(ctx context.Context, m map[string]interface{}, data map[string]interface{}, scope engine.Scope, depth int) (interface{}, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]interface{}, len(keys))
	err := r.each(ctx, len(keys), func(ctx context.Context, i int) error {
		v, err := r.resolveNode(ctx, m[keys[i]], data, scope, depth+1)
		if err != nil {
			return err
		}
		values[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(keys))
	for i, k := range keys {
		out[k] = values[i]
	}
	return out, nil
}

func (r *Resolver) resolveSequence(ctx context.Context, seq []interface{}, data map[string]interface{}, scope engine.Scope, depth int) (interface{}, error) {
	out := make([]interface{}, len(seq))
	err := r.each(ctx, len(seq), func(ctx context.Context, i int) error {
		v, err := r.resolveNode(ctx, seq[i], data, scope, depth+1)
		if err != nil {
			return err
		}
		out[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// each runs fn for indexes 0..n-1. Sequential mode stops at the first
// error; concurrent mode cancels the remaining siblings.
func (r *Resolver) each(ctx context.Context, n int, fn func(context.Context, int) error) error {
	if r.opts.Concurrency <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ResolveMany resolves each expression at depth 0, in order. The first
// error aborts.
func (r *Resolver) ResolveMany(ctx context.Context, exprs []interface{}, data map[string]interface{}, scope engine.Scope) ([]interface{}, error) {
	out := make([]interface{}, len(exprs))
	for i, expr := range exprs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := r.Resolve(ctx, expr, data, scope, 0)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ResolveStartup resolves tree in STARTUP scope.
func (r *Resolver) ResolveStartup(ctx context.Context, tree map[string]interface{}, data map[string]interface{}) (map[string]interface{}, error) {
	return r.resolveTree(ctx, tree, data, engine.ScopeStartup)
}

// ResolveRequest resolves tree in REQUEST scope.
func (r *Resolver) ResolveRequest(ctx context.Context, tree map[string]interface{}, data map[string]interface{}) (map[string]interface{}, error) {
	return r.resolveTree(ctx, tree, data, engine.ScopeRequest)
}

func (r *Resolver) resolveTree(ctx context.Context, tree map[string]interface{}, data map[string]interface{}, scope engine.Scope) (map[string]interface{}, error) {
	if tree == nil {
		tree = map[string]interface{}{}
	}
	out, err := r.ResolveObject(ctx, tree, data, scope, 0)
	if err != nil {
		return nil, err
	}
	return out.(map[string]interface{}), nil
}
