package compute

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/ctxresolver/pkg/engine"
	"github.com/openfroyo/ctxresolver/pkg/telemetry"
	"github.com/openfroyo/ctxresolver/pkg/template"
	"github.com/rs/zerolog"
)

// Registry maps function names to compute functions and caches STARTUP
// results. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	// cache holds name -> *cachedValue for STARTUP functions.
	cache sync.Map

	logger zerolog.Logger
	tel    *telemetry.Telemetry
}

type entry struct {
	name  string
	fn    engine.ComputeFunc
	scope engine.Scope
}

// cachedValue remembers which registration produced it, so a value computed
// by an unregistered function is never served for its replacement.
type cachedValue struct {
	owner *entry
	value interface{}
}

var _ engine.Registry = (*Registry)(nil)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithTelemetry enables metrics, spans and lifecycle events.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(r *Registry) {
		r.tel = tel
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "compute_registry").Logger()
	return r
}

// Register adds fn under name with the given scope.
func (r *Registry) Register(name string, fn engine.ComputeFunc, scope engine.Scope) error {
	if err := template.ValidateFunctionName(name); err != nil {
		return err
	}
	if fn == nil {
		return engine.NewValidationError("compute function is nil", nil).WithFunction(name)
	}
	if !scope.Valid() {
		return engine.NewValidationError(fmt.Sprintf("invalid scope %q", scope), nil).WithFunction(name)
	}

	r.mu.Lock()
	if _, exists := r.entries[name]; exists {
		r.mu.Unlock()
		return engine.NewAlreadyRegisteredError(name)
	}
	r.entries[name] = &entry{name: name, fn: fn, scope: scope}
	count := len(r.entries)
	r.mu.Unlock()

	r.logger.Debug().Str("function", name).Str("scope", scope.String()).Msg("Registered compute function")
	if r.tel != nil {
		r.tel.Metrics.SetRegisteredFunctions(count)
		_ = r.tel.Events.PublishFunctionRegistered(name, scope.String())
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, fn engine.ComputeFunc, scope engine.Scope) {
	if err := r.Register(name, fn, scope); err != nil {
		panic(err)
	}
}

// Unregister removes name and its cached value. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, exists := r.entries[name]
	delete(r.entries, name)
	count := len(r.entries)
	r.mu.Unlock()

	r.cache.Delete(name)

	if !exists {
		return
	}
	r.logger.Debug().Str("function", name).Msg("Unregistered compute function")
	if r.tel != nil {
		r.tel.Metrics.SetRegisteredFunctions(count)
		_ = r.tel.Events.PublishFunctionUnregistered(name)
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Scope returns the scope name was registered with.
func (r *Registry) Scope(name string) (engine.Scope, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return "", false
	}
	return e.scope, true
}

// Describe returns a sorted snapshot of every registration.
func (r *Registry) Describe() []engine.FunctionInfo {
	r.mu.RLock()
	infos := make([]engine.FunctionInfo, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, engine.FunctionInfo{
			Name:   e.name,
			Scope:  e.scope,
			Cached: r.cachedFor(e) != nil,
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

func (r *Registry) cachedFor(e *entry) *cachedValue {
	v, ok := r.cache.Load(e.name)
	if !ok {
		return nil
	}
	cv := v.(*cachedValue)
	if cv.owner != e {
		return nil
	}
	return cv
}

// Resolve invokes the named function. STARTUP results are computed at most
// once per registration unless concurrent first calls race, in which case
// the first stored value wins and is returned to every caller. REQUEST
// functions run on every call. Errors are never cached.
func (r *Registry) Resolve(ctx context.Context, name string, data map[string]interface{}) (interface{}, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, engine.NewComputeNotFoundError(name)
	}

	if e.scope == engine.ScopeStartup {
		if cv := r.cachedFor(e); cv != nil {
			if r.tel != nil {
				r.tel.Metrics.RecordCacheHit(name)
			}
			return cv.value, nil
		}
	}

	value, err := r.invoke(ctx, e, data)
	if err != nil {
		return nil, err
	}

	if e.scope != engine.ScopeStartup {
		return value, nil
	}

	fresh := &cachedValue{owner: e, value: value}
	actual, loaded := r.cache.LoadOrStore(name, fresh)
	if !loaded {
		return value, nil
	}
	if cv := actual.(*cachedValue); cv.owner == e {
		return cv.value, nil
	}
	// A value left over from an earlier registration of the same name.
	r.cache.CompareAndSwap(name, actual, fresh)
	return value, nil
}

func (r *Registry) invoke(ctx context.Context, e *entry, data map[string]interface{}) (value interface{}, err error) {
	op := r.tel.StartCompute(ctx, e.name, e.scope.String())
	defer func() {
		op.EndCompute(err)
	}()

	defer func() {
		if p := recover(); p != nil {
			value = nil
			err = engine.NewComputeFailedError(e.name, fmt.Errorf("panic: %v", p))
		}
	}()

	value, err = e.fn(op.Ctx, data)
	if err != nil {
		r.logger.Debug().Err(err).Str("function", e.name).Msg("Compute function failed")
		return nil, engine.NewComputeFailedError(e.name, err)
	}
	return value, nil
}

// ClearCache drops every cached STARTUP value. Registrations are kept.
func (r *Registry) ClearCache() {
	cleared := 0
	r.cache.Range(func(key, _ interface{}) bool {
		r.cache.Delete(key)
		cleared++
		return true
	})

	r.logger.Debug().Int("entries", cleared).Msg("Cleared startup cache")
	if r.tel != nil {
		_ = r.tel.Events.PublishCacheCleared(cleared)
	}
}

// Clear drops every registration and cached value.
func (r *Registry) Clear() {
	r.mu.Lock()
	count := len(r.entries)
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	r.cache.Range(func(key, _ interface{}) bool {
		r.cache.Delete(key)
		return true
	})

	r.logger.Debug().Int("functions", count).Msg("Cleared compute registry")
	if r.tel != nil {
		r.tel.Metrics.SetRegisteredFunctions(0)
		_ = r.tel.Events.PublishRegistryCleared(count)
	}
}
