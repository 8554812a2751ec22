package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openfroyo/ctxresolver/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Memory management exports every module must provide.
const (
	exportMemory = "memory"
	exportMalloc = "malloc"
	exportFree   = "free"
)

// Config tunes how modules are run.
type Config struct {
	// Timeout bounds each function call, instantiation included.
	Timeout time.Duration

	// MemoryLimitPages caps linear memory in 64KiB pages.
	MemoryLimitPages uint32

	Logger zerolog.Logger
}

// DefaultConfig returns a 5 second timeout and a 16MiB memory cap.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MemoryLimitPages: 256,
		Logger:           zerolog.Nop(),
	}
}

// Module is a compiled WASM module whose exports are compute functions.
// Every call runs in a fresh instance, so calls share no state and may run
// concurrently.
type Module struct {
	name     string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	funcs    map[string]bool
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewModule compiles bin. An export is a compute function when it has the
// signature (ptr i32, len i32) -> i64 and its name does not start with an
// underscore.
func NewModule(ctx context.Context, name string, bin []byte, cfg Config) (*Module, error) {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = def.MemoryLimitPages
	}

	logger := cfg.Logger.With().Str("component", "wasm").Str("module", name).Logger()

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true))

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	if err := registerHostFunctions(ctx, runtime, logger); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, bin)
	if err != nil {
		runtime.Close(ctx)
		return nil, engine.NewValidationError(fmt.Sprintf("failed to compile WASM module %s", name), err)
	}

	funcs, err := computeExports(compiled)
	if err != nil {
		runtime.Close(ctx)
		return nil, engine.NewValidationError(fmt.Sprintf("invalid WASM module %s: %v", name, err), nil)
	}

	logger.Debug().Int("functions", len(funcs)).Msg("WASM module compiled")

	return &Module{
		name:     name,
		runtime:  runtime,
		compiled: compiled,
		funcs:    funcs,
		timeout:  cfg.Timeout,
		logger:   logger,
	}, nil
}

// registerHostFunctions exposes env.log(ptr, len) so modules can write
// debug log lines.
func registerHostFunctions(ctx context.Context, runtime wazero.Runtime, logger zerolog.Logger) error {
	_, err := runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
			msg, ok := mod.Memory().Read(ptr, length)
			if !ok {
				return
			}
			logger.Debug().Str("source", "guest").Msg(string(msg))
		}).
		Export("log").
		Instantiate(ctx)
	return err
}

func computeExports(compiled wazero.CompiledModule) (map[string]bool, error) {
	if _, ok := compiled.ExportedMemories()[exportMemory]; !ok {
		return nil, fmt.Errorf("module does not export %s", exportMemory)
	}

	exports := compiled.ExportedFunctions()
	if !hasSignature(exports[exportMalloc], []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}) {
		return nil, fmt.Errorf("module does not export %s(i32) -> i32", exportMalloc)
	}
	if !hasSignature(exports[exportFree], []api.ValueType{api.ValueTypeI32}, nil) {
		return nil, fmt.Errorf("module does not export %s(i32)", exportFree)
	}

	funcs := make(map[string]bool)
	for name, def := range exports {
		if name == exportMalloc || name == exportFree || strings.HasPrefix(name, "_") {
			continue
		}
		if hasSignature(def, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}) {
			funcs[name] = true
		}
	}
	return funcs, nil
}

func hasSignature(def api.FunctionDefinition, params, results []api.ValueType) bool {
	if def == nil {
		return false
	}
	return equalTypes(def.ParamTypes(), params) && equalTypes(def.ResultTypes(), results)
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Name returns the module name.
func (m *Module) Name() string {
	return m.name
}

// Names returns the exported compute function names in sorted order.
func (m *Module) Names() []string {
	names := make([]string, 0, len(m.funcs))
	for name := range m.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Func returns a compute function calling the named export.
func (m *Module) Func(name string) (engine.ComputeFunc, bool) {
	if !m.funcs[name] {
		return nil, false
	}
	return func(ctx context.Context, data map[string]interface{}) (interface{}, error) {
		return m.call(ctx, name, data)
	}, true
}

// Register registers every exported function on r. scopes overrides the
// scope per name; unlisted functions are STARTUP. A scope entry naming a
// function the module does not export is an error.
func (m *Module) Register(r engine.Registry, scopes map[string]engine.Scope) error {
	for name := range scopes {
		if !m.funcs[name] {
			return engine.NewValidationError(fmt.Sprintf("scope given for unknown WASM function %q in %s", name, m.name), nil)
		}
	}

	for _, name := range m.Names() {
		scope, ok := scopes[name]
		if !ok {
			scope = engine.ScopeStartup
		}
		fn, _ := m.Func(name)
		if err := r.Register(name, fn, scope); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the runtime and every compiled artefact.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// result is the JSON envelope a function writes to memory.
type result struct {
	Value json.RawMessage `json:"value"`
	Error string          `json:"error"`
}

func (m *Module) call(ctx context.Context, name string, data map[string]interface{}) (interface{}, error) {
	input, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	mod, err := m.runtime.InstantiateModule(callCtx, m.compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions("_initialize"))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}
	defer mod.Close(context.Background())

	b := newBridge(mod)
	output, err := b.call(callCtx, mod.ExportedFunction(name), input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var res result
	if err := json.Unmarshal(output, &res); err != nil {
		return nil, fmt.Errorf("%s: failed to decode result: %w", name, err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("%s: %s", name, res.Error)
	}
	if res.Value == nil {
		return nil, nil
	}

	var value interface{}
	if err := json.Unmarshal(res.Value, &value); err != nil {
		return nil, fmt.Errorf("%s: failed to decode value: %w", name, err)
	}
	return normalize(value), nil
}

// normalize turns whole JSON numbers into ints.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
		return val
	case map[string]interface{}:
		for k, item := range val {
			val[k] = normalize(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = normalize(item)
		}
		return val
	default:
		return v
	}
}
