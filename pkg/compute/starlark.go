package compute

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/openfroyo/ctxresolver/pkg/engine"
	starlarkjson "go.starlark.net/lib/json"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultStarlarkTimeout bounds both script loading and each function call.
const DefaultStarlarkTimeout = 5 * time.Second

// StarlarkFunctions exposes the top-level functions of a Starlark script as
// compute functions. Each function is called with the resolution context as
// a dict, or with no arguments if it declares none:
//
//	def db_url(ctx):
//	    return "postgres://%s:%d" % (ctx["config"]["db_host"], ctx["config"]["db_port"])
//
// Functions whose name starts with an underscore are private helpers and
// are not exported.
type StarlarkFunctions struct {
	filename string
	timeout  time.Duration
	globals  starlark.StringDict
	funcs    map[string]*starlark.Function
}

// NewStarlarkFunctions executes src once and collects its functions. The
// resulting globals are frozen, so functions may be called concurrently.
func NewStarlarkFunctions(filename string, src interface{}, timeout time.Duration) (*StarlarkFunctions, error) {
	if timeout <= 0 {
		timeout = DefaultStarlarkTimeout
	}

	thread := newThread(filename)
	timer := time.AfterFunc(timeout, func() {
		thread.Cancel(fmt.Sprintf("load timeout after %v", timeout))
	})
	defer timer.Stop()

	globals, err := starlark.ExecFile(thread, filename, src, predeclared())
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("failed to load starlark script %s", filename), err)
	}
	globals.Freeze()

	sf := &StarlarkFunctions{
		filename: filename,
		timeout:  timeout,
		globals:  globals,
		funcs:    make(map[string]*starlark.Function),
	}
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if fn, ok := val.(*starlark.Function); ok {
			sf.funcs[name] = fn
		}
	}

	return sf, nil
}

// Names returns the exported function names in sorted order.
func (s *StarlarkFunctions) Names() []string {
	names := make([]string, 0, len(s.funcs))
	for name := range s.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Func returns a compute function calling the named Starlark function.
func (s *StarlarkFunctions) Func(name string) (engine.ComputeFunc, bool) {
	fn, ok := s.funcs[name]
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, data map[string]interface{}) (interface{}, error) {
		return s.call(ctx, fn, data)
	}, true
}

// Register registers every exported function on r. scopes overrides the
// scope per name; unlisted functions are STARTUP. A scope entry naming a
// function the script does not define is an error.
func (s *StarlarkFunctions) Register(r engine.Registry, scopes map[string]engine.Scope) error {
	for name := range scopes {
		if _, ok := s.funcs[name]; !ok {
			return engine.NewValidationError(fmt.Sprintf("scope given for unknown starlark function %q in %s", name, s.filename), nil)
		}
	}

	for _, name := range s.Names() {
		scope, ok := scopes[name]
		if !ok {
			scope = engine.ScopeStartup
		}
		fn, _ := s.Func(name)
		if err := r.Register(name, fn, scope); err != nil {
			return err
		}
	}
	return nil
}

func (s *StarlarkFunctions) call(ctx context.Context, fn *starlark.Function, data map[string]interface{}) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	thread := newThread(fn.Name())
	stop := context.AfterFunc(callCtx, func() {
		thread.Cancel(callCtx.Err().Error())
	})
	defer stop()

	var args starlark.Tuple
	if fn.NumParams() > 0 {
		arg, err := toStarlarkValue(data)
		if err != nil {
			return nil, fmt.Errorf("failed to convert context: %w", err)
		}
		args = starlark.Tuple{arg}
	}

	result, err := starlark.Call(thread, fn, args, nil)
	if err != nil {
		return nil, fmt.Errorf("starlark function %s failed: %w", fn.Name(), err)
	}
	return fromStarlarkValue(result)
}

func newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, _ string) {
			// print is suppressed
		},
	}
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   starlarkjson.Module,
		"time":   starlarktime.Module,
	}
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			if err := dict.SetKey(starlark.String(k), starlark.String(item)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			starlarkVal, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return int(i), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlarktime.Time:
		return time.Time(val).UTC().Format(time.RFC3339), nil
	case starlark.Tuple:
		return fromStarlarkSequence(val)
	case *starlark.List:
		return fromStarlarkSequence(val)
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromStarlarkSequence(seq starlark.Indexable) (interface{}, error) {
	list := make([]interface{}, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}
