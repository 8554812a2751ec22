package resolver

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Top-level keys of a resolution context.
const (
	ContextEnv     = "env"
	ContextConfig  = "config"
	ContextApp     = "app"
	ContextState   = "state"
	ContextRequest = "request"
)

// ContextOptions are the inputs of BuildContext. Nil fields take defaults.
type ContextOptions struct {
	// Env defaults to the process environment.
	Env map[string]string

	// Config is the raw configuration tree.
	Config map[string]interface{}

	// App defaults to Config["app"] when that is a mapping.
	App map[string]interface{}

	// State is host-owned runtime state.
	State map[string]interface{}

	// Request describes the current request; nil outside request handling.
	Request map[string]interface{}
}

// ContextExtender contributes extra top-level keys. It sees the context
// built so far, and its result is shallow-merged into it.
type ContextExtender func(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error)

// BuildContext assembles the {env, config, app, state, request} mapping
// that templates are resolved against, then applies extenders in order.
func BuildContext(ctx context.Context, opts ContextOptions, extenders ...ContextExtender) (map[string]interface{}, error) {
	env := opts.Env
	if env == nil {
		env = Environ()
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = map[string]interface{}{}
	}

	app := opts.App
	if app == nil {
		if m, ok := cfg[ContextApp].(map[string]interface{}); ok {
			app = m
		} else {
			app = map[string]interface{}{}
		}
	}

	state := opts.State
	if state == nil {
		state = map[string]interface{}{}
	}

	data := map[string]interface{}{
		ContextEnv:     env,
		ContextConfig:  cfg,
		ContextApp:     app,
		ContextState:   state,
		ContextRequest: nil,
	}
	if opts.Request != nil {
		data[ContextRequest] = opts.Request
	}

	for i, extend := range extenders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		partial, err := extend(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("context extender %d failed: %w", i, err)
		}
		for k, v := range partial {
			data[k] = v
		}
	}

	return data, nil
}

// Environ returns the process environment as a map.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}
