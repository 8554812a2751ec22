package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/openfroyo/ctxresolver/pkg/compute"
	"github.com/openfroyo/ctxresolver/pkg/compute/wasm"
	"github.com/openfroyo/ctxresolver/pkg/config"
	"github.com/openfroyo/ctxresolver/pkg/engine"
	"github.com/openfroyo/ctxresolver/pkg/policy"
	"github.com/openfroyo/ctxresolver/pkg/resolver"
	"github.com/openfroyo/ctxresolver/pkg/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// sourceFlags select the configuration files a command loads.
type sourceFlags struct {
	dir string
	env string
}

func (sf *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&sf.dir, "dir", "d", "", "config directory (base.yml + server.<env>.yaml when no files are given)")
	cmd.Flags().StringVarP(&sf.env, "env", "e", config.DefaultEnv, "environment overlay")
}

func (sf *sourceFlags) loader(files []string) (*config.Loader, error) {
	dir := sf.dir
	if len(files) == 0 && dir == "" {
		dir = "."
	}
	return config.NewLoader(config.LoaderOptions{
		Files: files,
		Dir:   dir,
		Env:   sf.env,
	}, log.Logger)
}

// runtime is the resolver stack shared by every command.
type runtime struct {
	tel      *telemetry.Telemetry
	registry *compute.Registry
	policy   *policy.Engine
	resolver *resolver.Resolver
	plugins  []*wasm.Plugin
}

func (s *settings) telemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "ctxresolve"
	cfg.ServiceVersion = s.version
	if level := s.v.GetString(keyLogLevel); level != "" {
		cfg.Logging.Level = level
	}
	return cfg
}

func (s *settings) resolverOptions() (resolver.Options, error) {
	missing, err := engine.ParseMissingStrategy(s.v.GetString(keyMissing))
	if err != nil {
		return resolver.Options{}, err
	}
	opts := resolver.Options{
		MaxDepth:        s.v.GetInt(keyMaxDepth),
		MissingStrategy: missing,
		Concurrency:     s.v.GetInt(keyConcurrency),
	}
	return opts, opts.Validate()
}

// releaseRuntime frees a partially built runtime. Tests replace it.
var releaseRuntime = func(ctx context.Context, rt *runtime) { rt.close(ctx) }

// newRuntime builds telemetry, the function registry, the policy engine and
// the resolver from the global flags. On failure everything built so far is
// released.
func (s *settings) newRuntime(ctx context.Context, cfg *telemetry.Config) (_ *runtime, err error) {
	opts, err := s.resolverOptions()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	rt := &runtime{tel: tel}
	defer func() {
		if err != nil {
			releaseRuntime(ctx, rt)
		}
	}()

	rt.registry = compute.NewRegistry(compute.WithLogger(log.Logger), compute.WithTelemetry(tel))
	if err := compute.RegisterBuiltins(rt.registry); err != nil {
		return nil, err
	}
	if err := s.registerStarlark(rt.registry); err != nil {
		return nil, err
	}
	if rt.plugins, err = s.registerWASM(ctx, rt.registry); err != nil {
		return nil, err
	}

	rt.policy, err = policy.NewEngine(log.Logger,
		policy.WithTelemetry(tel),
		policy.WithAllowedFunctions(s.v.GetStringSlice(keyAllowFunctions)...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if paths := s.v.GetStringSlice(keyPolicy); len(paths) > 0 {
		if err := rt.policy.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}

	rt.resolver, err = resolver.New(rt.registry,
		resolver.WithOptions(opts),
		resolver.WithLogger(log.Logger),
		resolver.WithAccessPolicy(rt.policy),
		resolver.WithTelemetry(tel),
	)
	if err != nil {
		return nil, err
	}

	return rt, nil
}

func (s *settings) registerStarlark(reg *compute.Registry) error {
	scripts := s.v.GetStringSlice(keyStarlark)
	requestScoped := s.v.GetStringSlice(keyRequestFunctions)

	defined := make(map[string]bool)
	for _, path := range scripts {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read starlark script: %w", err)
		}
		sf, err := compute.NewStarlarkFunctions(path, src, compute.DefaultStarlarkTimeout)
		if err != nil {
			return err
		}

		scopes := make(map[string]engine.Scope)
		for _, name := range requestScoped {
			if _, ok := sf.Func(name); ok {
				scopes[name] = engine.ScopeRequest
				defined[name] = true
			}
		}
		if err := sf.Register(reg, scopes); err != nil {
			return err
		}
		log.Debug().Str("script", path).Strs("functions", sf.Names()).Msg("Starlark functions registered")
	}

	for _, name := range requestScoped {
		if !defined[name] {
			return engine.NewValidationError(fmt.Sprintf("--%s names unknown starlark function %q", keyRequestFunctions, name), nil)
		}
	}
	return nil
}

func (s *settings) registerWASM(ctx context.Context, reg *compute.Registry) ([]*wasm.Plugin, error) {
	var plugins []*wasm.Plugin
	for _, path := range s.v.GetStringSlice(keyWASM) {
		p, err := wasm.Open(ctx, path, log.Logger)
		if err != nil {
			closePlugins(ctx, plugins)
			return nil, err
		}
		plugins = append(plugins, p)
		if err := p.Register(reg); err != nil {
			closePlugins(ctx, plugins)
			return nil, err
		}
		log.Debug().Str("manifest", path).Strs("functions", p.Module.Names()).Msg("WASM functions registered")
	}
	return plugins, nil
}

func closePlugins(ctx context.Context, plugins []*wasm.Plugin) {
	for _, p := range plugins {
		if err := p.Close(ctx); err != nil {
			log.Warn().Err(err).Str("module", p.Manifest.Name).Msg("Failed to close WASM module")
		}
	}
}

func (rt *runtime) close(ctx context.Context) {
	closePlugins(ctx, rt.plugins)
	if err := rt.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}
