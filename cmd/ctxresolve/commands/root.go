package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/ctxresolver/pkg/resolver"
	"github.com/openfroyo/ctxresolver/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Viper keys of the global flags.
const (
	keyMaxDepth         = "max-depth"
	keyMissing          = "missing"
	keyConcurrency      = "concurrency"
	keyLogLevel         = "log-level"
	keyStarlark         = "starlark"
	keyRequestFunctions = "request-functions"
	keyWASM             = "wasm"
	keyPolicy           = "policy"
	keyAllowFunctions   = "allow-function"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	s := newSettings(version)

	rootCmd := &cobra.Command{
		Use:   "ctxresolve",
		Short: "Resolve {{...}} placeholders in configuration trees",
		Long: `ctxresolve loads YAML, JSON and CUE configuration and resolves the
placeholders in it against {env, config, app, state, request}.

Placeholders:
  {{env.HOME}}                      path lookup
  {{request.headers.x-token | ''}}  path lookup with a default literal
  {{fn:request_id}}                 compute function call

Compute functions are STARTUP scoped (run once, cached) or REQUEST scoped
(run on every request). Extra functions can be written in Starlark or
compiled to WebAssembly, and access can be restricted with Rego policies.

Every global flag can also be set through a CTXRESOLVE_<FLAG> environment
variable, e.g. CTXRESOLVE_MAX_DEPTH=20.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if level := s.v.GetString(keyLogLevel); level != "" {
				zerolog.SetGlobalLevel(telemetry.ParseLevel(level))
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.Int(keyMaxDepth, resolver.DefaultMaxDepth, "maximum nesting depth of resolved trees")
	flags.String(keyMissing, "ERROR", "missing value strategy (ERROR, DEFAULT, IGNORE)")
	flags.Int(keyConcurrency, 1, "sibling values resolved in parallel")
	flags.StringP(keyLogLevel, "l", "", "log level (debug, info, warn, error)")
	flags.StringSlice(keyStarlark, nil, "starlark scripts defining extra compute functions")
	flags.StringSlice(keyRequestFunctions, nil, "starlark functions registered with REQUEST scope")
	flags.StringSlice(keyWASM, nil, "WASM function manifests")
	flags.StringSlice(keyPolicy, nil, "rego policy files or directories")
	flags.StringSlice(keyAllowFunctions, nil, "restrict compute calls to these functions")

	if err := s.v.BindPFlags(flags); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(newResolveCommand(s))
	rootCmd.AddCommand(newValidateCommand(s))
	rootCmd.AddCommand(newFunctionsCommand(s))
	rootCmd.AddCommand(newServeCommand(s))

	return rootCmd
}

// settings holds flag and environment values for one command tree.
type settings struct {
	v       *viper.Viper
	version string
}

func newSettings(version string) *settings {
	v := viper.New()
	v.SetEnvPrefix("CTXRESOLVE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return &settings{v: v, version: version}
}
