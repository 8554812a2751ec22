package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/openfroyo/ctxresolver/pkg/config"
	"github.com/openfroyo/ctxresolver/pkg/engine"
	"github.com/openfroyo/ctxresolver/pkg/httpctx"
	"github.com/openfroyo/ctxresolver/pkg/resolver"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// customSchema is the registry name of a schema given as a .cue file.
const customSchema = "custom"

func newResolveCommand(s *settings) *cobra.Command {
	var (
		sources      sourceFlags
		scopeName    string
		overwriteKey string
		schema       string
		headers      map[string]string
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "resolve [files...]",
		Short: "Resolve a configuration tree and print it",
		Long: `Load the given files (or base.yml + server.<env>.yaml from --dir), resolve
every placeholder and print the result.

In STARTUP scope overwrite_from_context sections are left out, exactly as a
server does at boot. In REQUEST scope the tree is resolved against a
synthetic request built from --header and the sections are applied.`,
		Example: `  # Resolve the defaults in ./config for the prod overlay
  ctxresolve resolve --dir ./config --env prod

  # Preview a request-time view
  ctxresolve resolve app.yaml --scope request --header x-token=abc

  # Check the result against a CUE schema
  ctxresolve resolve app.yaml --schema ./schema.cue --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			scope, err := engine.ParseScope(scopeName)
			if err != nil {
				return err
			}

			loader, err := sources.loader(args)
			if err != nil {
				return err
			}
			raw, err := loader.Load(ctx)
			if err != nil {
				return err
			}

			rt, err := s.newRuntime(ctx, s.telemetryConfig())
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			h, err := httpctx.New(httpctx.Options{
				Resolver:     rt.resolver,
				Raw:          raw,
				OverwriteKey: overwriteKey,
				Logger:       log.Logger,
				Telemetry:    rt.tel,
			})
			if err != nil {
				return err
			}
			if err := h.Startup(ctx); err != nil {
				return err
			}

			resolved, _ := h.Resolved()
			if scope == engine.ScopeRequest {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/", nil)
				if err != nil {
					return err
				}
				for k, v := range headers {
					req.Header.Set(k, v)
				}
				if resolved, err = h.ResolveRequest(ctx, req, uuid.New().String()); err != nil {
					return err
				}
			}

			if schema != "" {
				if err := validateSchema(cmd, schema, resolved); err != nil {
					return err
				}
			}

			return writeTree(cmd.OutOrStdout(), resolved, jsonOutput)
		},
	}

	sources.register(cmd)
	cmd.Flags().StringVar(&scopeName, "scope", string(engine.ScopeStartup), "resolution scope (STARTUP or REQUEST)")
	cmd.Flags().StringVar(&overwriteKey, "overwrite-key", resolver.DefaultOverwriteKey, "key of the sections applied per request")
	cmd.Flags().StringVar(&schema, "schema", "", "built-in schema name or .cue file to validate the result against")
	cmd.Flags().StringToStringVar(&headers, "header", nil, "request header for REQUEST scope (name=value)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func validateSchema(cmd *cobra.Command, schema string, tree map[string]interface{}) error {
	sr := config.NewSchemaRegistry()
	name := schema
	if filepath.Ext(schema) == ".cue" {
		if err := sr.RegisterSchemaFile(customSchema, schema); err != nil {
			return err
		}
		name = customSchema
	}
	if err := sr.Validate(cmd.Context(), name, tree); err != nil {
		return fmt.Errorf("schema %s: %w", schema, err)
	}
	return nil
}

func writeTree(w io.Writer, tree interface{}, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tree)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(tree); err != nil {
		return err
	}
	return enc.Close()
}
