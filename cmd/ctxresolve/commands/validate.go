package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/openfroyo/ctxresolver/pkg/engine"
	"github.com/openfroyo/ctxresolver/pkg/resolver"
	"github.com/openfroyo/ctxresolver/pkg/template"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// problem is one placeholder that would fail to resolve.
type problem struct {
	Location    string `json:"location"`
	Placeholder string `json:"placeholder"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

func newValidateCommand(s *settings) *cobra.Command {
	var (
		sources      sourceFlags
		overwriteKey string
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "validate [files...]",
		Short: "Check every placeholder without resolving",
		Long: `Walk the raw configuration tree and report every placeholder that would
fail to resolve:
  - malformed placeholders and invalid function names
  - paths rejected by the security validator
  - calls to unregistered compute functions
  - REQUEST functions used outside overwrite_from_context sections
  - paths and functions denied by policy

Exits non-zero when any problem is found.`,
		Example: `  # Validate the defaults in ./config
  ctxresolve validate --dir ./config

  # Include starlark functions and a policy directory
  ctxresolve validate app.yaml --starlark fns.star --policy ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

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

			v := &treeValidator{rt: rt, overwriteKey: overwriteKey}
			v.walk(ctx, "", raw, engine.ScopeStartup)

			log.Info().
				Strs("files", loader.Files()).
				Int("problems", len(v.problems)).
				Msg("Validation finished")

			if err := writeProblems(cmd.OutOrStdout(), v.problems, jsonOutput); err != nil {
				return err
			}
			if len(v.problems) > 0 {
				return fmt.Errorf("found %d problem(s)", len(v.problems))
			}
			return nil
		},
	}

	sources.register(cmd)
	cmd.Flags().StringVar(&overwriteKey, "overwrite-key", resolver.DefaultOverwriteKey, "key of the sections applied per request")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

type treeValidator struct {
	rt           *runtime
	overwriteKey string
	problems     []problem
}

// walk visits node in sorted key order. Values under an overwrite section
// are checked in REQUEST scope, everything else in STARTUP scope.
func (v *treeValidator) walk(ctx context.Context, location string, node interface{}, scope engine.Scope) {
	switch n := node.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			childScope := scope
			if k == v.overwriteKey {
				childScope = engine.ScopeRequest
			}
			v.walk(ctx, joinLocation(location, k), n[k], childScope)
		}
	case []interface{}:
		for i, item := range n {
			v.walk(ctx, location+"["+strconv.Itoa(i)+"]", item, scope)
		}
	case string:
		placeholders := template.FindAll(n)
		if len(placeholders) == 0 {
			if _, err := template.Parse(n); err != nil {
				v.report(location, n, err)
			}
			return
		}
		for _, ph := range placeholders {
			if err := v.check(ctx, ph.Raw, scope); err != nil {
				v.report(location, ph.Raw, err)
			}
		}
	}
}

func (v *treeValidator) report(location, placeholder string, err error) {
	v.problems = append(v.problems, problem{
		Location:    location,
		Placeholder: placeholder,
		Code:        string(engine.CodeOf(err)),
		Message:     err.Error(),
	})
}

func (v *treeValidator) check(ctx context.Context, raw string, scope engine.Scope) error {
	expr, err := template.Parse(raw)
	if err != nil {
		return err
	}

	switch expr.Kind {
	case template.KindCompute:
		reg := v.rt.registry
		fnScope, ok := reg.Scope(expr.Function)
		if !ok {
			return engine.NewComputeNotFoundError(expr.Function)
		}
		if fnScope == engine.ScopeRequest && scope == engine.ScopeStartup {
			return engine.NewScopeViolationError(expr.Function, fnScope, scope)
		}
		return v.rt.policy.CheckFunction(ctx, expr.Function, scope)
	case template.KindTemplate:
		if err := template.ValidatePath(expr.Path); err != nil {
			return err
		}
		return v.rt.policy.CheckPath(ctx, expr.Path, scope)
	}
	return nil
}

func joinLocation(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func writeProblems(w io.Writer, problems []problem, asJSON bool) error {
	if asJSON {
		if problems == nil {
			problems = []problem{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(problems)
	}

	if len(problems) == 0 {
		_, err := fmt.Fprintln(w, "OK: no problems found")
		return err
	}
	for _, p := range problems {
		if _, err := fmt.Fprintf(w, "%s: %s [%s] %s\n", p.Location, p.Placeholder, p.Code, p.Message); err != nil {
			return err
		}
	}
	return nil
}
