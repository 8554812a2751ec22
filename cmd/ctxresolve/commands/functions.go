package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newFunctionsCommand(s *settings) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "functions",
		Short: "List the registered compute functions",
		Long: `List the built-in compute functions and those defined by --starlark
scripts, with their scopes.`,
		Example: `  ctxresolve functions
  ctxresolve functions --starlark fns.star --request-functions tenant --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := s.newRuntime(ctx, s.telemetryConfig())
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			infos := rt.registry.Describe()
			out := cmd.OutOrStdout()

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			fmt.Fprintf(out, "%-24s %s\n", "NAME", "SCOPE")
			for _, info := range infos {
				fmt.Fprintf(out, "%-24s %s\n", info.Name, info.Scope)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}
