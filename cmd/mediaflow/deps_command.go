package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediaflow/internal/api"
	"mediaflow/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Check the external tools required by the active stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := deps.CheckBinaries(deps.Requirements(cfg))
			if asJSON {
				return writeJSON(cmd, api.FromDependencies(statuses))
			}
			out := cmd.OutOrStdout()
			for _, line := range dependencyLines(api.FromDependencies(statuses), shouldColorize(out)) {
				fmt.Fprintln(out, line)
			}
			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required tool(s) missing", len(missing))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
