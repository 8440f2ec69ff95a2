package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediaflow/internal/daemonrun"
)

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep against the local database",
		Long: "Writes back stage results that finished in the queue but never reached the\n" +
			"process record, re-enqueues lost jobs and records unreported failures.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				report, err := rt.Reconciler.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, report)
				}
				out := cmd.OutOrStdout()
				if report.Candidates == 0 && report.StagingRemoved == 0 {
					fmt.Fprintln(out, "No processes needed reconciliation")
					return nil
				}
				rows := [][]string{
					{"Candidates", fmt.Sprint(report.Candidates)},
					{"Results written back", fmt.Sprint(report.WrittenBack)},
					{"Jobs re-enqueued", fmt.Sprint(report.Reenqueued)},
					{"Failures recorded", fmt.Sprint(report.FailuresRecorded)},
					{"Invalid results", fmt.Sprint(report.Invalid)},
					{"Skipped", fmt.Sprint(report.Skipped)},
					{"Errors", fmt.Sprint(report.Errors)},
					{"Staging dirs removed", fmt.Sprint(report.StagingRemoved)},
				}
				fmt.Fprint(out, renderTable([]string{"Reconciliation", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
