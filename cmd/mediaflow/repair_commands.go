package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"mediaflow/internal/api"
	"mediaflow/internal/daemonrun"
)

func newRepairCommand(ctx *commandContext) *cobra.Command {
	var actor string
	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Operator tools for stuck or corrupt processes",
	}
	repairCmd.PersistentFlags().StringVar(&actor, "actor", "", "Name recorded in the process history (default: current user)")

	repairCmd.AddCommand(newForceAdvanceCommand(ctx, &actor))
	repairCmd.AddCommand(newForceCompleteCommand(ctx, &actor))
	repairCmd.AddCommand(newRepairRecordCommand(ctx, &actor))
	repairCmd.AddCommand(newRepairCorruptCommand(ctx))
	return repairCmd
}

func resolveActor(flag *string) string {
	if flag != nil {
		if value := strings.TrimSpace(*flag); value != "" {
			return value
		}
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "operator"
}

func newForceAdvanceCommand(ctx *commandContext, actor *string) *cobra.Command {
	var resultPath string
	cmd := &cobra.Command{
		Use:   "force-advance <process-id> <stage>",
		Short: "Re-issue a stage, or record its result from --result",
		Long: "Without --result the stage is issued again with a fresh job.\n" +
			"With --result (a JSON stage result, '-' for stdin) the stage is recorded as succeeded\n" +
			"and its dependents are issued.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.ForceAdvanceRequest{Stage: args[1], Actor: resolveActor(actor)}
			if resultPath != "" {
				data, err := readResultFile(cmd.InOrStdin(), resultPath)
				if err != nil {
					return err
				}
				req.Result = data
			}
			return ctx.withAPI(cmd.Context(), func(backend processAPI, _ bool) error {
				if err := backend.ForceAdvance(cmd.Context(), args[0], req); err != nil {
					return err
				}
				view, err := backend.Process(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stage %s advanced; process is %s (%.1f%%)\n", args[1], view.Status, view.Progress.Percentage)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&resultPath, "result", "", "JSON stage result file ('-' reads stdin)")
	return cmd
}

func readResultFile(stdin io.Reader, path string) (json.RawMessage, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("result in %s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}

func newForceCompleteCommand(ctx *commandContext, actor *string) *cobra.Command {
	return &cobra.Command{
		Use:   "force-complete <process-id>",
		Short: "Mark a process completed when every required field is present",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAPI(cmd.Context(), func(backend processAPI, _ bool) error {
				if err := backend.ForceComplete(cmd.Context(), args[0], api.ForceCompleteRequest{Actor: resolveActor(actor)}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Process %s completed\n", args[0])
				return nil
			})
		},
	}
}

func newRepairRecordCommand(ctx *commandContext, actor *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "record <process-id>",
		Aliases: []string{"migrate"},
		Short: "Normalize fields of a process record that fail validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAPI(cmd.Context(), func(backend processAPI, _ bool) error {
				resp, err := backend.Repair(cmd.Context(), args[0], api.RepairRequest{Actor: resolveActor(actor)})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Repairs) == 0 {
					fmt.Fprintf(out, "Process %s needed no repairs\n", resp.ID)
					return nil
				}
				rows := make([][]string, 0, len(resp.Repairs))
				for _, r := range resp.Repairs {
					rows = append(rows, []string{r.Field, r.Action, r.Before})
				}
				fmt.Fprint(out, renderTable([]string{"Field", "Action", "Previous Value"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newRepairCorruptCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "corrupt",
		Short: "List processes whose stored record fails validation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				ids, err := rt.Service.CorruptIDs(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(ids) == 0 {
					fmt.Fprintln(out, "No corrupt processes")
					return nil
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			})
		},
	}
}
