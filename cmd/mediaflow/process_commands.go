package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/pipeline"
)

func newProcessCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newSubmitCommand(ctx),
		newShowCommand(ctx),
		newListCommand(ctx),
		newDeleteCommand(ctx),
	}
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var tenant, correlationID string
	var wait time.Duration
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "submit <media-file>",
		Short: "Register a media file and start its pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mediaPath, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			if mediaPath, err = filepath.Abs(mediaPath); err != nil {
				return err
			}
			return ctx.withAPI(cmd.Context(), func(backend processAPI, offline bool) error {
				resp, err := backend.Submit(cmd.Context(), api.SubmitRequest{
					MediaPath:     mediaPath,
					Tenant:        tenant,
					CorrelationID: correlationID,
				})
				if err != nil {
					return err
				}
				if wait > 0 {
					view, err := waitForTerminal(cmd.Context(), backend, resp.ID, wait)
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, view)
					}
					renderProcess(cmd.OutOrStdout(), view, shouldColorize(cmd.OutOrStdout()))
					return nil
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Submitted %s (%s)\n", resp.ID, resp.Status)
				if offline {
					fmt.Fprintln(out, "Daemon is not running; jobs start when it does")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant that owns the process")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Caller reference stored with the process")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the process to finish")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func waitForTerminal(ctx context.Context, backend processAPI, id string, timeout time.Duration) (*api.StatusResponse, error) {
	deadline := time.Now().Add(timeout)
	for {
		view, err := backend.Process(ctx, id)
		if err != nil {
			return nil, err
		}
		if view.Status.Terminal() {
			return view, nil
		}
		if time.Now().After(deadline) {
			return view, fmt.Errorf("process %s still %s after %s", id, view.Status, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <process-id>",
		Short: "Show status, progress and errors for one process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAPI(cmd.Context(), func(backend processAPI, _ bool) error {
				view, err := backend.Process(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, view)
				}
				renderProcess(cmd.OutOrStdout(), view, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderProcess(out io.Writer, view *api.StatusResponse, colorize bool) {
	for _, line := range renderSectionHeader("Process "+view.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", processStatusKind(string(view.Status), len(view.Errors)), string(view.Status), colorize))
	progress := fmt.Sprintf("%.1f%%", view.Progress.Percentage)
	if step := strings.TrimSpace(view.Progress.CurrentStep); step != "" {
		progress += " (" + step + ")"
	}
	fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, progress, colorize))
	if details := strings.TrimSpace(view.Progress.StepDetails); details != "" {
		fmt.Fprintln(out, renderStatusLine("Details", statusInfo, details, colorize))
	}
	if view.Progress.EstimatedTimeRemaining > 0 {
		eta := time.Duration(view.Progress.EstimatedTimeRemaining * float64(time.Second)).Round(time.Second)
		fmt.Fprintln(out, renderStatusLine("Remaining", statusInfo, eta.String(), colorize))
	}
	if len(view.Corrupt) > 0 {
		fmt.Fprintln(out, renderStatusLine("Corrupt", statusError, strings.Join(view.Corrupt, ", ")+" (run repair record)", colorize))
	}

	rows := make([][]string, 0, len(view.Stages))
	for _, st := range pipeline.DefaultGraph().Stages() {
		state, ok := view.Stages[st]
		if !ok || state == nil {
			continue
		}
		units := ""
		if state.Units > 1 {
			units = fmt.Sprintf("%d/%d", len(state.Done), state.Units)
		}
		rows = append(rows, []string{string(st), string(state.Status), units, strconv.Itoa(state.Attempts), state.LastError})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out)
		fmt.Fprint(out, renderTable([]string{"Stage", "Status", "Units", "Attempts", "Last Error"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft}))
	}

	if len(view.Errors) > 0 {
		fmt.Fprintln(out)
		errRows := make([][]string, 0, len(view.Errors))
		for _, entry := range view.Errors {
			errRows = append(errRows, []string{entry.Timestamp.Local().Format("2006-01-02 15:04:05"), entry.Step, entry.Category, entry.Message})
		}
		fmt.Fprint(out, renderTable([]string{"Time", "Step", "Category", "Message"}, errRows, nil))
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var tenant string
	var limit uint64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAPI(cmd.Context(), func(backend processAPI, _ bool) error {
				items, err := backend.List(cmd.Context(), statuses, tenant, limit)
				if err != nil {
					return err
				}
				if asJSON {
					if items == nil {
						items = []api.ProcessItem{}
					}
					return writeJSON(cmd, api.ProcessListResponse{Items: items})
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No processes")
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					name := item.Title
					if name == "" {
						name = filepath.Base(item.MediaPath)
					}
					rows = append(rows, []string{
						item.ID,
						item.Status,
						fmt.Sprintf("%.1f%%", item.Percentage),
						name,
						strconv.Itoa(item.Errors),
						item.UpdatedAt,
					})
				}
				fmt.Fprint(out, renderTable([]string{"ID", "Status", "Progress", "Title", "Errors", "Updated"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft}))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Filter by tenant")
	cmd.Flags().Uint64Var(&limit, "limit", 0, "Maximum processes to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <process-id>",
		Short: "Delete a process record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAPI(cmd.Context(), func(backend processAPI, _ bool) error {
				if err := backend.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Process %s deleted\n", args[0])
				return nil
			})
		},
	}
}
