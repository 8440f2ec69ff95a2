package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediaflow/internal/api"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect stage jobs",
	}
	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job counts per stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAPI(cmd.Context(), func(backend processAPI, _ bool) error {
				stats, err := backend.QueueStats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.QueueStatsResponse{Counts: stats})
				}
				renderQueueStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

var queueStatusColumns = []queue.Status{queue.StatusPending, queue.StatusRunning, queue.StatusSucceeded, queue.StatusFailed}

func renderQueueStats(out io.Writer, stats map[string]map[string]int) {
	rows := make([][]string, 0, len(stats))
	for _, st := range pipeline.DefaultGraph().Stages() {
		counts, ok := stats[string(st)]
		if !ok {
			continue
		}
		row := []string{string(st)}
		total := 0
		for _, status := range queueStatusColumns {
			row = append(row, strconv.Itoa(counts[string(status)]))
			total += counts[string(status)]
		}
		if total == 0 {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Stage", "Pending", "Running", "Succeeded", "Failed"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight}))
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var stageName, processID string
	var statuses []string
	var limit uint64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stage jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.ListFilter{ProcessID: strings.TrimSpace(processID), Limit: limit}
			if stageName != "" {
				st, ok := pipeline.ParseStage(stageName)
				if !ok {
					return fmt.Errorf("unknown stage %q", stageName)
				}
				filter.Stage = st
			}
			for _, status := range statuses {
				filter.Statuses = append(filter.Statuses, queue.Status(strings.TrimSpace(status)))
			}
			return ctx.withAPI(cmd.Context(), func(backend processAPI, _ bool) error {
				jobs, err := backend.Queue(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					if jobs == nil {
						jobs = []api.QueueJob{}
					}
					return writeJSON(cmd, api.QueueListResponse{Items: jobs})
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						job.Stage,
						job.ProcessID,
						strconv.Itoa(job.Unit),
						job.Status,
						fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
						job.LastError,
					})
				}
				fmt.Fprint(out, renderTable([]string{"Job", "Stage", "Process", "Unit", "Status", "Attempts", "Last Error"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft}))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", "", "Filter by stage")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().StringVar(&processID, "process", "", "Filter by process id")
	cmd.Flags().Uint64Var(&limit, "limit", 0, "Maximum jobs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
