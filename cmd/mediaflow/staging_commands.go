package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mediaflow/internal/daemonrun"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Inspect and prune per-process staging directories",
	}
	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))
	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List staging directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stagingDir := strings.TrimSpace(cfg.Paths.StagingDir)
			dirs, err := staging.ListDirectories(stagingDir)
			if err != nil {
				return fmt.Errorf("list staging directories: %w", err)
			}
			var totalSize int64
			for _, dir := range dirs {
				totalSize += dir.Size
			}
			if asJSON {
				if dirs == nil {
					dirs = []staging.DirInfo{}
				}
				return writeJSON(cmd, map[string]any{
					"staging_dir":      stagingDir,
					"directories":      dirs,
					"total_size_bytes": totalSize,
				})
			}

			out := cmd.OutOrStdout()
			if len(dirs) == 0 {
				fmt.Fprintln(out, "No staging directories found")
				return nil
			}
			fmt.Fprintf(out, "Staging directory: %s\n\n", stagingDir)
			rows := make([][]string, 0, len(dirs))
			for _, dir := range dirs {
				rows = append(rows, []string{
					dir.Name,
					formatAge(time.Since(dir.ModTime)),
					humanize.IBytes(uint64(max(dir.Size, 0))),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Process", "Age", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			fmt.Fprintf(out, "\nTotal: %d directories, %s\n", len(dirs), humanize.IBytes(uint64(max(totalSize, 0))))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove staging directories of deleted or finished processes",
		Long: `Remove staging directories whose process was deleted or reached a
terminal status. Directories of processes still in flight are never removed.

By default only directories older than workflow.staging_retention_hours are
considered; use --older-than to override.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("older-than") {
				olderThan = cfg.StagingRetention()
			}
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				lookup := func(ctx context.Context, id string) (pipeline.Status, error) {
					p, err := rt.Store.Load(ctx, id)
					if err != nil {
						return "", err
					}
					return p.Status, nil
				}
				result := staging.CleanOrphaned(cmd.Context(), cfg.Paths.StagingDir, olderThan, lookup, nil)
				if asJSON {
					errs := make([]string, 0, len(result.Errors))
					for _, e := range result.Errors {
						errs = append(errs, fmt.Sprintf("%s: %v", e.Path, e.Error))
					}
					return writeJSON(cmd, map[string]any{
						"removed": len(result.Removed),
						"errors":  errs,
					})
				}
				out := cmd.OutOrStdout()
				if len(result.Removed) == 0 && len(result.Errors) == 0 {
					fmt.Fprintln(out, "No staging directories to clean")
					return nil
				}
				fmt.Fprintf(out, "Removed %d staging directories", len(result.Removed))
				if len(result.Errors) > 0 {
					fmt.Fprintf(out, ", %d errors", len(result.Errors))
				}
				fmt.Fprintln(out)
				for _, e := range result.Errors {
					fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Minimum directory age (default from workflow.staging_retention_hours)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
