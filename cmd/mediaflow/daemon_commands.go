package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mediaflow/internal/api"
	"mediaflow/internal/daemonctl"
	"mediaflow/internal/daemonrun"
	"mediaflow/internal/deps"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var development bool
	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the mediaflow daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.resolvedLogLevel(cfg),
				Development: development,
				ConfigPath:  ctx.configPath,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in log output")
	return cmd
}

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the mediaflow daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), ctx.configValue(), exe, daemonLaunchOptions(ctx), 15*time.Second)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the mediaflow daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.configValue(), 30*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the mediaflow daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.Restart(cmd.Context(), ctx.configValue(), exe, daemonLaunchOptions(ctx), 30*time.Second, 15*time.Second)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if result.WasRunning {
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintf(stdout, "Daemon restarted (pid %d)\n", result.Start.PID)
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := buildStatusSnapshot(cmd, ctx)
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, status)
			}
			renderDaemonStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

// buildStatusSnapshot asks the daemon for its status and falls back to the
// local database and a dependency probe when it is down.
func buildStatusSnapshot(cmd *cobra.Command, ctx *commandContext) (*api.DaemonStatus, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	if client, err := daemonctl.NewClient(cfg); err == nil {
		status, err := client.Status(cmd.Context())
		if err == nil {
			return status, nil
		}
		if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
			return nil, err
		}
	}

	status := &api.DaemonStatus{
		DatabasePath: cfg.DatabasePath(),
		LockFilePath: cfg.LockPath(),
		Workers: api.WorkerStatus{
			Stages:           cfg.Workers.Stages,
			HeavyConcurrency: cfg.Workers.HeavyConcurrency,
			LightConcurrency: cfg.Workers.LightConcurrency,
			HeavyIsolation:   cfg.Workers.HeavyIsolation,
		},
		Dependencies: api.FromDependencies(deps.CheckBinaries(deps.Requirements(cfg))),
	}
	if alive, pid, _ := daemonctl.ProcessInfo(daemonctl.PIDPath(cfg)); alive {
		status.PID = pid
	}
	err = ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
		var err error
		if status.Processes, err = rt.Service.ProcessCounts(cmd.Context()); err != nil {
			return err
		}
		status.Queue, err = rt.Service.QueueStats(cmd.Context())
		return err
	})
	return status, err
}

func renderDaemonStatus(out io.Writer, status *api.DaemonStatus, colorize bool) {
	for _, line := range renderSectionHeader("System Status", colorize) {
		fmt.Fprintln(out, line)
	}
	switch {
	case status.Running:
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	case status.PID > 0:
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, fmt.Sprintf("Process %d alive but API unreachable", status.PID), colorize))
	default:
		fmt.Fprintln(out, renderStatusLine("Daemon", statusError, "Not running", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Workers", statusInfo, fmt.Sprintf("heavy %d (%s), light %d", status.Workers.HeavyConcurrency, status.Workers.HeavyIsolation, status.Workers.LightConcurrency), colorize))
	for _, h := range status.StageHealth {
		kind := statusOK
		if !h.Ready {
			kind = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine(h.Name, kind, h.Detail, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range dependencyLines(status.Dependencies, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Processes", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := countRows(status.Processes)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No processes")
	} else {
		fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Queue", colorize) {
		fmt.Fprintln(out, line)
	}
	renderQueueStats(out, status.Queue)
}

func countRows(counts map[string]int) [][]string {
	keys := make([]string, 0, len(counts))
	for key, count := range counts {
		if count > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, strconv.Itoa(counts[key])})
	}
	return rows
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{ConfigPath: ctx.configPath}
	if ctx.logLevelFlag != nil {
		opts.LogLevel = *ctx.logLevelFlag
	}
	return opts
}
