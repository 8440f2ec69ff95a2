package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mediaflow/internal/daemonrun"
	"mediaflow/internal/logging"
	"mediaflow/internal/stageexec"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:    "worker",
		Short:  "Stage worker entrypoints (internal)",
		Hidden: true,
	}
	workerCmd.AddCommand(&cobra.Command{
		Use:   "exec",
		Short: "Run one stage request from stdin and write the reply to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			// stdout carries the reply envelope, so logs go to stderr.
			logger, err := logging.New(logging.Options{
				Level:   ctx.resolvedLogLevel(cfg),
				Format:  "json",
				Outputs: []string{"stderr"},
			})
			if err != nil {
				return err
			}
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			registry, err := daemonrun.Registry(runCtx, cfg, logger)
			if err != nil {
				return err
			}
			return stageexec.Serve(runCtx, registry, os.Stdin, os.Stdout, logger)
		},
	})
	return workerCmd
}
