package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tsmill/internal/daemon"
	"tsmill/internal/history"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether tsmill is running and journal totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			running, err := daemon.IsRunning(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Running:      %s\n", yesNo(running))
			if running {
				if pid := readPID(cfg.PIDPath()); pid != "" {
					fmt.Fprintf(out, "PID:          %s\n", pid)
				}
			}
			fmt.Fprintf(out, "Input:        %s\n", cfg.Paths.InputDir)
			fmt.Fprintf(out, "Output:       %s\n", cfg.Paths.OutputDir)
			fmt.Fprintf(out, "Staging:      %s\n", cfg.Paths.StagingDir)
			fmt.Fprintf(out, "Max attempts: %d\n", cfg.Workflow.MaxAttempts)

			if !cfg.History.Enabled {
				fmt.Fprintln(out, "History:      disabled")
				return nil
			}
			store, err := history.Open(cfg)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()
			summary, err := store.Summary(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(out)
			fmt.Fprint(out, renderTable(
				[]string{"Outcome", "Attempts"},
				[][]string{
					{string(history.OutcomeSucceeded), fmt.Sprint(summary.Succeeded)},
					{string(history.OutcomeRetryPending), fmt.Sprint(summary.RetryPending)},
					{string(history.OutcomeAbandoned), fmt.Sprint(summary.Abandoned)},
					{string(history.OutcomeRunning), fmt.Sprint(summary.Running)},
					{"total", fmt.Sprint(summary.Total())},
				},
				[]columnAlignment{alignLeft, alignRight},
			))
			fmt.Fprintln(out)
			return nil
		},
	}
}

func readPID(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
