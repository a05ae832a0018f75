package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tsmill/internal/daemon"
	"tsmill/internal/logging"
	"tsmill/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Inspect and clean the staging directory",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List staged copies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			files, err := staging.List(cfg.Paths.StagingDir)
			if err != nil {
				return fmt.Errorf("list staging directory: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "No staged copies found")
				return nil
			}

			fmt.Fprintf(out, "Staging directory: %s\n\n", cfg.Paths.StagingDir)
			var totalSize int64
			rows := make([][]string, 0, len(files))
			for _, file := range files {
				totalSize += file.Size
				rows = append(rows, []string{
					file.Name,
					formatDuration(time.Since(file.ModTime).Truncate(time.Minute)),
					formatBytes(file.Size),
					yesNo(file.Partial),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"File", "Age", "Size", "Partial"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "\nTotal: %d files, %s\n", len(files), formatBytes(totalSize))
			return nil
		},
	}
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove leftover staged copies",
		Long: `Remove staged copies left behind by an aborted or crashed run.

Staged copies keep the source modification time, so --older-than measures the
age of the recording. Without --older-than every staged copy is removed.
Refuses to run while tsmill is converting from the same log directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			running, err := daemon.IsRunning(cfg)
			if err != nil {
				return err
			}
			if running {
				return errors.New("tsmill is running; stop it before cleaning the staging directory")
			}

			maxAge := olderThan
			if maxAge <= 0 {
				// CleanStale treats zero as disabled.
				maxAge = time.Nanosecond
			}
			result := staging.CleanStale(cmd.Context(), cfg.Paths.StagingDir, maxAge, logging.NewNop())
			return printStagingCleanResult(cmd, result)
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only remove copies older than this duration (for example 24h)")
	return cmd
}

func printStagingCleanResult(cmd *cobra.Command, result staging.CleanStaleResult) error {
	out := cmd.OutOrStdout()
	if len(result.Removed) == 0 && len(result.Errors) == 0 {
		fmt.Fprintln(out, "No staged copies to clean")
		return nil
	}
	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "Removed %d staged copies, %d errors\n", len(result.Removed), len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
		}
		return fmt.Errorf("%d staged copies could not be removed", len(result.Errors))
	}
	fmt.Fprintf(out, "Removed %d staged copies\n", len(result.Removed))
	return nil
}
