package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tsmill/internal/config"
	"tsmill/internal/history"
	"tsmill/internal/queue"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var source string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded conversion attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return errors.New("history is disabled (set history.enabled = true)")
			}
			store, err := history.Open(cfg)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			var attempts []history.Attempt
			if strings.TrimSpace(source) != "" {
				path, err := config.ExpandPath(source)
				if err != nil {
					return err
				}
				attempts, err = store.ForSource(cmd.Context(), queue.NewSourceFile(path).Path)
				if err != nil {
					return err
				}
			} else {
				attempts, err = store.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if len(attempts) == 0 {
				fmt.Fprintln(out, "No attempts recorded")
				return nil
			}
			fmt.Fprint(out, renderAttempts(attempts))
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of recent attempts to show")
	cmd.Flags().StringVar(&source, "source", "", "Show every attempt for one source file")
	return cmd
}

func renderAttempts(attempts []history.Attempt) string {
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		exit := "-"
		if a.ExitCode != nil {
			exit = strconv.Itoa(*a.ExitCode)
		}
		detail := a.ErrorKind
		if a.ErrorMessage != "" {
			detail = strings.TrimSpace(detail + " " + a.ErrorMessage)
		}
		rows = append(rows, []string{
			formatTime(a.StartedAt),
			filepath.Base(a.SourcePath),
			strconv.Itoa(a.Attempt),
			string(a.Outcome),
			exit,
			formatDuration(a.Duration()),
			truncate(detail, 60),
		})
	}
	return renderTable(
		[]string{"Started", "Source", "Attempt", "Outcome", "Exit", "Took", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
