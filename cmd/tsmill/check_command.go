package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tsmill/internal/deps"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify ffmpeg and the configured video codec",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := deps.Check(cmd.Context(), cfg)

			rows := make([][]string, 0, len(results))
			missing := 0
			for _, status := range results {
				state := "ok"
				if !status.Available {
					state = "missing"
					if !status.Optional {
						missing++
					}
				}
				rows = append(rows, []string{status.Name, state, status.Command, status.Detail})
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderTable(
				[]string{"Dependency", "Status", "Command", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
			fmt.Fprintln(out)
			if missing > 0 {
				return fmt.Errorf("%d required dependencies unavailable", missing)
			}
			fmt.Fprintln(out, "All dependencies available")
			return nil
		},
	}
}
