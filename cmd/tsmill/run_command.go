package main

import (
	"github.com/spf13/cobra"

	"tsmill/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the input directory and convert new files",
		Long: `Run tsmill in the foreground until interrupted.

Files already present in the input directory when tsmill starts are ignored.
The first SIGINT or SIGTERM lets the current conversion finish; a second one
kills ffmpeg.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	return cmd
}
