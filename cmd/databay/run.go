package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"databay/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the planner and block until a signal arrives",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		return a.Run(ctx)
	},
}
