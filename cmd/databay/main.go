package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "databay",
	Short: "Run links on fixed intervals",
	Long: `databay schedules links (named tasks) on fixed intervals and runs their
transfers in the background.

Examples:
  databay run --config ./databay.yaml           # run until SIGINT/SIGTERM
  databay validate --config ./databay.yaml      # check a config and exit
  databay history --link heartbeat -n 20        # show recent transfers`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./databay.yaml", "path to config (yaml or json)")
	rootCmd.AddCommand(runCmd, validateCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
