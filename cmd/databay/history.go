package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"databay/internal/app"
	"databay/internal/config"
	"databay/internal/history"
	logx "databay/pkg/logx"
)

var (
	historyLink  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent transfers from the sqlite history store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewManager(cfgPath).Parse()
		if err != nil {
			return err
		}
		hc, err := app.HistoryConfig(cfg.History)
		if err != nil {
			return err
		}
		// A memory store starts empty in a new process.
		if hc.Driver != config.HistorySQLite {
			return errors.WithHint(
				errors.Newf("history driver %q is not persistent", hc.Driver),
				`set history.driver: sqlite to keep transfer history on disk`,
			)
		}
		store, err := history.Open(hc, logx.Nop())
		if err != nil {
			return err
		}
		defer store.Close()

		recs, err := store.Recent(cmd.Context(), historyLink, historyLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STARTED\tLINK\tDURATION\tSTATUS")
		for _, r := range recs {
			status := "ok"
			if !r.OK {
				status = "failed: " + r.Err
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Started.Local().Format(time.DateTime), r.Link, r.Duration.Round(time.Millisecond), status)
		}
		return tw.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVarP(&historyLink, "link", "l", "", "only show this link")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of records")
}
