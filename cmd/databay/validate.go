package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"databay/internal/config"
	"databay/internal/transfer"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a config file and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewManager(cfgPath).Parse()
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			out := cmd.ErrOrStderr()
			fmt.Fprintf(out, "%s: invalid config\n", cfgPath)
			fmt.Fprintln(out, err)
			if hints := errors.FlattenHints(err); hints != "" {
				fmt.Fprintln(out, "hint:", hints)
			}
			return errors.New("validation failed")
		}

		b := transfer.NewBuilder()
		enabled := 0
		for _, lc := range cfg.Links {
			if lc.Disabled {
				continue
			}
			if _, err := b.Link(lc); err != nil {
				return err
			}
			enabled++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d link(s), %d enabled)\n", cfgPath, len(cfg.Links), enabled)
		return nil
	},
}
