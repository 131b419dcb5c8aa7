package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spideyz0r/clipdav/pkg/stats"
)

func newStatsCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show clipboard history statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db, logger)

			statistics, err := stats.Collect(cmd.Context(), db)
			if err != nil {
				return fmt.Errorf("error collecting statistics: %w", err)
			}

			output := statistics.Format(loc, time.Now())
			if !strings.HasSuffix(output, "\n") {
				output += "\n"
			}
			fmt.Fprint(cmd.OutOrStdout(), output)
			return nil
		},
	}
}
