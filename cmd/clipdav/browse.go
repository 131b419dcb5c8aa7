package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spideyz0r/clipdav/pkg/search"
	"github.com/spideyz0r/clipdav/pkg/storage"
)

func newBrowseCommand(rootOpts *rootOptions) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "browse [query]",
		Short: "Pick a clipboard record interactively and print it",
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

			records, err := search.Recent(cmd.Context(), db, storage.QueryFilters{Kind: storage.Kind(kind)}, cfg.Search.Limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No history records found")
				return nil
			}

			selected, err := search.Pick(records, strings.Join(args, " "), loc)
			if errors.Is(err, search.ErrAborted) {
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), search.Selection(selected, cfg.DataDir()))
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "type", "", "only records of this type")

	return cmd
}
