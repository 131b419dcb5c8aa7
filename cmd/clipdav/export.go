package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spideyz0r/clipdav/pkg/export"
	"github.com/spideyz0r/clipdav/pkg/history"
	"github.com/spideyz0r/clipdav/pkg/storage"
)

type exportOptions struct {
	format    string
	output    string
	search    string
	kind      string
	favorited bool
	start     string
	end       string
	limit     int
	encrypt   bool
}

func newExportCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export clipboard history as text, JSON or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "export format (text, json, csv)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "output file (- for stdout)")
	cmd.Flags().StringVar(&opts.search, "search", "", "filter by search term")
	cmd.Flags().StringVar(&opts.kind, "type", "", "filter by record type (Text, Image, File, Group)")
	cmd.Flags().BoolVar(&opts.favorited, "favorited", false, "only favorited records (--favorited=false for the rest)")
	cmd.Flags().StringVar(&opts.start, "start", "", "earliest capture time (ISO 8601)")
	cmd.Flags().StringVar(&opts.end, "end", "", "latest capture time (ISO 8601)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "limit number of results (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.encrypt, "encrypt", false, "encrypt the export with a passphrase")

	return cmd
}

func runExport(cmd *cobra.Command, rootOpts *rootOptions, opts *exportOptions) error {
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	cfg, logger, err := rootOpts.load(cmd)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	filters := storage.QueryFilters{
		Kind:   storage.Kind(opts.kind),
		Search: opts.search,
		Limit:  opts.limit,
	}
	if cmd.Flags().Changed("favorited") {
		filters.Favorited = &opts.favorited
	}
	if filters.After, err = parseBound(opts.start, loc); err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	if filters.Before, err = parseBound(opts.end, loc); err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	exportOpts := export.Options{
		Format:   format,
		Filters:  filters,
		Location: loc,
	}
	if opts.encrypt {
		if exportOpts.Passphrase, err = promptForPassphrase(cmd.ErrOrStderr()); err != nil {
			return err
		}
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db, logger)

	if opts.output == "-" {
		if err := export.Export(cmd.Context(), db, cmd.OutOrStdout(), exportOpts); err != nil {
			return fmt.Errorf("error exporting: %w", err)
		}
		return nil
	}

	// Exports may be decrypted clipboard contents
	f, err := os.OpenFile(opts.output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	if err := export.Export(cmd.Context(), db, f, exportOpts); err != nil {
		f.Close()
		return fmt.Errorf("error exporting: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error writing output file: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported to %s\n", opts.output)
	return nil
}

func parseBound(value string, loc *time.Location) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := history.ParseTime(value, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
