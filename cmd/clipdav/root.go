package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spideyz0r/clipdav/pkg/config"
	"github.com/spideyz0r/clipdav/pkg/storage"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "clipdav",
		Short: "clipdav - clipboard history over WebDAV",
		Long: "clipdav receives clipboard-sync uploads over WebDAV, records every\n" +
			"clipboard change in SQLite and serves the history through an HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(), "config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output (debug logging)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newInitCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newBackupCommand(opts))
	cmd.AddCommand(newBrowseCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func defaultConfigPath() string {
	if p := os.Getenv("CLIPDAV_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath()
}

// load reads the configuration and builds the logger every command uses.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}

	logger, err := newLogger(cfg.Log, o.verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	return cfg, logger, nil
}

func newLogger(lc config.LogConfig, verbose bool, w io.Writer) (*slog.Logger, error) {
	level, err := lc.SlogLevel()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

// openDB opens the configured database. Callers close it.
func openDB(cfg *config.Config) (*storage.DB, error) {
	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	return db, nil
}

func closeDB(db *storage.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Error("error closing database", "error", err)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clipdav version %s\n", version)
		},
	}
}
