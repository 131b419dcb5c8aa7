package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spideyz0r/clipdav/pkg/config"
)

func newInitCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the data directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, rootOpts)
		},
	}
}

func runInit(cmd *cobra.Command, rootOpts *rootOptions) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "clipdav - Setup")
	fmt.Fprintln(out, "===============")
	fmt.Fprintln(out)

	// Save default config if it doesn't exist
	_, err := os.Stat(rootOpts.configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := config.Default().Save(rootOpts.configPath); err != nil {
			return fmt.Errorf("error saving config: %w", err)
		}
		fmt.Fprintf(out, "✓ Created config file: %s\n", rootOpts.configPath)
	case err != nil:
		return fmt.Errorf("error checking config file: %w", err)
	default:
		fmt.Fprintf(out, "✓ Config file already exists: %s\n", rootOpts.configPath)
	}

	cfg, logger, err := rootOpts.load(cmd)
	if err != nil {
		return err
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Created data directory: %s\n", cfg.DataDir())

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	closeDB(db, logger)
	fmt.Fprintf(out, "✓ Initialized database: %s\n", cfg.DatabasePath())

	msg := fmt.Sprintf("Run 'clipdav serve' and point your sync client at http://<host>:%d%s", cfg.Server.Port, cfg.Server.DAVPrefix)
	fmt.Fprintln(out, "\n"+strings.Repeat("=", len(msg)))
	fmt.Fprintln(out, msg)
	fmt.Fprintln(out, strings.Repeat("=", len(msg)))

	return nil
}
