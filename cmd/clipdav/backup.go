package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/spideyz0r/clipdav/pkg/backup"
	"github.com/spideyz0r/clipdav/pkg/crypto"
)

func newBackupCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore database backups",
	}

	cmd.AddCommand(newBackupCreateCommand(rootOpts))
	cmd.AddCommand(newBackupListCommand(rootOpts))
	cmd.AddCommand(newBackupRestoreCommand(rootOpts))

	return cmd
}

func newBackupCreateCommand(rootOpts *rootOptions) *cobra.Command {
	var encrypt bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Snapshot the database into the backup directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}

			opts := backup.Options{
				Dir:        cfg.Backup.Dir,
				Keep:       cfg.Backup.Keep,
				Passphrase: cfg.Backup.Passphrase,
			}
			if encrypt {
				if opts.Passphrase, err = promptForPassphrase(cmd.ErrOrStderr()); err != nil {
					return err
				}
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db, logger)

			info, err := backup.Run(cmd.Context(), db, opts)
			if err != nil {
				return fmt.Errorf("error creating backup: %w", err)
			}

			label := ""
			if info.Encrypted {
				label = ", encrypted"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Backup created: %s (%s%s)\n", info.Path, humanize.IBytes(uint64(info.Size)), label)
			return nil
		},
	}

	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "prompt for a passphrase instead of using backup.passphrase")

	return cmd
}

func newBackupListCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}

			backups, err := backup.List(cfg.Backup.Dir)
			if err != nil {
				return fmt.Errorf("error listing backups: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(backups) == 0 {
				fmt.Fprintf(out, "No backups in %s\n", cfg.Backup.Dir)
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tHOST\tCREATED\tSIZE\tENCRYPTED")
			for _, b := range backups {
				enc := "no"
				if b.Encrypted {
					enc = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					b.Filename, b.Hostname, humanize.Time(b.Timestamp), humanize.IBytes(uint64(b.Size)), enc)
			}
			return tw.Flush()
		},
	}
}

func newBackupRestoreCommand(rootOpts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Replace the database with the content of a backup",
		Long: "Replace the database with the content of a backup. Stop 'clipdav serve'\n" +
			"first: the running server keeps the old database open.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}

			src := args[0]
			if filepath.Dir(src) == "." {
				if _, err := os.Stat(src); os.IsNotExist(err) {
					src = filepath.Join(cfg.Backup.Dir, src)
				}
			}

			dst := cfg.DatabasePath()
			if !yes {
				return fmt.Errorf("restore replaces %s; rerun with --yes to proceed", dst)
			}

			data, err := os.ReadFile(src)
			if err != nil {
				return fmt.Errorf("error reading backup: %w", err)
			}
			passphrase := cfg.Backup.Passphrase
			if crypto.IsEncrypted(data) && passphrase == "" {
				if passphrase, err = promptForDecryptPassphrase(cmd.ErrOrStderr()); err != nil {
					return err
				}
			}

			if err := backup.Restore(src, dst, passphrase); err != nil {
				return fmt.Errorf("error restoring backup: %w", err)
			}

			logger.Info("database restored", "backup", src, "database", dst)
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Restored %s from %s\n", dst, src)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "replace the database without asking")

	return cmd
}
