package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spideyz0r/clipdav/pkg/api"
	"github.com/spideyz0r/clipdav/pkg/auth"
	"github.com/spideyz0r/clipdav/pkg/backup"
	"github.com/spideyz0r/clipdav/pkg/capture"
	"github.com/spideyz0r/clipdav/pkg/config"
	"github.com/spideyz0r/clipdav/pkg/davserver"
	"github.com/spideyz0r/clipdav/pkg/history"
	"github.com/spideyz0r/clipdav/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebDAV share and the history API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.host and server.port)")

	return cmd
}

func runServe(cmd *cobra.Command, rootOpts *rootOptions, addr string) error {
	cfg, logger, err := rootOpts.load(cmd)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Addr()
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db, logger)

	handler, gate, err := buildHandler(cfg, db, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go gate.RunSweeper(ctx, cfg.Auth.SweepInterval)
	go backup.Schedule(ctx, cfg.Backup.Interval, db, backup.Options{
		Dir:        cfg.Backup.Dir,
		Keep:       cfg.Backup.Keep,
		Passphrase: cfg.Backup.Passphrase,
	}, logger)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started",
		"addr", addr,
		"webdav", cfg.Server.DAVPrefix,
		"data_dir", cfg.DataDir(),
		"database", cfg.DatabasePath(),
		"timezone", cfg.Timezone,
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// buildHandler assembles the capture pipeline, the WebDAV adapter and the API
// around an open database.
func buildHandler(cfg *config.Config, db *storage.DB, logger *slog.Logger) (http.Handler, *auth.Gate, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	gate, err := auth.NewGate(auth.Credentials{
		Username:     cfg.Auth.Username,
		Password:     cfg.Auth.Password,
		PasswordHash: cfg.Auth.PasswordHash,
	}, db, auth.Options{
		TTL:          cfg.Auth.SessionTTL,
		CookieSecure: cfg.Auth.CookieSecure,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("error configuring authentication: %w", err)
	}

	pipeline := capture.New(db, capture.Options{
		DataDir:  cfg.DataDir(),
		Location: loc,
		Logger:   logger,
	})

	dav := davserver.New(cfg.DataDir(), cfg.Server.DAVPrefix, logger)
	if err := dav.OnMaterialized("/"+capture.ManifestName, func(ctx context.Context, m davserver.Materialized) {
		pipeline.HandleManifest(ctx, m.LocalPath)
	}); err != nil {
		return nil, nil, err
	}

	srv, err := api.New(api.Options{
		History: history.New(db, cfg.DataDir(), loc, logger),
		Gate:    gate,
		DAV:     dav,
		Paths: api.Paths{
			DataDir:    cfg.DataDir(),
			HistoryDir: cfg.HistoryDir(),
			Database:   cfg.DatabasePath(),
		},
		StaticDir: cfg.Server.StaticDir,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, err
	}

	return srv.Handler(), gate, nil
}
