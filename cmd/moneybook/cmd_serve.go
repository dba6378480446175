package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tanq16/moneybook/internal/api"
	"github.com/tanq16/moneybook/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard and JSON API",
	Long: `Starts the HTTP server. With SYNC_ON_LOAD every page load syncs first;
with SYNC_INTERVAL a background loop syncs on a timer as well.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	reporter, mapping, err := reporterFor(cfg)
	if err != nil {
		return err
	}
	if cfg.Server.DashboardPassword == "" {
		logger.Warn("DASHBOARD_PASSWORD_HASH not set, dashboard is open to anyone who can reach it")
	}
	handler := api.NewHandler(a.store, a.syncer, api.Options{
		PasswordHash: cfg.Server.DashboardPassword,
		SyncOnLoad:   cfg.Server.SyncOnLoad,
		Reporter:     reporter,
		Mapping:      mapping,
	}, logger)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.Server.SyncInterval > 0 {
		g.Go(func() error {
			a.syncer.Loop(gctx, cfg.Server.SyncInterval)
			return nil
		})
	}
	if cfg.Server.SessionCleanupPeriod > 0 {
		g.Go(func() error {
			cleanupSessions(gctx, a.store, cfg.Server.SessionCleanupPeriod)
			return nil
		})
	}
	return g.Wait()
}

func cleanupSessions(ctx context.Context, store storage.Storage, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := store.DeleteExpiredSessions(now); err != nil {
				logger.Warn("failed to delete expired sessions", zap.Error(err))
			}
		}
	}
}
