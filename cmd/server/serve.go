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

	"race-sync-service/internal/api"
	"race-sync-service/internal/database"
	"race-sync-service/internal/logger"
	"race-sync-service/internal/racing"
	"race-sync-service/internal/store"
	"race-sync-service/internal/sync"
	"race-sync-service/internal/tvg"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API and the scheduled sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		logger.Log.Info("Starting race sync service")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stateStore, err := store.NewSQLStore(ctx, cfg.StateStorage, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init state store: %w", err)
		}
		defer stateStore.Close()

		db := database.NewDatabase(cfg.Database)
		repo := racing.NewRepository(db, cfg.Sync)

		hub := api.NewHub(cfg.Server.CorsOrigins)
		hub.Start()
		defer hub.Stop()

		syncManager := sync.NewManager(cfg, tvg.NewClient(cfg.Fetch), repo, stateStore, hub)
		defer syncManager.Stop()

		scheduler, err := sync.NewScheduler(cfg.Scheduler, syncManager)
		if err != nil {
			return err
		}
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer scheduler.Stop()
		if next := scheduler.Next(); !next.IsZero() {
			logger.Log.Info("Next scheduled sync", zap.Time("at", next))
		}

		handler := api.NewHandler(cfg.Server, syncManager, stateStore, repo, db, hub)
		server := &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.Server.GetReadTimeout(),
			WriteTimeout: cfg.Server.GetWriteTimeout(),
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Log.Info("Server listening", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		}

		logger.Log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
