package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"race-sync-service/internal/database"
	"race-sync-service/internal/racing"
	"race-sync-service/internal/store"
	"race-sync-service/internal/sync"
	"race-sync-service/internal/tvg"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the race schedule once and upsert it",
	Long: `Run one synchronisation in the foreground, with the configured retries,
and exit non-zero if every attempt failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stateStore, err := store.NewSQLStore(ctx, cfg.StateStorage, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init state store: %w", err)
		}
		defer stateStore.Close()

		repo := racing.NewRepository(database.NewDatabase(cfg.Database), cfg.Sync)
		manager := sync.NewManager(cfg, tvg.NewClient(cfg.Fetch), repo, stateStore, nil)
		return manager.Run(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the tvg schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		return database.Migrate(cfg.Database.ConnString())
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(migrateCmd)
}
