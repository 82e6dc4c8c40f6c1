package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"race-sync-service/internal/config"
	"race-sync-service/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "race-sync",
	Short: "Synchronise the TVG race schedule into PostgreSQL",
	Long: `race-sync fetches the open race schedule from TVG, upserts it into
tvg.races, and serves a dashboard API over the races and horse stable tables.

Database settings come from the config file, RACESYNC_* variables, or the
DB_NAME, DB_USER, DB_PWD and DB_URL variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the config file")
}

// setup loads the config and initialises the logger for a subcommand.
func setup() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var files []logger.FileConfig
	if cfg.Logging.File != "" {
		files = append(files, logger.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		})
	}
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format, files...); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, nil
}

func main() {
	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
