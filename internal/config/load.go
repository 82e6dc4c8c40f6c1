package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Table names used by the race schedule job and the dashboard.
const (
	RacesTable  = "tvg.races"
	HorsesTable = "tvg.horses"
)

// LoadConfig reads path (if it exists), then applies environment overrides.
// DB_NAME, DB_USER, DB_PWD and DB_URL set the target database; any other key
// can be overridden as RACESYNC_<SECTION>_<KEY>.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("racesync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"database.database": "DB_NAME",
		"database.user":     "DB_USER",
		"database.password": "DB_PWD",
		"database.host":     "DB_URL",
	} {
		if err := v.BindEnv(key, "RACESYNC_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "racing")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")

	v.SetDefault("state_storage.type", "postgres")
	v.SetDefault("state_storage.file_path", "race-sync-state.db")

	v.SetDefault("sync.tables", []map[string]any{
		{"name": RacesTable, "conflict_resolution": "overwrite", "batch_size": 10000, "primary_key": "race_id"},
		{"name": HorsesTable, "conflict_resolution": "overwrite", "batch_size": 10000, "editable": true},
	})

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "0 0 * * *")
	v.SetDefault("scheduler.timezone", "America/New_York")
	v.SetDefault("scheduler.retries", 3)
	v.SetDefault("scheduler.retry_delay", "60s")

	v.SetDefault("fetch.url", "https://service.tvg.com/graph/v2/query")
	v.SetDefault("fetch.wager_profile", "PORT-NY")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.rate_limit", 1.0)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.auth_token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.StateStorage.Type {
	case "postgres":
	case "sqlite":
		if c.StateStorage.FilePath == "" {
			return errors.New("state_storage.file_path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported state_storage.type %q", c.StateStorage.Type)
	}
	if c.Scheduler.Retries < 0 {
		return fmt.Errorf("scheduler.retries must be >= 0, got %d", c.Scheduler.Retries)
	}
	for _, t := range c.Sync.Tables {
		if t.Name == "" {
			return errors.New("sync.tables: every table needs a name")
		}
		if t.BatchSize < 0 {
			return fmt.Errorf("sync.tables[%s]: batch_size must be >= 0", t.Name)
		}
	}
	return nil
}
