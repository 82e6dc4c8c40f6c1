package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

type Config struct {
	Database     DatabaseConnection `mapstructure:"database"`
	StateStorage StateStorage       `mapstructure:"state_storage"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Fetch        FetchConfig        `mapstructure:"fetch"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type DatabaseConnection struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString renders a postgres:// URL understood by both pgx and lib/pq.
func (d DatabaseConnection) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   d.Host,
		Path:   "/" + d.Database,
	}
	if d.Port != 0 {
		u.Host = d.Host + ":" + strconv.Itoa(d.Port)
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}
	return u.String()
}

type StateStorage struct {
	Type     string `mapstructure:"type"`
	FilePath string `mapstructure:"file_path"` // For SQLite
}

type SyncConfig struct {
	Tables []TableConfig `mapstructure:"tables"`
	// SkipUnchanged skips the write when the fetched payload digest matches the last successful run.
	SkipUnchanged bool `mapstructure:"skip_unchanged"`
}

// Table returns the config entry for name, if any.
func (s SyncConfig) Table(name string) (TableConfig, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableConfig{}, false
}

type TableConfig struct {
	Name               string `mapstructure:"name"`
	ConflictResolution string `mapstructure:"conflict_resolution"`
	BatchSize          int    `mapstructure:"batch_size"`
	PrimaryKey         string `mapstructure:"primary_key"`
	LockTable          bool   `mapstructure:"lock_table"`
	Editable           bool   `mapstructure:"editable"`
}

type SchedulerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   string        `mapstructure:"interval"`
	Timezone   string        `mapstructure:"timezone"`
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type FetchConfig struct {
	URL          string        `mapstructure:"url"`
	WagerProfile string        `mapstructure:"wager_profile"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}
