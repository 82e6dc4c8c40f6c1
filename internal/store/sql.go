package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"race-sync-service/internal/config"
	"race-sync-service/internal/logger"
)

const (
	defaultPingRetries  = 30
	defaultPingInterval = time.Second
)

// SQLStore keeps sync state in PostgreSQL (lib/pq) or a SQLite file (modernc).
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore opens the store selected by cfg. The postgres store lives in the
// target database described by target.
func NewSQLStore(ctx context.Context, cfg config.StateStorage, target config.DatabaseConnection) (*SQLStore, error) {
	switch cfg.Type {
	case "postgres":
		return open(ctx, "postgres", target.ConnString(), defaultPingRetries, defaultPingInterval)
	case "sqlite":
		return open(ctx, "sqlite", cfg.FilePath, defaultPingRetries, defaultPingInterval)
	default:
		return nil, fmt.Errorf("unsupported state storage type %q", cfg.Type)
	}
}

func open(ctx context.Context, driver, dsn string, retries int, interval time.Duration) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	// Retry loop for Ping
	for i := 0; i < retries; i++ {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for state DB...", zap.Error(err), zap.Int("attempt", i+1))
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s after retries: %w", driver, err)
	}

	if driver == "sqlite" {
		// one writer at a time
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	s := &SQLStore{db: db, dialect: driver}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if s.dialect == "sqlite" {
		ts = "TIMESTAMP"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_state (
			table_name TEXT PRIMARY KEY,
			last_sync_time ` + ts + ` NULL,
			payload_digest TEXT NULL,
			rows_synced BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_history (
			id TEXT PRIMARY KEY,
			started_at ` + ts + ` NOT NULL,
			completed_at ` + ts + ` NULL,
			triggered_by TEXT NOT NULL,
			tables_synced TEXT NOT NULL,
			total_rows BIGINT NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			payload_digest TEXT NULL,
			status TEXT NOT NULL,
			error_message TEXT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sync_history_started_at_idx ON sync_history (started_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure state schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) GetSyncState(ctx context.Context, tableName string) (*SyncState, error) {
	query := `SELECT table_name, last_sync_time, payload_digest, rows_synced, status, error_message, updated_at
			  FROM sync_state WHERE table_name = ?`

	row := s.db.QueryRowContext(ctx, s.rebind(query), tableName)

	var state SyncState
	err := row.Scan(
		&state.TableName,
		&state.LastSyncTime,
		&state.PayloadDigest,
		&state.RowsSynced,
		&state.Status,
		&state.ErrorMessage,
		&state.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &state, nil
}

func (s *SQLStore) UpdateSyncState(ctx context.Context, state *SyncState) error {
	query := `INSERT INTO sync_state (table_name, last_sync_time, payload_digest, rows_synced, status, error_message, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT (table_name) DO UPDATE SET
			  last_sync_time = excluded.last_sync_time,
			  payload_digest = excluded.payload_digest,
			  rows_synced = excluded.rows_synced,
			  status = excluded.status,
			  error_message = excluded.error_message,
			  updated_at = excluded.updated_at`

	state.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		state.TableName,
		state.LastSyncTime,
		state.PayloadDigest,
		state.RowsSynced,
		state.Status,
		state.ErrorMessage,
		state.UpdatedAt,
	)

	return err
}

func (s *SQLStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `INSERT INTO sync_history (id, started_at, completed_at, triggered_by, tables_synced, total_rows, attempts, payload_digest, status, error_message)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		history.ID,
		history.StartedAt,
		history.CompletedAt,
		history.TriggeredBy,
		history.TablesSynced,
		history.TotalRows,
		history.Attempts,
		history.PayloadDigest,
		history.Status,
		history.ErrorMessage,
	)

	return err
}

func (s *SQLStore) UpdateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `UPDATE sync_history SET completed_at = ?, total_rows = ?, attempts = ?, payload_digest = ?, status = ?, error_message = ? WHERE id = ?`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		history.CompletedAt,
		history.TotalRows,
		history.Attempts,
		history.PayloadDigest,
		history.Status,
		history.ErrorMessage,
		history.ID,
	)

	return err
}

func (s *SQLStore) GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	query := `SELECT id, started_at, completed_at, triggered_by, tables_synced, total_rows, attempts, payload_digest, status, error_message
			  FROM sync_history ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []*SyncHistory{}
	for rows.Next() {
		var h SyncHistory
		err := rows.Scan(
			&h.ID,
			&h.StartedAt,
			&h.CompletedAt,
			&h.TriggeredBy,
			&h.TablesSynced,
			&h.TotalRows,
			&h.Attempts,
			&h.PayloadDigest,
			&h.Status,
			&h.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		history = append(history, &h)
	}

	return history, rows.Err()
}
