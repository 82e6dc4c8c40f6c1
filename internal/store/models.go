package store

import (
	"time"
)

// Run and table statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// SyncState is the last known outcome for one target table.
type SyncState struct {
	TableName     string     `db:"table_name" json:"table_name"`
	LastSyncTime  *time.Time `db:"last_sync_time" json:"last_sync_time,omitempty"`
	PayloadDigest *string    `db:"payload_digest" json:"payload_digest,omitempty"`
	RowsSynced    int64      `db:"rows_synced" json:"rows_synced"`
	Status        string     `db:"status" json:"status"`
	ErrorMessage  *string    `db:"error_message" json:"error_message,omitempty"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// SyncHistory is one run of the schedule job, including its retries.
type SyncHistory struct {
	ID            string     `db:"id" json:"id"`
	StartedAt     time.Time  `db:"started_at" json:"started_at"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	TriggeredBy   string     `db:"triggered_by" json:"triggered_by"`
	TablesSynced  string     `db:"tables_synced" json:"tables_synced"`
	TotalRows     int64      `db:"total_rows" json:"total_rows"`
	Attempts      int        `db:"attempts" json:"attempts"`
	PayloadDigest *string    `db:"payload_digest" json:"payload_digest,omitempty"`
	Status        string     `db:"status" json:"status"`
	ErrorMessage  *string    `db:"error_message" json:"error_message,omitempty"`
}
