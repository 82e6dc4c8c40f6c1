// Package store keeps the bookkeeping of the sync job: the last outcome per
// target table and one history row per run.
package store

import "context"

// Store persists sync bookkeeping. Implementations must be safe for
// concurrent use.
type Store interface {
	// GetSyncState returns nil, nil when the table has never been synced.
	GetSyncState(ctx context.Context, tableName string) (*SyncState, error)
	// UpdateSyncState inserts or replaces the state row for state.TableName.
	UpdateSyncState(ctx context.Context, state *SyncState) error

	CreateSyncHistory(ctx context.Context, history *SyncHistory) error
	UpdateSyncHistory(ctx context.Context, history *SyncHistory) error
	// GetSyncHistory returns runs newest first.
	GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error)

	Close() error
}
