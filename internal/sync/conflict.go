package sync

import (
	"context"
	"fmt"

	"github.com/zeebo/blake3"

	"race-sync-service/internal/store"
)

// ChangeDetector compares a fetched payload with the one behind the last
// successful write of a table.
type ChangeDetector struct {
	store store.Store
}

func NewChangeDetector(store store.Store) *ChangeDetector {
	return &ChangeDetector{
		store: store,
	}
}

// Unchanged reports whether digest matches the table's last successful sync.
func (cd *ChangeDetector) Unchanged(ctx context.Context, table, digest string) (bool, error) {
	state, err := cd.store.GetSyncState(ctx, table)
	if err != nil {
		return false, fmt.Errorf("load sync state: %w", err)
	}
	if state == nil || state.PayloadDigest == nil || state.Status == store.StatusFailed {
		return false, nil
	}
	return *state.PayloadDigest == digest, nil
}

func payloadDigest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return fmt.Sprintf("%x", sum)
}
