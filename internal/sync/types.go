package sync

import (
	"fmt"
	"time"
)

type EventType string

const (
	SyncComplete EventType = "sync_complete"
	SyncFailed   EventType = "sync_failed"
)

// Event describes the outcome of one run. It is broadcast to dashboard clients.
type Event struct {
	Type     EventType `json:"type"`
	RunID    string    `json:"run_id"`
	Table    string    `json:"table"`
	Rows     int       `json:"rows"`
	Attempts int       `json:"attempts"`
	Skipped  bool      `json:"skipped,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s (%d rows, %d attempts)", e.Type, e.Table, e.Rows, e.Attempts)
}

// Notifier receives run events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
