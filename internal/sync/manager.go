// Package sync runs the race schedule job: fetch the open races, parse them
// and upsert them into the races table, with retries, run history and a cron
// scheduler.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"race-sync-service/internal/config"
	"race-sync-service/internal/database"
	"race-sync-service/internal/logger"
	"race-sync-service/internal/racing"
	"race-sync-service/internal/store"
	"race-sync-service/internal/tvg"
)

const (
	StatusIdle    = "idle"
	StatusRunning = "running"
)

// Run triggers recorded in history.
const (
	TriggerAPI       = "api"
	TriggerScheduler = "scheduler"
	TriggerCLI       = "cli"
)

var ErrAlreadyRunning = errors.New("sync is already running")

type Fetcher interface {
	FetchSchedule(ctx context.Context) ([]byte, error)
}

type RaceWriter interface {
	SaveRaces(ctx context.Context, races []racing.Race) (*database.UpsertResult, error)
}

type Manager struct {
	cfg      *config.Config
	fetcher  Fetcher
	races    RaceWriter
	store    store.Store
	detector *ChangeDetector
	notifier Notifier
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
	status   string
}

func NewManager(cfg *config.Config, fetcher Fetcher, races RaceWriter, store store.Store, notifier Notifier) *Manager {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Manager{
		cfg:      cfg,
		fetcher:  fetcher,
		races:    races,
		store:    store,
		detector: NewChangeDetector(store),
		notifier: notifier,
		status:   StatusIdle,
	}
}

// Run performs one synchronisation in the foreground.
func (m *Manager) Run(ctx context.Context) error {
	ctx, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer m.release()
	_, err = m.run(ctx, TriggerCLI)
	return err
}

// Start runs a synchronisation in the background.
func (m *Manager) Start() error {
	return m.start(TriggerAPI)
}

func (m *Manager) start(trigger string) error {
	ctx, err := m.acquire(context.Background())
	if err != nil {
		return err
	}
	logger.Log.Info("Starting sync", zap.String("trigger", trigger))
	go func() {
		defer m.release()
		_, _ = m.run(ctx, trigger)
	}()
	return nil
}

// Stop cancels the current run and waits for it to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.status != StatusRunning {
		m.mu.Unlock()
		return
	}
	logger.Log.Info("Stopping sync")
	m.cancel()
	done := m.done
	m.mu.Unlock()
	<-done
}

func (m *Manager) GetStatus() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) acquire(parent context.Context) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusRunning {
		return nil, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.status = StatusRunning
	return ctx, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel()
	close(m.done)
	m.status = StatusIdle
}

type outcome struct {
	rows    int
	digest  string
	skipped bool
}

// run executes the job with retries and records the result.
func (m *Manager) run(ctx context.Context, trigger string) (*store.SyncHistory, error) {
	table := config.RacesTable
	h := &store.SyncHistory{
		ID:           uuid.New().String(),
		StartedAt:    time.Now().UTC(),
		TriggeredBy:  trigger,
		TablesSynced: table,
		Status:       store.StatusRunning,
	}
	if err := m.store.CreateSyncHistory(ctx, h); err != nil {
		logger.Log.Warn("Failed to record sync start", zap.String("run_id", h.ID), zap.Error(err))
	}

	maxAttempts := m.cfg.Scheduler.Retries + 1
	var out outcome
	var err error
	for attempt := 1; ; attempt++ {
		h.Attempts = attempt
		out, err = m.syncOnce(ctx, table)
		if err == nil || attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		logger.Log.Warn("Sync attempt failed, retrying",
			zap.String("run_id", h.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", m.cfg.Scheduler.RetryDelay),
			zap.Error(err),
		)
		if !sleep(ctx, m.cfg.Scheduler.RetryDelay) {
			err = fmt.Errorf("%w (after attempt %d)", ctx.Err(), attempt)
			break
		}
	}

	m.finish(h, table, out, err)
	return h, err
}

func (m *Manager) syncOnce(ctx context.Context, table string) (outcome, error) {
	payload, err := m.fetcher.FetchSchedule(ctx)
	if err != nil {
		return outcome{}, err
	}
	out := outcome{digest: payloadDigest(payload)}

	if m.cfg.Sync.SkipUnchanged {
		unchanged, err := m.detector.Unchanged(ctx, table, out.digest)
		if err != nil {
			logger.Log.Warn("Change detection failed, writing anyway", zap.Error(err))
		} else if unchanged {
			logger.Log.Info("Schedule unchanged since last sync", zap.String("table", table))
			out.skipped = true
			return out, nil
		}
	}

	races, err := tvg.ParseSchedule(payload)
	if err != nil {
		return out, err
	}
	res, err := m.races.SaveRaces(ctx, races)
	if err != nil {
		return out, err
	}
	out.rows = res.Rows
	return out, nil
}

// finish writes history and table state and notifies listeners. Bookkeeping
// failures are logged; they never replace the run's own error.
func (m *Manager) finish(h *store.SyncHistory, table string, out outcome, runErr error) {
	ctx := context.Background()
	now := time.Now().UTC()

	h.CompletedAt = &now
	h.TotalRows = int64(out.rows)
	if out.digest != "" {
		h.PayloadDigest = &out.digest
	}

	state, err := m.store.GetSyncState(ctx, table)
	if err != nil {
		logger.Log.Warn("Failed to load sync state", zap.String("table", table), zap.Error(err))
	}
	if state == nil {
		state = &store.SyncState{TableName: table}
	}

	event := Event{
		RunID:    h.ID,
		Table:    table,
		Rows:     out.rows,
		Attempts: h.Attempts,
		Skipped:  out.skipped,
		Time:     now,
	}

	switch {
	case runErr != nil:
		msg := runErr.Error()
		h.Status = store.StatusFailed
		h.ErrorMessage = &msg
		state.Status = store.StatusFailed
		state.ErrorMessage = &msg
		event.Type = SyncFailed
		event.Error = msg
		logger.Log.Error("Sync failed",
			zap.String("run_id", h.ID),
			zap.Int("attempts", h.Attempts),
			zap.Error(runErr),
		)
	default:
		h.Status = store.StatusCompleted
		state.Status = store.StatusCompleted
		if out.skipped {
			h.Status = store.StatusSkipped
			state.Status = store.StatusSkipped
		}
		state.LastSyncTime = &now
		state.PayloadDigest = h.PayloadDigest
		state.RowsSynced = int64(out.rows)
		state.ErrorMessage = nil
		event.Type = SyncComplete
		logger.Log.Info("Sync completed",
			zap.String("run_id", h.ID),
			zap.Int("rows", out.rows),
			zap.Int("attempts", h.Attempts),
			zap.Bool("skipped", out.skipped),
		)
	}

	if err := m.store.UpdateSyncHistory(ctx, h); err != nil {
		logger.Log.Warn("Failed to record sync result", zap.String("run_id", h.ID), zap.Error(err))
	}
	if err := m.store.UpdateSyncState(ctx, state); err != nil {
		logger.Log.Warn("Failed to update sync state", zap.String("table", table), zap.Error(err))
	}
	m.notifier.Notify(event)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
