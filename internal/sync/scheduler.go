package sync

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"race-sync-service/internal/config"
	"race-sync-service/internal/logger"
)

type Scheduler struct {
	cfg     config.SchedulerConfig
	manager *Manager
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewScheduler prepares a cron schedule evaluated in cfg.Timezone.
func NewScheduler(cfg config.SchedulerConfig, manager *Manager) (*Scheduler, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler timezone: %w", err)
		}
	}
	return &Scheduler{
		cfg:     cfg,
		manager: manager,
		cron:    cron.New(cron.WithLocation(loc)),
	}, nil
}

func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return nil
	}

	logger.Log.Info("Starting scheduler",
		zap.String("interval", s.cfg.Interval),
		zap.String("timezone", s.cron.Location().String()),
	)

	id, err := s.cron.AddFunc(s.cfg.Interval, s.triggerSync)
	if err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}

	s.entryID = id
	s.cron.Start()
	return nil
}

// Next is the next scheduled run, or the zero time when not scheduled.
func (s *Scheduler) Next() time.Time {
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerSync() {
	logger.Log.Info("Triggering scheduled sync")

	if s.manager.GetStatus() == StatusRunning {
		logger.Log.Info("Sync already running, skipping scheduled run")
		return
	}

	if err := s.manager.start(TriggerScheduler); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			logger.Log.Info("Sync already running, skipping scheduled run")
			return
		}
		logger.Log.Error("Failed to start scheduled sync", zap.Error(err))
	}
}
