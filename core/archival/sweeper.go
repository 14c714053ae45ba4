package archival

import (
	"context"
	"time"

	"runner-insights/core/repository"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Sweeper periodically re-enqueues completed jobs whose log was never
// archived
type Sweeper struct {
	store      repository.Store
	dispatcher *Dispatcher
	cron       *cron.Cron
	schedule   string
	maxAge     time.Duration
	batch      int
	logger     arbor.ILogger
	now        func() time.Time
}

// NewSweeper creates a sweeper running on a cron schedule. Jobs completed
// longer than maxAge ago are left alone.
func NewSweeper(store repository.Store, dispatcher *Dispatcher, schedule string, maxAge time.Duration, batch int, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		cron:       cron.New(),
		schedule:   schedule,
		maxAge:     maxAge,
		batch:      batch,
		logger:     logger,
		now:        time.Now,
	}
}

// Start registers the sweep and starts the scheduler
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.schedule).Msg("Log archival sweep scheduled")
	return nil
}

// Stop stops the scheduler and waits for a running sweep
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep enqueues one batch of pending jobs and returns how many were accepted
func (s *Sweeper) Sweep(ctx context.Context) int {
	jobs, err := s.store.ListPendingArchival(ctx, s.now().Add(-s.maxAge), s.batch)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list jobs pending log archival")
		return 0
	}

	queued := 0
	for _, job := range jobs {
		if !s.dispatcher.Enqueue(*job) {
			break
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info().Int("queued", queued).Msg("Re-queued jobs for log archival")
	}
	return queued
}
