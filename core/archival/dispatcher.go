package archival

import (
	"context"
	"errors"
	"sync"
	"time"

	"runner-insights/core/apperr"
	"runner-insights/core/models"
	"runner-insights/core/monitoring"
	"runner-insights/core/repository"

	"github.com/cenkalti/backoff/v5"
	"github.com/ternarybob/arbor"
)

// DispatcherConfig bounds the archival workers
type DispatcherConfig struct {
	Workers         int
	QueueSize       int
	AttemptTimeout  time.Duration
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c *DispatcherConfig) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 60 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 2 * time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
}

// Dispatcher runs archival in the background. Enqueue never blocks; each job
// is retried with exponential backoff and the resulting reference is written
// back in a short per-job transaction.
type Dispatcher struct {
	adapter Adapter
	store   repository.Store
	cfg     DispatcherConfig
	metrics *monitoring.Collector
	logger  arbor.ILogger

	queue    chan models.Job
	mu       sync.Mutex
	inflight map[int64]struct{}
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Start before enqueueing.
func NewDispatcher(adapter Adapter, store repository.Store, cfg DispatcherConfig, metrics *monitoring.Collector, logger arbor.ILogger) *Dispatcher {
	cfg.setDefaults()
	return &Dispatcher{
		adapter:  adapter,
		store:    store,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		queue:    make(chan models.Job, cfg.QueueSize),
		inflight: make(map[int64]struct{}),
	}
}

// Start launches the workers; they exit when ctx is cancelled
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-d.queue:
					d.metrics.SetArchivalQueueDepth(len(d.queue))
					d.process(ctx, job)
					d.done(job.ID)
				}
			}
		}()
	}
	d.logger.Info().Int("workers", d.cfg.Workers).Int("queue_size", d.cfg.QueueSize).Msg("Log archival dispatcher started")
}

// Wait blocks until all workers have exited
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Enqueue schedules archival for job. A job that is already queued or being
// archived is not queued twice. It returns false only when the queue is full.
func (d *Dispatcher) Enqueue(job models.Job) bool {
	d.mu.Lock()
	if _, ok := d.inflight[job.ID]; ok {
		d.mu.Unlock()
		return true
	}
	d.inflight[job.ID] = struct{}{}
	d.mu.Unlock()

	select {
	case d.queue <- job:
		d.metrics.SetArchivalQueueDepth(len(d.queue))
		return true
	default:
		d.done(job.ID)
		d.metrics.RecordArchival("dropped")
		return false
	}
}

func (d *Dispatcher) done(jobID int64) {
	d.mu.Lock()
	delete(d.inflight, jobID)
	d.mu.Unlock()
}

func (d *Dispatcher) process(ctx context.Context, job models.Job) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.InitialInterval
	policy.MaxInterval = d.cfg.MaxInterval

	ref, err := backoff.Retry(ctx, func() (string, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		defer cancel()

		ref, err := d.adapter.FetchAndArchive(attemptCtx, job)
		if err != nil && (apperr.IsNotFound(err) || apperr.IsValidation(err)) {
			return "", backoff.Permanent(err)
		}
		return ref, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(d.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.logger.Debug().Err(err).Int64("job_id", job.ID).Str("retry_in", wait.String()).Msg("Log archival attempt failed")
		}),
	)
	if err != nil {
		d.metrics.RecordArchival("failed")
		d.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("Log archival failed, log reference stays empty")
		return
	}

	if err := d.recordRef(ctx, job.ID, ref); err != nil {
		d.metrics.RecordArchival("failed")
		d.logger.Error().Err(err).Int64("job_id", job.ID).Msg("Failed to record archived log reference")
		return
	}

	d.metrics.RecordArchival("archived")
	d.logger.Info().Int64("job_id", job.ID).Str("log_ref", ref).Msg("Job log archived")
}

// recordRef stores the reference unless another worker got there first
func (d *Dispatcher) recordRef(ctx context.Context, jobID int64, ref string) error {
	return d.store.WithJob(ctx, jobID, func(tx repository.JobTx) error {
		job, err := tx.GetJob(ctx)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if job.LogRef != nil {
			return nil
		}
		job.LogRef = &ref
		return tx.SaveJob(ctx, job)
	})
}
