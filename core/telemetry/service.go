// Package telemetry accepts resource snapshots from runner agents and
// stores them as metric samples with derived network throughput.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"runner-insights/core/apperr"
	"runner-insights/core/models"
	"runner-insights/core/monitoring"
	"runner-insights/core/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// Service is the telemetry ingestion service
type Service struct {
	store    repository.Store
	validate *validator.Validate
	metrics  *monitoring.Collector
	logger   arbor.ILogger
	now      func() time.Time
}

// NewService creates an ingestion service
func NewService(store repository.Store, metrics *monitoring.Collector, logger arbor.ILogger) *Service {
	return &Service{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Ingest validates a payload and stores exactly one sample for it. A job
// that is not yet known is created as a provisional in-progress job as long
// as the repository owner has an active installation.
func (s *Service) Ingest(ctx context.Context, p *Payload) (*models.MetricSample, error) {
	sample, err := s.buildSample(p)
	if err != nil {
		s.metrics.RecordIngest("invalid")
		return nil, err
	}

	jobID := int64(p.Context.JobID)
	err = s.store.WithJob(ctx, jobID, func(tx repository.JobTx) error {
		if err := s.ensureJob(ctx, tx, p); err != nil {
			return err
		}

		prev, err := tx.LatestSample(ctx)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			prev = nil
		case err != nil:
			return err
		}
		applyRates(sample, prev)

		return tx.InsertSample(ctx, sample)
	})
	if err != nil {
		switch {
		case apperr.IsNotFound(err):
			s.metrics.RecordIngest("not_found")
			s.logger.Warn().Int64("job_id", jobID).Str("repository", p.Context.Repository).Msg("No installation for repository owner, sample rejected")
		default:
			s.metrics.RecordIngest("error")
			s.logger.Error().Err(err).Int64("job_id", jobID).Msg("Failed to store metric sample")
		}
		return nil, err
	}

	s.metrics.RecordIngest("accepted")
	s.logger.Debug().
		Int64("job_id", jobID).
		Str("sample_id", sample.ID).
		Float64("cpu_percent", sample.CPUPercent).
		Msg("Metric sample stored")

	return sample, nil
}

// ensureJob creates the provisional job when the id is unknown
func (s *Service) ensureJob(ctx context.Context, tx repository.JobTx, p *Payload) error {
	_, err := tx.GetJob(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	owner := models.RepositoryOwner(p.Context.Repository)
	inst, err := tx.FindInstallation(ctx, owner)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("installation for account", owner)
	}
	if err != nil {
		return err
	}

	jobID := int64(p.Context.JobID)
	started := s.now().UTC()
	installationID := inst.ID
	job := &models.Job{
		ID:             jobID,
		RunID:          int64(p.Context.RunID),
		Name:           fmt.Sprintf("Job %d", jobID),
		Repository:     p.Context.Repository,
		RunnerName:     p.System.Info.Hostname,
		InstallationID: &installationID,
		State:          models.InProgress(),
		StartedAt:      &started,
		Provisional:    true,
	}
	if err := tx.SaveJob(ctx, job); err != nil {
		return err
	}
	if err := tx.AppendEvent(ctx, &models.JobEvent{
		At:     started,
		To:     job.State,
		Reason: "telemetry_before_lifecycle",
	}); err != nil {
		return err
	}

	s.logger.Info().Int64("job_id", jobID).Str("repository", job.Repository).Msg("Created provisional job from telemetry")
	return nil
}

func (s *Service) buildSample(p *Payload) (*models.MetricSample, error) {
	if err := s.validate.Struct(p); err != nil {
		return nil, validationError(err)
	}

	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(p.Timestamp))
	if err != nil {
		return nil, apperr.Validation("timestamp", "must be an RFC 3339 timestamp")
	}

	rx, tx := p.System.NetworkTotals()
	return &models.MetricSample{
		ID:               uuid.NewString(),
		JobID:            int64(p.Context.JobID),
		Timestamp:        ts.UTC(),
		ReceivedAt:       s.now().UTC(),
		Hostname:         p.System.Info.Hostname,
		CPUCores:         p.System.CPU.Cores,
		CPUPercent:       p.System.CPU.CurrentUsage.UsagePercent,
		MemoryTotalBytes: p.System.Memory.TotalBytes,
		MemoryUsedBytes:  p.System.Memory.UsedBytes,
		MemoryPercent:    p.System.Memory.UsagePercent,
		DiskPercent:      p.System.DiskPercent(),
		NetworkRxBytes:   rx,
		NetworkTxBytes:   tx,
		TopProcesses:     p.System.TopProcesses,
		Raw:              p.Raw,
	}, nil
}

// applyRates fills the throughput fields from the previous stored sample.
// They stay nil when there is no earlier sample to compare against.
func applyRates(sample, prev *models.MetricSample) {
	if prev == nil {
		return
	}
	rxRate, ok := DeriveRate(
		Reading{At: prev.Timestamp, Value: prev.NetworkRxBytes},
		Reading{At: sample.Timestamp, Value: sample.NetworkRxBytes},
	)
	if !ok {
		return
	}
	txRate, _ := DeriveRate(
		Reading{At: prev.Timestamp, Value: prev.NetworkTxBytes},
		Reading{At: sample.Timestamp, Value: sample.NetworkTxBytes},
	)
	sample.NetworkRxRate = &rxRate
	sample.NetworkTxRate = &txRate
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.Validation(fe.Namespace(), "failed "+fe.Tag()+" check")
	}
	return apperr.Validation("", err.Error())
}
