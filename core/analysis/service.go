package analysis

import (
	"context"
	"errors"
	"time"

	"runner-insights/core/apperr"
	"runner-insights/core/models"
	"runner-insights/core/monitoring"
	"runner-insights/core/repository"

	"github.com/ternarybob/arbor"
)

// LogReader reads archived job logs
type LogReader interface {
	GetLog(ctx context.Context, key string) ([]byte, error)
}

// Service runs the analysis engine against stored data
type Service struct {
	store   repository.Store
	logs    LogReader
	metrics *monitoring.Collector
	logger  arbor.ILogger
}

// NewService creates an analysis service. logs may be nil when log
// archival is disabled.
func NewService(store repository.Store, logs LogReader, metrics *monitoring.Collector, logger arbor.ILogger) *Service {
	return &Service{store: store, logs: logs, metrics: metrics, logger: logger}
}

// Analyze reports on a job from one consistent snapshot of its samples. An
// archived log that cannot be read is treated as empty.
func (s *Service) Analyze(ctx context.Context, jobID int64) (*models.AnalysisResult, error) {
	start := time.Now()

	job, samples, err := s.store.Snapshot(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("job", jobID)
	}
	if err != nil {
		return nil, err
	}

	res, err := Analyze(jobID, samples, s.readLog(ctx, job))
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveAnalysis(time.Since(start))
	s.logger.Debug().Int64("job_id", jobID).Int("samples", res.SampleCount).Int("log_errors", res.LogErrors).Msg("Job analyzed")
	return res, nil
}

func (s *Service) readLog(ctx context.Context, job *models.Job) string {
	if s.logs == nil || job.LogRef == nil {
		return ""
	}
	body, err := s.logs.GetLog(ctx, *job.LogRef)
	if err != nil {
		s.logger.Warn().Err(apperr.Upstream("object storage", err)).Int64("job_id", job.ID).Msg("Archived log unavailable, analyzing without logs")
		return ""
	}
	return string(body)
}
