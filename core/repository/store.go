package repository

import (
	"context"
	"errors"
	"time"

	"runner-insights/core/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// JobTx is the view of the store available inside a per-job transaction.
// Every method is scoped to the job id the transaction was opened for.
type JobTx interface {
	// GetJob returns the locked job or ErrNotFound
	GetJob(ctx context.Context) (*models.Job, error)
	// SaveJob inserts or replaces the locked job
	SaveJob(ctx context.Context, job *models.Job) error
	// LatestSample returns the stored sample with the greatest timestamp or ErrNotFound
	LatestSample(ctx context.Context) (*models.MetricSample, error)
	InsertSample(ctx context.Context, sample *models.MetricSample) error
	AppendEvent(ctx context.Context, event *models.JobEvent) error
	// FindInstallation looks up the active installation for an account
	// login on the transaction's own connection
	FindInstallation(ctx context.Context, login string) (*models.Installation, error)
}

// Store is the job store shared by the ingestion, lifecycle and analysis
// services. Mutations go through WithJob, which serializes callers per job id
// and commits fn's writes atomically. Jobs with different ids never wait on
// each other.
type Store interface {
	WithJob(ctx context.Context, jobID int64, fn func(tx JobTx) error) error

	GetJob(ctx context.Context, jobID int64) (*models.Job, error)
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)
	ListJobsByRun(ctx context.Context, runID int64) ([]*models.Job, error)
	// ListPendingArchival returns jobs completed after the given time whose
	// log has not been archived, oldest first
	ListPendingArchival(ctx context.Context, completedAfter time.Time, limit int) ([]*models.Job, error)

	// Snapshot reads a job and its samples ordered by timestamp from one
	// consistent view
	Snapshot(ctx context.Context, jobID int64) (*models.Job, []*models.MetricSample, error)
	ListEvents(ctx context.Context, jobID int64, limit int) ([]*models.JobEvent, error)

	UpsertInstallation(ctx context.Context, inst *models.Installation) error
	DeleteInstallation(ctx context.Context, id int64, at time.Time) error
	// FindInstallationByAccount returns the active installation for an
	// account login, compared case-insensitively
	FindInstallationByAccount(ctx context.Context, login string) (*models.Installation, error)

	Close() error
}

// DefaultListLimit caps listings when the caller does not
const DefaultListLimit = 100

// NormalizeLimit clamps a requested limit into (0, 1000]
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
