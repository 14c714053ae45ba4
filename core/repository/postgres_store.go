package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"runner-insights/core/models"
)

// PostgresStore implements Store on Postgres. Per-job serialization uses a
// transaction-scoped advisory lock keyed by the job id, so it also holds
// across several service replicas.
type PostgresStore struct {
	db            *DB
	jobs          *JobRepository
	samples       *SampleRepository
	events        *EventRepository
	installations *InstallationRepository
}

// NewPostgresStore creates a store over an open connection pool
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{
		db:            db,
		jobs:          NewJobRepository(db),
		samples:       NewSampleRepository(db),
		events:        NewEventRepository(db),
		installations: NewInstallationRepository(db),
	}
}

// WithJob runs fn inside one transaction holding the job's advisory lock
func (s *PostgresStore) WithJob(ctx context.Context, jobID int64, fn func(tx JobTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin job tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, jobID); err != nil {
		return fmt.Errorf("lock job %d: %w", jobID, err)
	}

	if err := fn(&pgJobTx{store: s, tx: tx, jobID: jobID}); err != nil {
		return err
	}

	return tx.Commit()
}

// GetJob retrieves a job by its external id
func (s *PostgresStore) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// ListJobs lists jobs with optional filters
func (s *PostgresStore) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	return s.jobs.ListJobs(ctx, filter)
}

// ListJobsByRun returns the jobs of a run
func (s *PostgresStore) ListJobsByRun(ctx context.Context, runID int64) ([]*models.Job, error) {
	return s.jobs.ListJobsByRun(ctx, runID)
}

// ListPendingArchival returns completed jobs without an archived log
func (s *PostgresStore) ListPendingArchival(ctx context.Context, completedAfter time.Time, limit int) ([]*models.Job, error) {
	return s.jobs.ListPendingArchival(ctx, completedAfter, limit)
}

// Snapshot reads the job and its samples in one repeatable-read transaction
func (s *PostgresStore) Snapshot(ctx context.Context, jobID int64) (*models.Job, []*models.MetricSample, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	job, err := s.jobs.getJob(ctx, tx, jobID)
	if err != nil {
		return nil, nil, err
	}
	samples, err := s.samples.listSamples(ctx, tx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, samples, tx.Commit()
}

// ListEvents returns the job's audit trail, newest first
func (s *PostgresStore) ListEvents(ctx context.Context, jobID int64, limit int) ([]*models.JobEvent, error) {
	return s.events.GetJobEvents(ctx, jobID, limit)
}

// UpsertInstallation records an installation
func (s *PostgresStore) UpsertInstallation(ctx context.Context, inst *models.Installation) error {
	return s.installations.UpsertInstallation(ctx, inst)
}

// DeleteInstallation marks an installation removed
func (s *PostgresStore) DeleteInstallation(ctx context.Context, id int64, at time.Time) error {
	return s.installations.DeleteInstallation(ctx, id, at)
}

// FindInstallationByAccount returns the active installation for an account
func (s *PostgresStore) FindInstallationByAccount(ctx context.Context, login string) (*models.Installation, error) {
	return s.installations.FindByAccount(ctx, login)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type pgJobTx struct {
	store *PostgresStore
	tx    *sql.Tx
	jobID int64
}

func (t *pgJobTx) GetJob(ctx context.Context) (*models.Job, error) {
	return t.store.jobs.getJob(ctx, t.tx, t.jobID)
}

func (t *pgJobTx) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID != t.jobID {
		return fmt.Errorf("save job %d inside transaction for job %d", job.ID, t.jobID)
	}
	return t.store.jobs.upsertJob(ctx, t.tx, job)
}

func (t *pgJobTx) FindInstallation(ctx context.Context, login string) (*models.Installation, error) {
	return t.store.installations.findByAccount(ctx, t.tx, login)
}

func (t *pgJobTx) LatestSample(ctx context.Context) (*models.MetricSample, error) {
	return t.store.samples.latestSample(ctx, t.tx, t.jobID)
}

func (t *pgJobTx) InsertSample(ctx context.Context, sample *models.MetricSample) error {
	sample.JobID = t.jobID
	return t.store.samples.insertSample(ctx, t.tx, sample)
}

func (t *pgJobTx) AppendEvent(ctx context.Context, event *models.JobEvent) error {
	event.JobID = t.jobID
	return t.store.events.appendEvent(ctx, t.tx, event)
}
