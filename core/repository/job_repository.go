package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"runner-insights/core/models"

	"github.com/lib/pq"
)

// JobRepository handles database operations for jobs
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id, run_id, name, repository, branch, commit_sha, workflow_name, runner_name,
	runner_group, labels, installation_id, status, conclusion, started_at,
	completed_at, log_ref, provisional, created_at, updated_at`

// upsertJob writes the full job row
func (r *JobRepository) upsertJob(ctx context.Context, q queryer, job *models.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			name = EXCLUDED.name,
			repository = EXCLUDED.repository,
			branch = EXCLUDED.branch,
			commit_sha = EXCLUDED.commit_sha,
			workflow_name = EXCLUDED.workflow_name,
			runner_name = EXCLUDED.runner_name,
			runner_group = EXCLUDED.runner_group,
			labels = EXCLUDED.labels,
			installation_id = EXCLUDED.installation_id,
			status = EXCLUDED.status,
			conclusion = EXCLUDED.conclusion,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			log_ref = EXCLUDED.log_ref,
			provisional = EXCLUDED.provisional,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	conclusion, _ := job.State.Conclusion()
	labels := job.Labels
	if labels == nil {
		labels = []string{}
	}

	var installationID sql.NullInt64
	if job.InstallationID != nil {
		installationID = sql.NullInt64{Int64: *job.InstallationID, Valid: true}
	}
	var logRef sql.NullString
	if job.LogRef != nil {
		logRef = sql.NullString{String: *job.LogRef, Valid: true}
	}

	_, err := q.ExecContext(ctx, query,
		job.ID,
		job.RunID,
		job.Name,
		job.Repository,
		job.Branch,
		job.CommitSHA,
		job.WorkflowName,
		job.RunnerName,
		job.RunnerGroup,
		pq.Array(labels),
		installationID,
		string(job.State.Phase()),
		nullString(string(conclusion)),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		logRef,
		job.Provisional,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job %d: %w", job.ID, err)
	}
	return nil
}

// getJob retrieves a job by its external id
func (r *JobRepository) getJob(ctx context.Context, q queryer, id int64) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// GetJob retrieves a job by its external id
func (r *JobRepository) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	return r.getJob(ctx, r.db, id)
}

// ListJobs lists jobs with optional filters, newest first
func (r *JobRepository) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE TRUE`
	args := []interface{}{}
	argIndex := 1

	if filter.Repository != "" {
		query += fmt.Sprintf(" AND repository = $%d", argIndex)
		args = append(args, filter.Repository)
		argIndex++
	}
	if filter.Phase != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, string(filter.Phase))
		argIndex++
	}
	if filter.RunID != 0 {
		query += fmt.Sprintf(" AND run_id = $%d", argIndex)
		args = append(args, filter.RunID)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, NormalizeLimit(filter.Limit))

	return r.queryJobs(ctx, query, args...)
}

// ListJobsByRun returns all jobs of a run ordered by id
func (r *JobRepository) ListJobsByRun(ctx context.Context, runID int64) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE run_id = $1 ORDER BY id`
	return r.queryJobs(ctx, query, runID)
}

// ListPendingArchival returns jobs completed after a point in time without
// an archived log, oldest first
func (r *JobRepository) ListPendingArchival(ctx context.Context, completedAfter time.Time, limit int) ([]*models.Job, error) {
	query := `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'completed' AND log_ref IS NULL AND completed_at > $1
		ORDER BY completed_at
		LIMIT $2
	`
	return r.queryJobs(ctx, query, completedAfter, NormalizeLimit(limit))
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var (
		labels         pq.StringArray
		installationID sql.NullInt64
		status         string
		conclusion     sql.NullString
		startedAt      sql.NullTime
		completedAt    sql.NullTime
		logRef         sql.NullString
	)

	err := row.Scan(
		&job.ID,
		&job.RunID,
		&job.Name,
		&job.Repository,
		&job.Branch,
		&job.CommitSHA,
		&job.WorkflowName,
		&job.RunnerName,
		&job.RunnerGroup,
		&labels,
		&installationID,
		&status,
		&conclusion,
		&startedAt,
		&completedAt,
		&logRef,
		&job.Provisional,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	state, err := models.ParseState(status, conclusion.String)
	if err != nil {
		return nil, err
	}
	job.State = state
	job.Labels = []string(labels)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	if installationID.Valid {
		id := installationID.Int64
		job.InstallationID = &id
	}
	if logRef.Valid {
		ref := logRef.String
		job.LogRef = &ref
	}

	return &job, nil
}
