// Package badgerstore implements the job store on an embedded Badger
// database for single-node deployments and tests.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"runner-insights/core/models"
	"runner-insights/core/repository"

	"github.com/cenkalti/backoff/v5"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// conflictRetryWindow bounds how long an update that keeps losing optimistic
// conflicts against other jobs' transactions is retried
const conflictRetryWindow = 10 * time.Second

// Config selects where the database lives
type Config struct {
	Path     string
	InMemory bool
}

// Store implements repository.Store. Writers for the same job are
// serialized by a keyed mutex; each WithJob call is one Badger update
// transaction.
type Store struct {
	store  *badgerhold.Store
	locks  *repository.KeyedMutex
	logger arbor.ILogger
}

var _ repository.Store = (*Store)(nil)

// Open opens or creates the database
func Open(logger arbor.ILogger, cfg Config) (*Store, error) {
	options := badgerhold.DefaultOptions
	options.Logger = nil // badger's own logger is noisy; errors surface through arbor

	if cfg.InMemory {
		options.InMemory = true
		options.Dir = ""
		options.ValueDir = ""
	} else {
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		options.Dir = cfg.Path
		options.ValueDir = cfg.Path
	}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger.Debug().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("Badger job store opened")

	return &Store{
		store:  store,
		locks:  repository.NewKeyedMutex(),
		logger: logger,
	}, nil
}

// WithJob runs fn in one update transaction while holding the job's lock
func (s *Store) WithJob(ctx context.Context, jobID int64, fn func(tx repository.JobTx) error) error {
	unlock := s.locks.Lock(jobID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.store.Badger().Update(func(txn *badger.Txn) error {
			return fn(&jobTx{store: s.store, txn: txn, jobID: jobID})
		})
		if err != nil && !errors.Is(err, badger.ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(conflictRetryWindow),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Debug().Int64("job_id", jobID).Int("attempt", attempt).Str("retry_in", wait.String()).Msg("Badger transaction conflict, retrying")
		}),
	)
	return err
}

// GetJob retrieves a job by its external id
func (s *Store) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	var job models.Job
	if err := s.store.Get(jobID, &job); err != nil {
		return nil, mapErr(err)
	}
	return &job, nil
}

// ListJobs lists jobs matching the filter, newest first
func (s *Store) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	var query *badgerhold.Query
	switch {
	case filter.RunID != 0:
		query = badgerhold.Where("RunID").Eq(filter.RunID)
	case filter.Repository != "":
		query = badgerhold.Where("Repository").Eq(filter.Repository)
	}

	var jobs []models.Job
	if err := s.store.Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		j := &jobs[i]
		if filter.Repository != "" && j.Repository != filter.Repository {
			continue
		}
		if filter.Phase != "" && j.State.Phase() != filter.Phase {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})

	if limit := repository.NormalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListJobsByRun returns the jobs of a run ordered by id
func (s *Store) ListJobsByRun(ctx context.Context, runID int64) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.store.Find(&jobs, badgerhold.Where("RunID").Eq(runID)); err != nil {
		return nil, fmt.Errorf("list jobs for run %d: %w", runID, err)
	}
	out := make([]*models.Job, len(jobs))
	for i := range jobs {
		out[i] = &jobs[i]
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// ListPendingArchival returns jobs completed after a point in time without
// an archived log, oldest completion first
func (s *Store) ListPendingArchival(ctx context.Context, completedAfter time.Time, limit int) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.store.Find(&jobs, badgerhold.Where("LogRef").IsNil()); err != nil {
		return nil, fmt.Errorf("list pending archival: %w", err)
	}

	var out []*models.Job
	for i := range jobs {
		if jobs[i].State.IsTerminal() && completedAt(&jobs[i]).After(completedAfter) {
			out = append(out, &jobs[i])
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return completedAt(out[a]).Before(completedAt(out[b]))
	})
	if limit = repository.NormalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Snapshot reads the job and its ordered samples in one read transaction
func (s *Store) Snapshot(ctx context.Context, jobID int64) (*models.Job, []*models.MetricSample, error) {
	var (
		job     models.Job
		samples []models.MetricSample
	)
	err := s.store.Badger().View(func(txn *badger.Txn) error {
		if err := s.store.TxGet(txn, jobID, &job); err != nil {
			return mapErr(err)
		}
		return s.store.TxFind(txn, &samples, badgerhold.Where("JobID").Eq(jobID).Index("JobID"))
	})
	if err != nil {
		return nil, nil, err
	}
	return &job, sortSamples(samples), nil
}

// ListEvents returns the job's audit trail, newest first
func (s *Store) ListEvents(ctx context.Context, jobID int64, limit int) ([]*models.JobEvent, error) {
	var events []models.JobEvent
	if err := s.store.Find(&events, badgerhold.Where("JobID").Eq(jobID).Index("JobID")); err != nil {
		return nil, fmt.Errorf("list events for job %d: %w", jobID, err)
	}
	out := make([]*models.JobEvent, len(events))
	for i := range events {
		out[i] = &events[i]
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].At.After(out[b].At) })
	if limit = repository.NormalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpsertInstallation records an installation and clears any deletion mark
func (s *Store) UpsertInstallation(ctx context.Context, inst *models.Installation) error {
	var existing models.Installation
	err := s.store.Get(inst.ID, &existing)
	switch {
	case err == nil:
		inst.CreatedAt = existing.CreatedAt
		if inst.AccountType == "" {
			inst.AccountType = existing.AccountType
		}
	case errors.Is(err, badgerhold.ErrNotFound):
		if inst.CreatedAt.IsZero() {
			inst.CreatedAt = time.Now().UTC()
		}
	default:
		return fmt.Errorf("get installation %d: %w", inst.ID, err)
	}
	inst.DeletedAt = nil
	return s.store.Upsert(inst.ID, inst)
}

// DeleteInstallation marks an installation removed
func (s *Store) DeleteInstallation(ctx context.Context, id int64, at time.Time) error {
	var inst models.Installation
	if err := s.store.Get(id, &inst); err != nil {
		return mapErr(err)
	}
	inst.DeletedAt = &at
	return s.store.Upsert(id, &inst)
}

// FindInstallationByAccount returns the newest active installation for an account
func (s *Store) FindInstallationByAccount(ctx context.Context, login string) (*models.Installation, error) {
	var all []models.Installation
	if err := s.store.Find(&all, badgerhold.Where("DeletedAt").IsNil()); err != nil {
		return nil, fmt.Errorf("find installation for %s: %w", login, err)
	}
	return newestForAccount(all, login)
}

func newestForAccount(all []models.Installation, login string) (*models.Installation, error) {
	var found *models.Installation
	for i := range all {
		if !strings.EqualFold(all[i].AccountLogin, login) {
			continue
		}
		if found == nil || all[i].CreatedAt.After(found.CreatedAt) {
			found = &all[i]
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

// LockCount reports how many job ids hold or await a lock
func (s *Store) LockCount() int {
	return s.locks.Len()
}

// Close closes the database
func (s *Store) Close() error {
	return s.store.Close()
}

type jobTx struct {
	store *badgerhold.Store
	txn   *badger.Txn
	jobID int64
}

func (t *jobTx) GetJob(ctx context.Context) (*models.Job, error) {
	var job models.Job
	if err := t.store.TxGet(t.txn, t.jobID, &job); err != nil {
		return nil, mapErr(err)
	}
	return &job, nil
}

func (t *jobTx) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID != t.jobID {
		return fmt.Errorf("save job %d inside transaction for job %d", job.ID, t.jobID)
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	return t.store.TxUpsert(t.txn, job.ID, job)
}

func (t *jobTx) FindInstallation(ctx context.Context, login string) (*models.Installation, error) {
	var all []models.Installation
	if err := t.store.TxFind(t.txn, &all, badgerhold.Where("DeletedAt").IsNil()); err != nil {
		return nil, fmt.Errorf("find installation for %s: %w", login, err)
	}
	return newestForAccount(all, login)
}

func (t *jobTx) LatestSample(ctx context.Context) (*models.MetricSample, error) {
	var samples []models.MetricSample
	if err := t.store.TxFind(t.txn, &samples, badgerhold.Where("JobID").Eq(t.jobID).Index("JobID")); err != nil {
		return nil, fmt.Errorf("latest sample for job %d: %w", t.jobID, err)
	}
	sorted := sortSamples(samples)
	if len(sorted) == 0 {
		return nil, repository.ErrNotFound
	}
	return sorted[len(sorted)-1], nil
}

func (t *jobTx) InsertSample(ctx context.Context, sample *models.MetricSample) error {
	sample.JobID = t.jobID
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	return t.store.TxInsert(t.txn, sample.ID, sample)
}

func (t *jobTx) AppendEvent(ctx context.Context, event *models.JobEvent) error {
	event.JobID = t.jobID
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	return t.store.TxInsert(t.txn, event.ID, event)
}

// sortSamples orders by timestamp, then by receipt time for equal timestamps
func sortSamples(samples []models.MetricSample) []*models.MetricSample {
	out := make([]*models.MetricSample, len(samples))
	for i := range samples {
		out[i] = &samples[i]
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Timestamp.Equal(out[b].Timestamp) {
			return out[a].ReceivedAt.Before(out[b].ReceivedAt)
		}
		return out[a].Timestamp.Before(out[b].Timestamp)
	})
	return out
}

func completedAt(j *models.Job) time.Time {
	if j.CompletedAt == nil {
		return time.Time{}
	}
	return *j.CompletedAt
}

func mapErr(err error) error {
	if errors.Is(err, badgerhold.ErrNotFound) {
		return repository.ErrNotFound
	}
	return err
}
