// Package lifecycle applies job lifecycle events to the job store.
package lifecycle

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

// LogArchiver schedules log archival for a completed job. Enqueue must not
// block on I/O.
type LogArchiver interface {
	Enqueue(job models.Job) bool
}

// Processor is the lifecycle state machine:
// queued -> in_progress -> completed{conclusion}. Completed is terminal.
type Processor struct {
	store    repository.Store
	archiver LogArchiver
	metrics  *monitoring.Collector
	logger   arbor.ILogger
	now      func() time.Time
}

// NewProcessor creates a lifecycle processor. archiver may be nil when log
// archival is disabled.
func NewProcessor(store repository.Store, archiver LogArchiver, metrics *monitoring.Collector, logger arbor.ILogger) *Processor {
	return &Processor{
		store:    store,
		archiver: archiver,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

var errUnknownJob = errors.New("completion for unknown job")

// Handle applies one lifecycle event. Out-of-order and duplicate events are
// reported as OutcomeIgnored or OutcomeNoop with a nil error.
func (p *Processor) Handle(ctx context.Context, ev Event) (Outcome, error) {
	if ev.JobID <= 0 {
		return "", apperr.Validation("workflow_job.id", "must be positive")
	}

	var (
		outcome Outcome
		err     error
	)
	switch ev.Action {
	case ActionQueued, ActionInProgress:
		outcome, err = p.handleActive(ctx, ev)
	case ActionCompleted:
		outcome, err = p.handleCompleted(ctx, ev)
	default:
		p.logger.Debug().Str("action", string(ev.Action)).Int64("job_id", ev.JobID).Msg("Ignoring unhandled lifecycle action")
		outcome = OutcomeIgnored
	}

	if err != nil {
		if apperr.IsValidation(err) {
			p.metrics.RecordLifecycle(string(ev.Action), "invalid")
			return "", err
		}
		p.metrics.RecordLifecycle(string(ev.Action), "error")
		p.logger.Error().Err(err).Int64("job_id", ev.JobID).Str("action", string(ev.Action)).Msg("Failed to apply lifecycle event")
		return "", err
	}

	p.metrics.RecordLifecycle(string(ev.Action), string(outcome))
	return outcome, nil
}

// handleActive upserts the job for a queued or in_progress event
func (p *Processor) handleActive(ctx context.Context, ev Event) (Outcome, error) {
	p.recordInstallation(ctx, ev)

	target := models.Queued()
	if ev.Action == ActionInProgress {
		target = models.InProgress()
	}

	err := p.store.WithJob(ctx, ev.JobID, func(tx repository.JobTx) error {
		job, err := tx.GetJob(ctx)
		created := false
		switch {
		case errors.Is(err, repository.ErrNotFound):
			job = &models.Job{ID: ev.JobID, State: target}
			created = true
		case err != nil:
			return err
		}

		if job.State.IsTerminal() {
			return &apperr.ConflictIgnored{JobID: job.ID, Reason: string(ev.Action) + " after " + job.State.String()}
		}

		from := job.State
		wasProvisional := job.Provisional
		mergeDescriptors(job, ev)

		advanced := target.Rank() > job.State.Rank()
		if advanced {
			job.State = target
		}
		if ev.Action == ActionInProgress && (job.StartedAt == nil || wasProvisional) {
			started := p.now().UTC()
			if ev.StartedAt != nil && !ev.StartedAt.IsZero() {
				started = ev.StartedAt.UTC()
			}
			job.StartedAt = &started
		}
		job.Provisional = false

		if err := tx.SaveJob(ctx, job); err != nil {
			return err
		}

		if !created && !advanced && !wasProvisional {
			return nil
		}
		event := &models.JobEvent{
			At:     p.now().UTC(),
			To:     job.State,
			Reason: string(ev.Action),
			Meta:   eventMeta(ev),
		}
		if !created {
			event.From = &from
		}
		return tx.AppendEvent(ctx, event)
	})

	var conflict *apperr.ConflictIgnored
	if errors.As(err, &conflict) {
		p.logger.Warn().Int64("job_id", ev.JobID).Str("reason", conflict.Reason).Msg("Ignoring lifecycle event for completed job")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

// handleCompleted moves an existing job to its terminal state and schedules
// log archival after the transaction has committed
func (p *Processor) handleCompleted(ctx context.Context, ev Event) (Outcome, error) {
	p.recordInstallation(ctx, ev)

	var (
		outcome    = OutcomeApplied
		archive    bool
		snapshot   models.Job
		conclusion models.Conclusion
	)
	err := p.store.WithJob(ctx, ev.JobID, func(tx repository.JobTx) error {
		job, err := tx.GetJob(ctx)
		if errors.Is(err, repository.ErrNotFound) {
			return errUnknownJob
		}
		if err != nil {
			return err
		}

		conclusion, err = models.ParseConclusion(ev.Conclusion)
		if err != nil {
			return apperr.Validation("workflow_job.conclusion", err.Error())
		}

		outcome, archive = OutcomeApplied, false
		if current, terminal := job.State.Conclusion(); terminal && current == conclusion {
			outcome = OutcomeNoop
			return nil
		}

		from := job.State
		mergeDescriptors(job, ev)

		if job.StartedAt == nil && ev.StartedAt != nil && !ev.StartedAt.IsZero() {
			started := ev.StartedAt.UTC()
			job.StartedAt = &started
		}
		completed := p.now().UTC()
		if ev.CompletedAt != nil && !ev.CompletedAt.IsZero() {
			completed = ev.CompletedAt.UTC()
		}
		if job.StartedAt != nil && completed.Before(*job.StartedAt) {
			completed = *job.StartedAt
		}

		job.State = models.Completed(conclusion)
		job.CompletedAt = &completed
		job.Provisional = false

		if err := tx.SaveJob(ctx, job); err != nil {
			return err
		}

		reason := "completed"
		if from.IsTerminal() {
			reason = "conclusion_changed"
		}
		if err := tx.AppendEvent(ctx, &models.JobEvent{
			At:     p.now().UTC(),
			From:   &from,
			To:     job.State,
			Reason: reason,
			Meta:   eventMeta(ev),
		}); err != nil {
			return err
		}

		archive = job.LogRef == nil
		snapshot = *job
		return nil
	})

	if errors.Is(err, errUnknownJob) {
		p.logger.Warn().Int64("job_id", ev.JobID).Int64("run_id", ev.RunID).Msg("Dropping completion for unknown job")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	if outcome == OutcomeApplied {
		p.logger.Info().
			Int64("job_id", ev.JobID).
			Str("conclusion", string(conclusion)).
			Msg("Job completed")
	}
	if archive && p.archiver != nil {
		if !p.archiver.Enqueue(snapshot) {
			p.logger.Warn().Int64("job_id", ev.JobID).Msg("Log archival queue full, leaving job for the sweep")
		}
	}
	return outcome, nil
}

// recordInstallation keeps the ownership record in step with the
// installation id carried by workflow events
func (p *Processor) recordInstallation(ctx context.Context, ev Event) {
	if ev.InstallationID == 0 || ev.Repository == "" {
		return
	}
	owner := models.RepositoryOwner(ev.Repository)
	existing, err := p.store.FindInstallationByAccount(ctx, owner)
	if err == nil && existing.ID == ev.InstallationID {
		return
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		p.logger.Warn().Err(err).Str("account", owner).Msg("Failed to look up installation")
		return
	}
	if err := p.store.UpsertInstallation(ctx, &models.Installation{ID: ev.InstallationID, AccountLogin: owner}); err != nil {
		p.logger.Warn().Err(err).Int64("installation_id", ev.InstallationID).Msg("Failed to record installation")
	}
}

// HandleInstallation maintains the ownership records used to accept telemetry
func (p *Processor) HandleInstallation(ctx context.Context, ev InstallationEvent) (Outcome, error) {
	if ev.ID <= 0 {
		return "", apperr.Validation("installation.id", "must be positive")
	}
	at := ev.At
	if at.IsZero() {
		at = p.now().UTC()
	}

	switch ev.Action {
	case InstallationCreated, InstallationUnsuspend:
		if ev.AccountLogin == "" {
			return "", apperr.Validation("installation.account.login", "required")
		}
		err := p.store.UpsertInstallation(ctx, &models.Installation{
			ID:           ev.ID,
			AccountLogin: ev.AccountLogin,
			AccountType:  ev.AccountType,
			CreatedAt:    at,
		})
		if err != nil {
			return "", err
		}
		p.logger.Info().Int64("installation_id", ev.ID).Str("account", ev.AccountLogin).Msg("Installation recorded")
	case InstallationDeleted, InstallationSuspend:
		err := p.store.DeleteInstallation(ctx, ev.ID, at)
		if errors.Is(err, repository.ErrNotFound) {
			p.logger.Warn().Int64("installation_id", ev.ID).Msg("Removal for unknown installation")
			return OutcomeIgnored, nil
		}
		if err != nil {
			return "", err
		}
		p.logger.Info().Int64("installation_id", ev.ID).Msg("Installation removed")
	default:
		return OutcomeIgnored, nil
	}
	return OutcomeApplied, nil
}

func eventMeta(ev Event) map[string]interface{} {
	meta := map[string]interface{}{"run_id": ev.RunID}
	if ev.RunnerName != "" {
		meta["runner_name"] = ev.RunnerName
	}
	if ev.WorkflowName != "" {
		meta["workflow_name"] = ev.WorkflowName
	}
	return meta
}
