package lifecycle

import (
	"time"

	"runner-insights/core/models"
)

// Action is the lifecycle transition an event reports
type Action string

const (
	ActionQueued     Action = "queued"
	ActionInProgress Action = "in_progress"
	ActionCompleted  Action = "completed"
)

// Event is a normalized job lifecycle notification
type Event struct {
	Action         Action
	JobID          int64
	RunID          int64
	Name           string
	Repository     string
	Branch         string
	CommitSHA      string
	WorkflowName   string
	RunnerName     string
	RunnerGroup    string
	Labels         []string
	Conclusion     string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	InstallationID int64
}

// Outcome reports what Handle did with an event
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
	OutcomeNoop    Outcome = "noop"
)

// InstallationAction is the installation webhook action
type InstallationAction string

const (
	InstallationCreated   InstallationAction = "created"
	InstallationDeleted   InstallationAction = "deleted"
	InstallationSuspend   InstallationAction = "suspend"
	InstallationUnsuspend InstallationAction = "unsuspend"
)

// InstallationEvent reports a change to an app installation
type InstallationEvent struct {
	Action       InstallationAction
	ID           int64
	AccountLogin string
	AccountType  string
	At           time.Time
}

// mergeDescriptors copies every non-empty descriptive field of the event
// onto the job
func mergeDescriptors(job *models.Job, ev Event) {
	if ev.RunID != 0 {
		job.RunID = ev.RunID
	}
	setIfNotEmpty(&job.Name, ev.Name)
	setIfNotEmpty(&job.Repository, ev.Repository)
	setIfNotEmpty(&job.Branch, ev.Branch)
	setIfNotEmpty(&job.CommitSHA, ev.CommitSHA)
	setIfNotEmpty(&job.WorkflowName, ev.WorkflowName)
	setIfNotEmpty(&job.RunnerName, ev.RunnerName)
	setIfNotEmpty(&job.RunnerGroup, ev.RunnerGroup)
	if len(ev.Labels) > 0 {
		job.Labels = append([]string(nil), ev.Labels...)
	}
	if ev.InstallationID != 0 {
		id := ev.InstallationID
		job.InstallationID = &id
	}
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
