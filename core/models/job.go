package models

import (
	"strings"
	"time"
)

// Job is one CI job executed on a self-hosted runner, keyed by the
// platform's job id
type Job struct {
	ID             int64
	RunID          int64 // not indexed: sibling jobs would share one index key and conflict on write
	Name           string
	Repository     string // owner/name
	Branch         string
	CommitSHA      string
	WorkflowName   string
	RunnerName     string
	RunnerGroup    string
	Labels         []string
	InstallationID *int64
	State          State
	StartedAt      *time.Time
	CompletedAt    *time.Time
	LogRef         *string // object key of the archived log
	Provisional    bool    // created from telemetry before any lifecycle event
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Owner returns the account part of the repository identifier
func (j *Job) Owner() string {
	return RepositoryOwner(j.Repository)
}

// RepoName returns the name part of the repository identifier
func (j *Job) RepoName() string {
	_, name, _ := strings.Cut(j.Repository, "/")
	return name
}

// RepositoryOwner returns the owner of an "owner/name" identifier
func RepositoryOwner(repository string) string {
	owner, _, _ := strings.Cut(repository, "/")
	return owner
}

// JobFilter narrows job listings
type JobFilter struct {
	Repository string
	Phase      Phase
	RunID      int64
	Limit      int
}
