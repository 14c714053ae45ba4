// Package archival copies the execution log of completed jobs from the CI
// platform into object storage, off the request path.
package archival

import (
	"context"
	"fmt"
	"time"

	"runner-insights/core/apperr"
	"runner-insights/core/models"
)

// LogSource fetches the raw log of a job from the CI platform
type LogSource interface {
	FetchJobLog(ctx context.Context, job models.Job) (string, error)
}

// ObjectStore persists archived logs
type ObjectStore interface {
	PutLog(ctx context.Context, key string, body []byte) error
	GetLog(ctx context.Context, key string) ([]byte, error)
	PresignLog(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Adapter fetches a job's log and archives it, returning the stored reference
type Adapter interface {
	FetchAndArchive(ctx context.Context, job models.Job) (string, error)
}

// LogKey is the object key of a job's archived log
func LogKey(jobID int64) string {
	return fmt.Sprintf("job-logs/%d.txt", jobID)
}

// Archiver implements Adapter over a LogSource and an ObjectStore
type Archiver struct {
	source  LogSource
	objects ObjectStore
}

// NewArchiver creates an archiver
func NewArchiver(source LogSource, objects ObjectStore) *Archiver {
	return &Archiver{source: source, objects: objects}
}

// FetchAndArchive downloads the job's log and uploads it under LogKey
func (a *Archiver) FetchAndArchive(ctx context.Context, job models.Job) (string, error) {
	text, err := a.source.FetchJobLog(ctx, job)
	if err != nil {
		if apperr.IsNotFound(err) || apperr.IsValidation(err) {
			return "", err
		}
		return "", apperr.Upstream("github", err)
	}

	key := LogKey(job.ID)
	if err := a.objects.PutLog(ctx, key, []byte(text)); err != nil {
		return "", apperr.Upstream("object storage", err)
	}
	return key, nil
}
