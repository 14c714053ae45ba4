package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"runner-insights/core/models"

	"github.com/google/uuid"
)

// EventRepository handles database operations for job events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) appendEvent(ctx context.Context, q queryer, event *models.JobEvent) error {
	query := `
		INSERT INTO job_events (id, job_id, at, from_status, from_conclusion, to_status, to_conclusion, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	var fromStatus, fromConclusion sql.NullString
	if event.From != nil {
		fromStatus = nullString(string(event.From.Phase()))
		c, _ := event.From.Conclusion()
		fromConclusion = nullString(string(c))
	}
	toConclusion, _ := event.To.Conclusion()

	meta := event.Meta
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode event meta: %w", err)
	}

	_, err = q.ExecContext(ctx, query,
		event.ID,
		event.JobID,
		event.At,
		fromStatus,
		fromConclusion,
		string(event.To.Phase()),
		nullString(string(toConclusion)),
		event.Reason,
		string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("append event for job %d: %w", event.JobID, err)
	}
	return nil
}

// GetJobEvents retrieves events for a job, newest first
func (r *EventRepository) GetJobEvents(ctx context.Context, jobID int64, limit int) ([]*models.JobEvent, error) {
	query := `
		SELECT id, job_id, at, from_status, from_conclusion, to_status, to_conclusion, reason, meta_json
		FROM job_events
		WHERE job_id = $1
		ORDER BY at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, jobID, NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list events for job %d: %w", jobID, err)
	}
	defer rows.Close()

	var events []*models.JobEvent
	for rows.Next() {
		var event models.JobEvent
		var fromStatus, fromConclusion, toConclusion sql.NullString
		var toStatus string
		var metaJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.JobID,
			&event.At,
			&fromStatus,
			&fromConclusion,
			&toStatus,
			&toConclusion,
			&event.Reason,
			&metaJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		if fromStatus.Valid {
			from, err := models.ParseState(fromStatus.String, fromConclusion.String)
			if err != nil {
				return nil, err
			}
			event.From = &from
		}
		if event.To, err = models.ParseState(toStatus, toConclusion.String); err != nil {
			return nil, err
		}

		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &event.Meta); err != nil {
				return nil, fmt.Errorf("decode event meta: %w", err)
			}
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}
