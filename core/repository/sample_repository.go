package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"runner-insights/core/models"

	"github.com/google/uuid"
)

// SampleRepository handles database operations for metric samples
type SampleRepository struct {
	db *DB
}

// NewSampleRepository creates a new sample repository
func NewSampleRepository(db *DB) *SampleRepository {
	return &SampleRepository{db: db}
}

const sampleColumns = `
	id, job_id, ts, received_at, hostname, cpu_cores, cpu_percent,
	memory_total_bytes, memory_used_bytes, memory_percent, disk_percent,
	network_rx_bytes, network_tx_bytes, network_rx_rate, network_tx_rate,
	top_processes, raw_payload`

func (r *SampleRepository) insertSample(ctx context.Context, q queryer, s *models.MetricSample) error {
	query := `
		INSERT INTO metric_samples (` + sampleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	processes := s.TopProcesses
	if processes == nil {
		processes = []models.Process{}
	}
	processesJSON, err := json.Marshal(processes)
	if err != nil {
		return fmt.Errorf("encode top processes: %w", err)
	}

	var raw sql.NullString
	if len(s.Raw) > 0 {
		raw = sql.NullString{String: string(s.Raw), Valid: true}
	}

	_, err = q.ExecContext(ctx, query,
		s.ID,
		s.JobID,
		s.Timestamp,
		s.ReceivedAt,
		s.Hostname,
		s.CPUCores,
		s.CPUPercent,
		int64(s.MemoryTotalBytes),
		int64(s.MemoryUsedBytes),
		s.MemoryPercent,
		s.DiskPercent,
		int64(s.NetworkRxBytes),
		int64(s.NetworkTxBytes),
		nullFloat(s.NetworkRxRate),
		nullFloat(s.NetworkTxRate),
		string(processesJSON),
		raw,
	)
	if err != nil {
		return fmt.Errorf("insert sample for job %d: %w", s.JobID, err)
	}
	return nil
}

func (r *SampleRepository) latestSample(ctx context.Context, q queryer, jobID int64) (*models.MetricSample, error) {
	query := `
		SELECT ` + sampleColumns + ` FROM metric_samples
		WHERE job_id = $1
		ORDER BY ts DESC, received_at DESC
		LIMIT 1
	`
	s, err := scanSample(q.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest sample for job %d: %w", jobID, err)
	}
	return s, nil
}

func (r *SampleRepository) listSamples(ctx context.Context, q queryer, jobID int64) ([]*models.MetricSample, error) {
	query := `
		SELECT ` + sampleColumns + ` FROM metric_samples
		WHERE job_id = $1
		ORDER BY ts, received_at
	`
	rows, err := q.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list samples for job %d: %w", jobID, err)
	}
	defer rows.Close()

	var samples []*models.MetricSample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func scanSample(row rowScanner) (*models.MetricSample, error) {
	var s models.MetricSample
	var (
		memTotal, memUsed int64
		rx, tx            int64
		rxRate, txRate    sql.NullFloat64
		processesJSON     []byte
		raw               sql.NullString
	)

	err := row.Scan(
		&s.ID,
		&s.JobID,
		&s.Timestamp,
		&s.ReceivedAt,
		&s.Hostname,
		&s.CPUCores,
		&s.CPUPercent,
		&memTotal,
		&memUsed,
		&s.MemoryPercent,
		&s.DiskPercent,
		&rx,
		&tx,
		&rxRate,
		&txRate,
		&processesJSON,
		&raw,
	)
	if err != nil {
		return nil, err
	}

	s.MemoryTotalBytes = uint64(memTotal)
	s.MemoryUsedBytes = uint64(memUsed)
	s.NetworkRxBytes = uint64(rx)
	s.NetworkTxBytes = uint64(tx)
	if rxRate.Valid {
		v := rxRate.Float64
		s.NetworkRxRate = &v
	}
	if txRate.Valid {
		v := txRate.Float64
		s.NetworkTxRate = &v
	}
	if len(processesJSON) > 0 {
		if err := json.Unmarshal(processesJSON, &s.TopProcesses); err != nil {
			return nil, fmt.Errorf("decode top processes: %w", err)
		}
	}
	if raw.Valid {
		s.Raw = json.RawMessage(raw.String)
	}

	return &s, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
