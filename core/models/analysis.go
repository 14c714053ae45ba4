package models

import "time"

// Severity grades how concerning an observation is
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Stat holds the aggregates of one metric over a sample series
type Stat struct {
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
	Min float64 `json:"min"`
}

// Insight is one graded observation about a metric
type Insight struct {
	Metric      string   `json:"metric"`
	Observation string   `json:"observation"`
	Severity    Severity `json:"severity"`
}

// AnalysisResult is the report produced for a job's sample series
type AnalysisResult struct {
	JobID           int64         `json:"job_id"`
	Summary         string        `json:"summary"`
	SampleCount     int           `json:"sample_count"`
	Duration        time.Duration `json:"-"`
	CPU             Stat          `json:"cpu"`
	Memory          Stat          `json:"memory"`
	Disk            Stat          `json:"disk"`
	LogErrors       int           `json:"log_errors"`
	Insights        []Insight     `json:"insights"`
	Recommendations []string      `json:"recommendations"`
}
