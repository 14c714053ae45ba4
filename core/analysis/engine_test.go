package analysis

import (
	"testing"
	"time"

	"runner-insights/core/apperr"
	"runner-insights/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func series(cpu ...float64) []*models.MetricSample {
	out := make([]*models.MetricSample, len(cpu))
	for i, c := range cpu {
		out[i] = &models.MetricSample{
			JobID:         1,
			Timestamp:     t0.Add(time.Duration(i) * SampleInterval),
			CPUPercent:    c,
			MemoryPercent: 30,
			DiskPercent:   40,
		}
	}
	return out
}

func TestAnalyzeNoSamples(t *testing.T) {
	_, err := Analyze(1, nil, "")
	assert.True(t, apperr.IsNotFound(err))
}

func TestAnalyzeCPUPeakScenario(t *testing.T) {
	res, err := Analyze(1, series(10, 50, 92), "")
	require.NoError(t, err)

	assert.Equal(t, 92.0, res.CPU.Max)
	assert.Equal(t, 10.0, res.CPU.Min)
	assert.InDelta(t, 50.67, res.CPU.Avg, 0.01)
	assert.Equal(t, models.SeverityHigh, res.Insights[0].Severity)
	assert.Equal(t, "CPU Usage", res.Insights[0].Metric)
	assert.Equal(t, recCPUHigh, res.Recommendations[0])
	assert.Contains(t, res.Recommendations, recCPUTrend)
	assert.Contains(t, res.Summary, "3 data points")
	assert.Contains(t, res.Summary, "High resource usage")
}

func TestAnalyzeOrdersByTimestamp(t *testing.T) {
	s := series(80, 10, 10, 10)
	s[0], s[3] = s[3], s[0]

	res, err := Analyze(1, s, "")
	require.NoError(t, err)
	// in order the series is 80,10,10,10 which falls, so no trend
	assert.NotContains(t, res.Recommendations, recCPUTrend)
}

func TestAnalyzeHealthy(t *testing.T) {
	res, err := Analyze(1, series(20, 25, 22, 21), "")
	require.NoError(t, err)

	assert.Equal(t, []string{recHealthy}, res.Recommendations)
	for _, in := range res.Insights {
		assert.Equal(t, models.SeverityLow, in.Severity, in.Metric)
	}
	assert.Len(t, res.Insights, 4)
	assert.Equal(t, time.Minute, res.Duration)
	assert.Equal(t, "Job ran for approximately 1m 0s with 4 data points collected.", res.Insights[3].Observation)
	assert.Contains(t, res.Summary, "within healthy limits")
}

func TestAnalyzeSingleSampleHasNoTrend(t *testing.T) {
	res, err := Analyze(1, series(5), "")
	require.NoError(t, err)
	assert.Equal(t, []string{recHealthy}, res.Recommendations)
}

func TestAnalyzeThresholds(t *testing.T) {
	tests := []struct {
		name     string
		mem      float64
		disk     float64
		memSev   models.Severity
		diskSev  models.Severity
		wantRecs []string
	}{
		{"boundary values stay low", 70, 70, models.SeverityLow, models.SeverityLow, []string{recHealthy}},
		{"medium", 80, 75, models.SeverityMedium, models.SeverityMedium, []string{recMemMedium, recDiskMedium}},
		{"high", 90, 95, models.SeverityHigh, models.SeverityHigh, []string{recMemHigh, recMemLeaks, recDiskHigh}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := series(20, 20)
			for _, m := range s {
				m.MemoryPercent = tt.mem
				m.DiskPercent = tt.disk
			}
			res, err := Analyze(1, s, "")
			require.NoError(t, err)
			assert.Equal(t, tt.memSev, res.Insights[1].Severity)
			assert.Equal(t, tt.diskSev, res.Insights[2].Severity)
			assert.Equal(t, tt.wantRecs, res.Recommendations)
		})
	}
}

func TestAnalyzeLogErrors(t *testing.T) {
	logs := "2026-03-01T12:00:00.0000000Z Run make\n2026-03-01T12:00:01.0000000Z Error: build failed\n"
	res, err := Analyze(1, series(20, 20), logs)
	require.NoError(t, err)

	assert.Equal(t, 1, res.LogErrors)
	assert.Len(t, res.Insights, 5)
	assert.Equal(t, "Log Errors", res.Insights[4].Metric)
	assert.Equal(t, []string{"Review the 1 error lines found in the job log"}, res.Recommendations)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	s := series(10, 60, 75, 20)
	a, err := Analyze(1, s, "")
	require.NoError(t, err)
	b, err := Analyze(1, s, "")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
