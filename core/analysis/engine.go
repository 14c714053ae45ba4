// Package analysis turns a job's metric series into a graded report.
package analysis

import (
	"fmt"
	"sort"
	"time"

	"runner-insights/core/apperr"
	"runner-insights/core/models"
)

// SampleInterval is the nominal spacing between agent samples, used to
// estimate job duration from the sample count.
const SampleInterval = 15 * time.Second

const (
	cpuHighPeak     = 90.0
	cpuMediumPeak   = 70.0
	memHighPeak     = 85.0
	memMediumPeak   = 70.0
	diskHighAvg     = 85.0
	diskMediumAvg   = 70.0
	summaryHighPeak = 80.0
	trendFactor     = 1.5
)

const (
	recCPUHigh     = "Consider upgrading to a runner with more CPU cores for compute-intensive workflows"
	recCPUMedium   = "CPU usage is healthy but monitor for trends over time"
	recMemHigh     = "Consider optimizing memory usage or upgrading to a runner with more RAM"
	recMemLeaks    = "Review application for potential memory leaks or inefficient memory allocation"
	recMemMedium   = "Memory usage is acceptable but could benefit from optimization"
	recDiskHigh    = "Clean up unnecessary files or increase disk space allocation"
	recDiskMedium  = "Monitor disk usage and plan for cleanup if needed"
	recCPUTrend    = "CPU usage increased significantly during execution. Consider parallelizing tasks or optimizing late-stage operations"
	recHealthy     = "Your job execution looks healthy! No major optimizations needed at this time."
	recLogErrorFmt = "Review the %d error lines found in the job log"
)

// Analyze builds the report for a sample series. Samples may arrive in any
// order; logs is the raw job log or empty when none is archived. The result
// depends only on its inputs.
func Analyze(jobID int64, samples []*models.MetricSample, logs string) (*models.AnalysisResult, error) {
	if len(samples) == 0 {
		return nil, apperr.NotFound("metric samples for job", jobID)
	}

	ordered := make([]*models.MetricSample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	cpu := make([]float64, len(ordered))
	mem := make([]float64, len(ordered))
	disk := make([]float64, len(ordered))
	for i, s := range ordered {
		cpu[i] = s.CPUPercent
		mem[i] = s.MemoryPercent
		disk[i] = s.DiskPercent
	}

	res := &models.AnalysisResult{
		JobID:       jobID,
		SampleCount: len(ordered),
		Duration:    time.Duration(len(ordered)) * SampleInterval,
		CPU:         statOf(cpu),
		Memory:      statOf(mem),
		Disk:        statOf(disk),
		LogErrors:   CountErrorLines(logs),
	}

	var recs []string

	cpuInsight, cpuRecs := gradeCPU(res.CPU)
	memInsight, memRecs := gradeMemory(res.Memory)
	diskInsight, diskRecs := gradeDisk(res.Disk)
	recs = append(recs, cpuRecs...)
	recs = append(recs, memRecs...)
	recs = append(recs, diskRecs...)

	minutes := int(res.Duration / time.Minute)
	seconds := int((res.Duration % time.Minute) / time.Second)
	res.Insights = []models.Insight{
		cpuInsight,
		memInsight,
		diskInsight,
		{
			Metric:      "Execution Time",
			Observation: fmt.Sprintf("Job ran for approximately %dm %ds with %d data points collected.", minutes, seconds, res.SampleCount),
			Severity:    models.SeverityLow,
		},
	}

	if risingTrend(cpu) {
		recs = append(recs, recCPUTrend)
	}

	if res.LogErrors > 0 {
		severity := models.SeverityMedium
		if res.LogErrors >= 10 {
			severity = models.SeverityHigh
		}
		res.Insights = append(res.Insights, models.Insight{
			Metric:      "Log Errors",
			Observation: fmt.Sprintf("The job log contains %d lines reporting errors or failures.", res.LogErrors),
			Severity:    severity,
		})
		recs = append(recs, fmt.Sprintf(recLogErrorFmt, res.LogErrors))
	}

	if len(recs) == 0 {
		recs = []string{recHealthy}
	}
	res.Recommendations = recs
	res.Summary = summarize(res, minutes)
	return res, nil
}

func statOf(values []float64) models.Stat {
	st := models.Stat{Max: values[0], Min: values[0]}
	sum := 0.0
	for _, v := range values {
		sum += v
		if v > st.Max {
			st.Max = v
		}
		if v < st.Min {
			st.Min = v
		}
	}
	st.Avg = sum / float64(len(values))
	return st
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// risingTrend reports whether the second half of the series averages more
// than trendFactor times the first half
func risingTrend(values []float64) bool {
	if len(values) < 2 {
		return false
	}
	mid := len(values) / 2
	return mean(values[mid:]) > mean(values[:mid])*trendFactor
}

func gradeCPU(st models.Stat) (models.Insight, []string) {
	in := models.Insight{Metric: "CPU Usage"}
	switch {
	case st.Max > cpuHighPeak:
		in.Severity = models.SeverityHigh
		in.Observation = fmt.Sprintf("Peak CPU usage reached %.1f%%, indicating intensive computational work. Average CPU usage was %.1f%%.", st.Max, st.Avg)
		return in, []string{recCPUHigh}
	case st.Max > cpuMediumPeak:
		in.Severity = models.SeverityMedium
		in.Observation = fmt.Sprintf("Moderate CPU usage observed with peaks at %.1f%%. Average usage was %.1f%%.", st.Max, st.Avg)
		return in, []string{recCPUMedium}
	default:
		in.Severity = models.SeverityLow
		in.Observation = fmt.Sprintf("CPU usage remained low with an average of %.1f%% and peak of %.1f%%.", st.Avg, st.Max)
		return in, nil
	}
}

func gradeMemory(st models.Stat) (models.Insight, []string) {
	in := models.Insight{Metric: "Memory Usage"}
	switch {
	case st.Max > memHighPeak:
		in.Severity = models.SeverityHigh
		in.Observation = fmt.Sprintf("Memory usage reached %.1f%%, which is approaching critical levels. Average usage was %.1f%%.", st.Max, st.Avg)
		return in, []string{recMemHigh, recMemLeaks}
	case st.Max > memMediumPeak:
		in.Severity = models.SeverityMedium
		in.Observation = fmt.Sprintf("Memory usage was moderate with peaks at %.1f%% and average of %.1f%%.", st.Max, st.Avg)
		return in, []string{recMemMedium}
	default:
		in.Severity = models.SeverityLow
		in.Observation = fmt.Sprintf("Memory usage remained healthy with an average of %.1f%% and peak of %.1f%%.", st.Avg, st.Max)
		return in, nil
	}
}

func gradeDisk(st models.Stat) (models.Insight, []string) {
	in := models.Insight{Metric: "Disk Usage"}
	switch {
	case st.Avg > diskHighAvg:
		in.Severity = models.SeverityHigh
		in.Observation = fmt.Sprintf("Disk usage is high at %.1f%%, which may impact performance and leave little room for temporary files.", st.Avg)
		return in, []string{recDiskHigh}
	case st.Avg > diskMediumAvg:
		in.Severity = models.SeverityMedium
		in.Observation = fmt.Sprintf("Disk usage is at %.1f%%, approaching high levels.", st.Avg)
		return in, []string{recDiskMedium}
	default:
		in.Severity = models.SeverityLow
		in.Observation = fmt.Sprintf("Disk usage is healthy at %.1f%% with adequate free space available.", st.Avg)
		return in, nil
	}
}

func summarize(res *models.AnalysisResult, minutes int) string {
	closing := "Resource usage remained within healthy limits throughout execution."
	if res.CPU.Max > summaryHighPeak || res.Memory.Max > summaryHighPeak {
		closing = "High resource usage was observed during execution, which may indicate optimization opportunities."
	}
	return fmt.Sprintf(
		"The job executed successfully with %d data points collected over approximately %d minutes. Average resource utilization: CPU %.1f%%, Memory %.1f%%, Disk %.1f%%. %s",
		res.SampleCount, minutes, res.CPU.Avg, res.Memory.Avg, res.Disk.Avg, closing,
	)
}
