package handlers

import (
	"errors"
	"net/http"
	"time"

	"runner-insights/core/analysis"
	"runner-insights/core/apperr"
	"runner-insights/core/archival"
	"runner-insights/core/models"
	"runner-insights/core/repository"

	"github.com/ternarybob/arbor"
)

// PresignTTL is how long a signed log URL stays valid
const PresignTTL = 7 * 24 * time.Hour

// JobHandler serves job reads, analysis and archived logs
type JobHandler struct {
	store    repository.Store
	analyzer *analysis.Service
	logs     archival.ObjectStore
	logger   arbor.ILogger
}

// NewJobHandler creates a new job handler. logs may be nil when archival
// is disabled.
func NewJobHandler(store repository.Store, analyzer *analysis.Service, logs archival.ObjectStore, logger arbor.ILogger) *JobHandler {
	return &JobHandler{store: store, analyzer: analyzer, logs: logs, logger: logger}
}

// jobResponse is the job document returned by the API
type jobResponse struct {
	ID             int64        `json:"id"`
	RunID          int64        `json:"run_id"`
	Name           string       `json:"name"`
	Repository     string       `json:"repository"`
	Branch         string       `json:"branch,omitempty"`
	CommitSHA      string       `json:"commit_sha,omitempty"`
	WorkflowName   string       `json:"workflow_name,omitempty"`
	RunnerName     string       `json:"runner_name,omitempty"`
	RunnerGroup    string       `json:"runner_group,omitempty"`
	Labels         []string     `json:"labels,omitempty"`
	State          models.State `json:"state"`
	Provisional    bool         `json:"provisional"`
	StartedAt      *time.Time   `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at"`
	LogArchived    bool         `json:"log_archived"`
	InstallationID *int64       `json:"installation_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func toJobResponse(job *models.Job) jobResponse {
	return jobResponse{
		ID:             job.ID,
		RunID:          job.RunID,
		Name:           job.Name,
		Repository:     job.Repository,
		Branch:         job.Branch,
		CommitSHA:      job.CommitSHA,
		WorkflowName:   job.WorkflowName,
		RunnerName:     job.RunnerName,
		RunnerGroup:    job.RunnerGroup,
		Labels:         job.Labels,
		State:          job.State,
		Provisional:    job.Provisional,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		LogArchived:    job.LogRef != nil,
		InstallationID: job.InstallationID,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

type sampleResponse struct {
	ID               string           `json:"id"`
	Timestamp        time.Time        `json:"timestamp"`
	Hostname         string           `json:"hostname"`
	CPUCores         int              `json:"cpu_cores"`
	CPUPercent       float64          `json:"cpu_percent"`
	MemoryTotalBytes uint64           `json:"memory_total_bytes"`
	MemoryUsedBytes  uint64           `json:"memory_used_bytes"`
	MemoryPercent    float64          `json:"memory_percent"`
	DiskPercent      float64          `json:"disk_percent"`
	NetworkRxBytes   uint64           `json:"network_rx_bytes"`
	NetworkTxBytes   uint64           `json:"network_tx_bytes"`
	NetworkRxRate    *float64         `json:"network_rx_rate"`
	NetworkTxRate    *float64         `json:"network_tx_rate"`
	TopProcesses     []models.Process `json:"top_processes"`
}

func toSampleResponse(s *models.MetricSample) sampleResponse {
	return sampleResponse{
		ID:               s.ID,
		Timestamp:        s.Timestamp,
		Hostname:         s.Hostname,
		CPUCores:         s.CPUCores,
		CPUPercent:       s.CPUPercent,
		MemoryTotalBytes: s.MemoryTotalBytes,
		MemoryUsedBytes:  s.MemoryUsedBytes,
		MemoryPercent:    s.MemoryPercent,
		DiskPercent:      s.DiskPercent,
		NetworkRxBytes:   s.NetworkRxBytes,
		NetworkTxBytes:   s.NetworkTxBytes,
		NetworkRxRate:    s.NetworkRxRate,
		NetworkTxRate:    s.NetworkTxRate,
		TopProcesses:     s.TopProcesses,
	}
}

func notFoundJob(err error, jobID int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("job", jobID)
	}
	return err
}

// GetJob handles GET /jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	job, samples, err := h.store.Snapshot(r.Context(), jobID)
	if err != nil {
		writeError(w, h.logger, r, notFoundJob(err, jobID))
		return
	}

	items := make([]sampleResponse, len(samples))
	for i, s := range samples {
		items[i] = toSampleResponse(s)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":     toJobResponse(job),
		"samples": items,
	})
}

// ListJobs handles GET /jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	filter := models.JobFilter{
		Repository: r.URL.Query().Get("repository"),
		Limit:      limit,
	}
	if status := r.URL.Query().Get("status"); status != "" {
		phase := models.Phase(status)
		switch phase {
		case models.PhaseQueued, models.PhaseInProgress, models.PhaseCompleted:
			filter.Phase = phase
		default:
			writeError(w, h.logger, r, apperr.Validation("status", "must be queued, in_progress or completed"))
			return
		}
	}

	jobs, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJobs(w, jobs)
}

// ListRunJobs handles GET /runs/{runId}/jobs
func (h *JobHandler) ListRunJobs(w http.ResponseWriter, r *http.Request) {
	runID, err := pathID(r, "runId")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	jobs, err := h.store.ListJobsByRun(r.Context(), runID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJobs(w, jobs)
}

func writeJobs(w http.ResponseWriter, jobs []*models.Job) {
	items := make([]jobResponse, len(jobs))
	for i, job := range jobs {
		items[i] = toJobResponse(job)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// Analyze handles POST /jobs/{id}/analyze
func (h *JobHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	res, err := h.analyzer.Analyze(r.Context(), jobID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":           res.JobID,
		"summary":          res.Summary,
		"sample_count":     res.SampleCount,
		"duration_seconds": int64(res.Duration / time.Second),
		"stats": map[string]models.Stat{
			"cpu":    res.CPU,
			"memory": res.Memory,
			"disk":   res.Disk,
		},
		"log_errors":      res.LogErrors,
		"insights":        res.Insights,
		"recommendations": res.Recommendations,
	})
}

// GetJobEvents handles GET /jobs/{id}/events
func (h *JobHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	if _, err := h.store.GetJob(r.Context(), jobID); err != nil {
		writeError(w, h.logger, r, notFoundJob(err, jobID))
		return
	}

	events, err := h.store.ListEvents(r.Context(), jobID, limit)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	items := make([]map[string]interface{}, len(events))
	for i, event := range events {
		item := map[string]interface{}{
			"at":     event.At,
			"to":     event.To,
			"reason": event.Reason,
		}
		if event.From != nil {
			item["from"] = *event.From
		}
		if len(event.Meta) > 0 {
			item["meta"] = event.Meta
		}
		items[i] = item
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// GetJobLog handles GET /jobs/{id}/logs. With ?signed=true it returns a
// presigned URL instead of the text; ?sanitize=true trims the log to the
// lines around errors.
func (h *JobHandler) GetJobLog(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, h.logger, r, notFoundJob(err, jobID))
		return
	}
	if job.LogRef == nil || h.logs == nil {
		writeError(w, h.logger, r, apperr.NotFound("archived log for job", jobID))
		return
	}

	if r.URL.Query().Get("signed") == "true" {
		url, err := h.logs.PresignLog(r.Context(), *job.LogRef, PresignTTL)
		if err != nil {
			writeError(w, h.logger, r, apperr.Upstream("object storage", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"url":        url,
			"expires_at": time.Now().Add(PresignTTL).UTC(),
		})
		return
	}

	body, err := h.logs.GetLog(r.Context(), *job.LogRef)
	if err != nil {
		if !apperr.IsNotFound(err) {
			err = apperr.Upstream("object storage", err)
		}
		writeError(w, h.logger, r, err)
		return
	}

	text := string(body)
	if r.URL.Query().Get("sanitize") == "true" {
		text = analysis.SanitizeLog(text)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}
