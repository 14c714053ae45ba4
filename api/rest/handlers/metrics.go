package handlers

import (
	"io"
	"net/http"

	"runner-insights/core/apperr"
	"runner-insights/core/telemetry"

	"github.com/ternarybob/arbor"
)

const maxPayloadBytes = 1 << 20

// MetricsHandler accepts telemetry from runner agents
type MetricsHandler struct {
	ingest *telemetry.Service
	logger arbor.ILogger
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(ingest *telemetry.Service, logger arbor.ILogger) *MetricsHandler {
	return &MetricsHandler{ingest: ingest, logger: logger}
}

// Ingest handles POST /metrics
func (h *MetricsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, h.logger, r, apperr.Validation("body", "unreadable or larger than 1 MiB"))
		return
	}

	payload, err := telemetry.DecodePayload(body)
	if err != nil {
		writeError(w, h.logger, r, apperr.Validation("body", "invalid JSON: "+err.Error()))
		return
	}

	sample, err := h.ingest.Ingest(r.Context(), payload)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     sample.ID,
		"job_id": sample.JobID,
	})
}
