package handlers

import (
	"io"
	"net/http"
	"time"

	"runner-insights/core/apperr"
	"runner-insights/core/lifecycle"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
)

// WebhookHandler receives GitHub App webhooks. Signatures are checked by
// middleware before the handler runs.
type WebhookHandler struct {
	processor *lifecycle.Processor
	logger    arbor.ILogger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(processor *lifecycle.Processor, logger arbor.ILogger) *WebhookHandler {
	return &WebhookHandler{processor: processor, logger: logger}
}

// Receive handles POST /webhooks/lifecycle
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	eventType := github.WebHookType(r)
	if eventType == "" {
		writeError(w, h.logger, r, apperr.Validation("X-GitHub-Event", "required"))
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, h.logger, r, apperr.Validation("body", "unreadable"))
		return
	}

	var outcome lifecycle.Outcome
	switch eventType {
	case "ping":
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	case "workflow_job", "installation":
		event, err := github.ParseWebHook(eventType, payload)
		if err != nil {
			writeError(w, h.logger, r, apperr.Validation("body", err.Error()))
			return
		}
		switch e := event.(type) {
		case *github.WorkflowJobEvent:
			outcome, err = h.processor.Handle(r.Context(), workflowJobEvent(e))
		case *github.InstallationEvent:
			outcome, err = h.processor.HandleInstallation(r.Context(), installationEvent(e))
		}
		if err != nil {
			writeError(w, h.logger, r, err)
			return
		}
	default:
		h.logger.Debug().Str("event", eventType).Str("delivery", github.DeliveryID(r)).Msg("Ignoring webhook event type")
		outcome = lifecycle.OutcomeIgnored
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

func workflowJobEvent(e *github.WorkflowJobEvent) lifecycle.Event {
	job := e.GetWorkflowJob()
	return lifecycle.Event{
		Action:         lifecycle.Action(e.GetAction()),
		JobID:          job.GetID(),
		RunID:          job.GetRunID(),
		Name:           job.GetName(),
		Repository:     e.GetRepo().GetFullName(),
		Branch:         job.GetHeadBranch(),
		CommitSHA:      job.GetHeadSHA(),
		WorkflowName:   job.GetWorkflowName(),
		RunnerName:     job.GetRunnerName(),
		RunnerGroup:    job.GetRunnerGroupName(),
		Labels:         job.Labels,
		Conclusion:     job.GetConclusion(),
		StartedAt:      timestampPtr(job.StartedAt),
		CompletedAt:    timestampPtr(job.CompletedAt),
		InstallationID: e.GetInstallation().GetID(),
	}
}

func installationEvent(e *github.InstallationEvent) lifecycle.InstallationEvent {
	inst := e.GetInstallation()
	ev := lifecycle.InstallationEvent{
		Action:       lifecycle.InstallationAction(e.GetAction()),
		ID:           inst.GetID(),
		AccountLogin: inst.GetAccount().GetLogin(),
		AccountType:  inst.GetAccount().GetType(),
	}
	if ts := timestampPtr(inst.CreatedAt); ts != nil && ev.Action == lifecycle.InstallationCreated {
		ev.At = *ts
	}
	return ev
}

func timestampPtr(ts *github.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.UTC()
	return &t
}
