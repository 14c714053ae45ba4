package routes

import (
	"net/http"
	"time"

	"runner-insights/api/rest/handlers"
	"runner-insights/api/rest/middleware"
	"runner-insights/core/analysis"
	"runner-insights/core/archival"
	"runner-insights/core/lifecycle"
	"runner-insights/core/monitoring"
	"runner-insights/core/repository"
	"runner-insights/core/telemetry"

	"github.com/gorilla/mux"
	"github.com/ternarybob/arbor"
)

// Dependencies are the services the API is built on
type Dependencies struct {
	Store         repository.Store
	Ingest        *telemetry.Service
	Processor     *lifecycle.Processor
	Analyzer      *analysis.Service
	Logs          archival.ObjectStore // nil disables log endpoints
	Metrics       *monitoring.Collector
	WebhookSecret string
	Logger        arbor.ILogger
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, deps Dependencies) {
	r.Use(middleware.RequestLogger(deps.Logger))

	metricsHandler := handlers.NewMetricsHandler(deps.Ingest, deps.Logger)
	webhookHandler := handlers.NewWebhookHandler(deps.Processor, deps.Logger)
	jobHandler := handlers.NewJobHandler(deps.Store, deps.Analyzer, deps.Logs, deps.Logger)

	// Runner telemetry
	r.HandleFunc("/metrics", metricsHandler.Ingest).Methods("POST")

	// GitHub webhooks
	hooks := r.PathPrefix("/webhooks").Subrouter()
	hooks.Use(middleware.VerifySignature([]byte(deps.WebhookSecret), deps.Logger))
	hooks.HandleFunc("/lifecycle", webhookHandler.Receive).Methods("POST")
	hooks.HandleFunc("/github", webhookHandler.Receive).Methods("POST")

	// Job endpoints
	r.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	r.HandleFunc("/jobs/{id}/analyze", jobHandler.Analyze).Methods("POST")
	r.HandleFunc("/jobs/{id}/events", jobHandler.GetJobEvents).Methods("GET")
	r.HandleFunc("/jobs/{id}/logs", jobHandler.GetJobLog).Methods("GET")
	r.HandleFunc("/runs/{runId}/jobs", jobHandler.ListRunJobs).Methods("GET")

	r.HandleFunc("/health", handlers.Health(time.Now())).Methods("GET")
	r.Handle("/internal/metrics", metricsEndpoint(deps.Metrics)).Methods("GET")
}

func metricsEndpoint(c *monitoring.Collector) http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return c.Handler()
}
