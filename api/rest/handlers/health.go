package handlers

import (
	"net/http"
	"time"
)

// Health handles GET /health
func Health(started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(started) / time.Second),
		})
	}
}
