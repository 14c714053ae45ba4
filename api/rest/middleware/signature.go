// Package middleware holds HTTP middleware shared by the REST routes.
package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/google/go-github/v57/github"
	"github.com/gorilla/mux"
	"github.com/ternarybob/arbor"
)

// VerifySignature rejects requests whose X-Hub-Signature-256 does not match
// the shared webhook secret. The verified payload replaces the request body.
func VerifySignature(secret []byte, logger arbor.ILogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload, err := github.ValidatePayload(r, secret)
			if err != nil {
				logger.Warn().Err(err).Str("delivery", github.DeliveryID(r)).Msg("Rejected webhook with invalid signature")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid webhook signature"}`))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(payload))
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs every request at debug level
func RequestLogger(logger arbor.ILogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Int("status", rec.status).Msg("HTTP request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
