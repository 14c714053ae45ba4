package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector(func() int { return 3 })
	c.RecordIngest("accepted")
	c.RecordIngest("accepted")
	c.RecordLifecycle("completed", "applied")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.samplesIngested.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lifecycleEvents.WithLabelValues("completed", "applied")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.jobLocksHeld))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordIngest("accepted")
		c.RecordArchival("failed")
		c.SetArchivalQueueDepth(4)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(nil)
	c.RecordArchival("archived")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `runner_insights_log_archival_total{result="archived"} 1`))
}
