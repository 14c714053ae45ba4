package telemetry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"runner-insights/core/apperr"
	"runner-insights/core/models"
	"runner-insights/core/repository"
	"runner-insights/core/repository/badgerstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestService(t *testing.T) (*Service, *badgerstore.Store) {
	t.Helper()
	store, err := badgerstore.Open(arbor.NewLogger(), badgerstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.UpsertInstallation(context.Background(), &models.Installation{ID: 1, AccountLogin: "octo"}))

	svc := NewService(store, nil, arbor.NewLogger())
	svc.now = func() time.Time { return baseTime.Add(time.Hour) }
	return svc, store
}

func payloadBody(jobID int64, ts time.Time, cpu float64, rx uint64) []byte {
	return []byte(fmt.Sprintf(`{
		"timestamp": %q,
		"context": {"job_id": %d, "run_id": 500, "repository": "octo/app"},
		"system": {
			"info": {"hostname": "runner-1"},
			"cpu": {"cores": 4, "current_usage": {"usage_percent": %g}},
			"memory": {"total_bytes": 8000, "used_bytes": 2000, "usage_percent": 25},
			"disk": [{"mount": "/data", "use_percentage": 90}, {"mount": "/", "use_percentage": 40}],
			"network": [
				{"interface": "lo", "stats": {"rx_bytes": 999999, "tx_bytes": 999999}},
				{"interface": "eth0", "stats": {"rx_bytes": %d, "tx_bytes": 0}}
			],
			"top_processes": [{"pid": 10, "cpu": 50.5, "mem": 3.2, "user": "runner", "command": "make"}]
		}
	}`, ts.Format(time.RFC3339Nano), jobID, cpu, rx))
}

func ingest(t *testing.T, svc *Service, body []byte) (*models.MetricSample, error) {
	t.Helper()
	p, err := DecodePayload(body)
	require.NoError(t, err)
	return svc.Ingest(context.Background(), p)
}

func TestIngestDerivesNetworkRate(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := ingest(t, svc, payloadBody(1, baseTime, 10, 1000))
	require.NoError(t, err)
	assert.Nil(t, first.NetworkRxRate)

	second, err := ingest(t, svc, payloadBody(1, baseTime.Add(10*time.Second), 50, 6000))
	require.NoError(t, err)
	require.NotNil(t, second.NetworkRxRate)
	assert.InDelta(t, 500.0, *second.NetworkRxRate, 1e-9)
	require.NotNil(t, second.NetworkTxRate)
	assert.Equal(t, 0.0, *second.NetworkTxRate)
}

func TestIngestCreatesProvisionalJob(t *testing.T) {
	svc, store := newTestService(t)

	sample, err := ingest(t, svc, payloadBody(42, baseTime, 10, 0))
	require.NoError(t, err)

	job, samples, err := store.Snapshot(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, job.Provisional)
	assert.Equal(t, models.InProgress(), job.State)
	assert.Equal(t, "Job 42", job.Name)
	assert.Equal(t, int64(500), job.RunID)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, baseTime.Add(time.Hour), *job.StartedAt)
	require.NotNil(t, job.InstallationID)
	assert.Equal(t, int64(1), *job.InstallationID)

	require.Len(t, samples, 1)
	assert.Equal(t, sample.ID, samples[0].ID)
	assert.Equal(t, 40.0, samples[0].DiskPercent)
	assert.Equal(t, uint64(0), samples[0].NetworkRxBytes)
	assert.Equal(t, "make", samples[0].TopProcesses[0].Command)
	assert.JSONEq(t, string(payloadBody(42, baseTime, 10, 0)), string(samples[0].Raw))
}

func TestIngestRejectsUnknownOwner(t *testing.T) {
	svc, store := newTestService(t)
	body := []byte(`{"timestamp":"2026-03-01T12:00:00Z","context":{"job_id":7,"run_id":1,"repository":"stranger/app"},"system":{}}`)

	_, err := ingest(t, svc, body)
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))

	_, err = store.GetJob(context.Background(), 7)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestIngestKnownJobNeedsNoInstallation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.WithJob(ctx, 8, func(tx repository.JobTx) error {
		return tx.SaveJob(ctx, &models.Job{ID: 8, RunID: 1, Repository: "stranger/app", State: models.Queued()})
	}))

	body := []byte(`{"timestamp":"2026-03-01T12:00:00Z","context":{"job_id":"8","run_id":"1","repository":"stranger/app"},"system":{}}`)
	_, err := ingest(t, svc, body)
	require.NoError(t, err)
}

func TestIngestValidation(t *testing.T) {
	svc, _ := newTestService(t)
	cases := map[string]string{
		"missing timestamp": `{"context":{"job_id":1,"run_id":1,"repository":"octo/app"}}`,
		"bad timestamp":     `{"timestamp":"yesterday","context":{"job_id":1,"run_id":1,"repository":"octo/app"}}`,
		"missing job id":    `{"timestamp":"2026-03-01T12:00:00Z","context":{"run_id":1,"repository":"octo/app"}}`,
		"bad repository":    `{"timestamp":"2026-03-01T12:00:00Z","context":{"job_id":1,"run_id":1,"repository":"app"}}`,
		"cpu out of range":  `{"timestamp":"2026-03-01T12:00:00Z","context":{"job_id":1,"run_id":1,"repository":"octo/app"},"system":{"cpu":{"current_usage":{"usage_percent":140}}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ingest(t, svc, []byte(body))
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err), err.Error())
		})
	}
}

func TestIngestOutOfOrderSampleHasNoRate(t *testing.T) {
	svc, store := newTestService(t)

	_, err := ingest(t, svc, payloadBody(3, baseTime.Add(20*time.Second), 10, 5000))
	require.NoError(t, err)
	late, err := ingest(t, svc, payloadBody(3, baseTime.Add(10*time.Second), 10, 3000))
	require.NoError(t, err)
	assert.Nil(t, late.NetworkRxRate)

	_, samples, err := store.Snapshot(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, late.ID, samples[0].ID)
}

func TestIngestCounterResetClampsToZero(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := ingest(t, svc, payloadBody(4, baseTime, 10, 9000))
	require.NoError(t, err)
	after, err := ingest(t, svc, payloadBody(4, baseTime.Add(10*time.Second), 10, 100))
	require.NoError(t, err)
	require.NotNil(t, after.NetworkRxRate)
	assert.Equal(t, 0.0, *after.NetworkRxRate)
}

func TestIngestConcurrentSameJob(t *testing.T) {
	svc, store := newTestService(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ingest(t, svc, payloadBody(6, baseTime.Add(time.Duration(i)*time.Second), 10, uint64(i*100)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	job, samples, err := store.Snapshot(context.Background(), 6)
	require.NoError(t, err)
	assert.True(t, job.Provisional)
	assert.Len(t, samples, 20)

	events, err := store.ListEvents(context.Background(), 6, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestIngestConcurrentSiblingJobs(t *testing.T) {
	svc, store := newTestService(t)
	const jobs = 24

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		jobID := int64(300 + i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ingest(t, svc, payloadBody(jobID, baseTime, 10, 0))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	siblings, err := store.ListJobsByRun(context.Background(), 500)
	require.NoError(t, err)
	require.Len(t, siblings, jobs)
	for _, job := range siblings {
		assert.True(t, job.Provisional)
		_, samples, err := store.Snapshot(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Len(t, samples, 1, "job %d", job.ID)
	}
}
