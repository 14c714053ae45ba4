package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"runner-insights/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to TEST_DATABASE_URL and applies migrations.
// Tests are skipped when the variable is unset.
func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, Migrate(dsn, "up"))

	db, err := NewDB(dsn)
	require.NoError(t, err)
	store := NewPostgresStore(db)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresStoreJobRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	jobID := time.Now().UnixNano()

	started := time.Now().UTC().Truncate(time.Microsecond)
	err := store.WithJob(ctx, jobID, func(tx JobTx) error {
		_, err := tx.GetJob(ctx)
		require.ErrorIs(t, err, ErrNotFound)

		job := &models.Job{
			ID:         jobID,
			RunID:      99,
			Name:       "build",
			Repository: "octo/app",
			Labels:     []string{"self-hosted", "linux"},
			State:      models.InProgress(),
			StartedAt:  &started,
		}
		if err := tx.SaveJob(ctx, job); err != nil {
			return err
		}
		return tx.InsertSample(ctx, &models.MetricSample{
			Timestamp:  started,
			ReceivedAt: started,
			CPUPercent: 12.5,
			Raw:        []byte(`{"a": 1}`),
		})
	})
	require.NoError(t, err)

	job, samples, err := store.Snapshot(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.InProgress(), job.State)
	assert.Equal(t, []string{"self-hosted", "linux"}, job.Labels)
	require.Len(t, samples, 1)
	assert.Equal(t, 12.5, samples[0].CPUPercent)
	assert.Equal(t, `{"a": 1}`, string(samples[0].Raw))
}

func TestPostgresJobTxFindsInstallationOnItsOwnConnection(t *testing.T) {
	store := openTestStore(t)
	// one connection: any lookup outside the job transaction would block forever
	store.db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	login := "acct-" + time.Now().Format("150405.000000000")
	require.NoError(t, store.UpsertInstallation(ctx, &models.Installation{ID: time.Now().UnixNano(), AccountLogin: login}))

	err := store.WithJob(ctx, time.Now().UnixNano(), func(tx JobTx) error {
		inst, err := tx.FindInstallation(ctx, login)
		if err != nil {
			return err
		}
		assert.Equal(t, login, inst.AccountLogin)
		return nil
	})
	require.NoError(t, err)
}
