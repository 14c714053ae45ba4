package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"runner-insights/core/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is a minimal path-style S3 endpoint keeping objects in memory
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestLogStore(t *testing.T) (*S3LogStore, *fakeS3) {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewS3LogStore(context.Background(), S3Config{Bucket: "logs", Region: "us-east-1", Endpoint: srv.URL})
	require.NoError(t, err)
	return store, fake
}

func TestS3LogStorePutGet(t *testing.T) {
	store, fake := newTestLogStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutLog(ctx, "job-logs/7.txt", []byte("hello")))
	assert.Contains(t, fake.objects, "/logs/job-logs/7.txt")

	body, err := store.GetLog(ctx, "job-logs/7.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestS3LogStoreMissingKey(t *testing.T) {
	store, _ := newTestLogStore(t)
	_, err := store.GetLog(context.Background(), "job-logs/404.txt")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestS3LogStorePresign(t *testing.T) {
	store, _ := newTestLogStore(t)
	url, err := store.PresignLog(context.Background(), "job-logs/7.txt", 7*24*time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.Contains(url, "/logs/job-logs/7.txt"))
	assert.Contains(t, url, "X-Amz-Expires=604800")
}

func TestNewS3LogStoreRequiresBucket(t *testing.T) {
	_, err := NewS3LogStore(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}
