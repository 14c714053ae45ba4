package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"runner-insights/core/apperr"
	"runner-insights/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), Config{Token: "t0ken", BaseURL: srv.URL + "/", RequestsPerSecond: 100}, arbor.NewLogger())
	require.NoError(t, err)
	return c
}

func TestFetchJobLogFollowsRedirect(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/app/actions/jobs/42/logs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t0ken", r.Header.Get("Authorization"))
		http.Redirect(w, r, srvURL+"/blob/42.txt", http.StatusFound)
	})
	mux.HandleFunc("/blob/42.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "line one\nError: boom\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c, err := NewClient(context.Background(), Config{Token: "t0ken", BaseURL: srv.URL + "/", RequestsPerSecond: 100}, arbor.NewLogger())
	require.NoError(t, err)

	log, err := c.FetchJobLog(context.Background(), models.Job{ID: 42, Repository: "octo/app"})
	require.NoError(t, err)
	assert.Equal(t, "line one\nError: boom\n", log)
}

func TestFetchJobLogMissing(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))

	_, err := c.FetchJobLog(context.Background(), models.Job{ID: 1, Repository: "octo/app"})
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestFetchJobLogNeedsRepository(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.FetchJobLog(context.Background(), models.Job{ID: 1, Repository: "noslash"})
	assert.True(t, apperr.IsValidation(err))
}
