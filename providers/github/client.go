package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"runner-insights/core/apperr"
	"runner-insights/core/models"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// maxLogBytes caps how much of a job log is downloaded
const maxLogBytes = 64 << 20

// Config configures the GitHub API client
type Config struct {
	Token             string
	BaseURL           string // set for GitHub Enterprise Server
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client fetches workflow job logs from the GitHub Actions API
type Client struct {
	gh      *github.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewClient creates an authenticated, rate-limited GitHub client
func NewClient(ctx context.Context, cfg Config, logger arbor.ILogger) (*Client, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, httpClient), ts)
	}

	gh := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("github enterprise url: %w", err)
		}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		gh:      gh,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}, nil
}

// FetchJobLog downloads the plain-text log of a workflow job. A log that
// GitHub no longer has is reported as a NotFoundError.
func (c *Client) FetchJobLog(ctx context.Context, job models.Job) (string, error) {
	owner, repo := job.Owner(), job.RepoName()
	if owner == "" || repo == "" {
		return "", apperr.Validation("repository", fmt.Sprintf("job %d has no owner/name repository", job.ID))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	logURL, resp, err := c.gh.Actions.GetWorkflowJobLogs(ctx, owner, repo, job.ID, 10)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone) {
			return "", apperr.NotFound("job log", job.ID)
		}
		return "", fmt.Errorf("get job log url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logURL.String(), nil)
	if err != nil {
		return "", err
	}
	raw, err := c.gh.Client().Do(req)
	if err != nil {
		return "", fmt.Errorf("download job log: %w", err)
	}
	defer raw.Body.Close()

	if raw.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download job log: status %d", raw.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(raw.Body, maxLogBytes))
	if err != nil {
		return "", fmt.Errorf("read job log: %w", err)
	}

	c.logger.Debug().Int64("job_id", job.ID).Int("bytes", len(body)).Msg("Fetched job log")
	return string(body), nil
}
