package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{"SERVER_PORT", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_URL", "AUTO_MIGRATE", "BADGER_PATH",
		"GITHUB_TOKEN", "GITHUB_WEBHOOK_SECRET", "GITHUB_BASE_URL", "AWS_REGION", "S3_ENDPOINT", "ARCHIVE_BUCKET"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_WEBHOOK_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "s3cret", cfg.GitHub.WebhookSecret)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, 72*time.Hour, cfg.Archive.SweepMaxAge)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadHeaderTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
}

func TestLoadYAMLThenEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: "9090"
  read_header_timeout: 3s
store:
  driver: badger
  badger_path: /tmp/ri
github:
  webhook_secret: from-file
  token: ghs_x
archive:
  enabled: true
  bucket: logs
  attempt_timeout: 5s
`)
	t.Setenv("SERVER_PORT", "9191")
	t.Setenv("AUTO_MIGRATE", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9191", cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadHeaderTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DriverBadger, cfg.Store.Driver)
	assert.False(t, cfg.Store.AutoMigrate)
	assert.Equal(t, "from-file", cfg.GitHub.WebhookSecret)
	assert.Equal(t, 5*time.Second, cfg.Archive.AttemptTimeout)
	assert.Equal(t, 2, cfg.Archive.Workers)
}

func TestArchiveBucketEnvEnablesArchival(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_WEBHOOK_SECRET", "s")
	t.Setenv("ARCHIVE_BUCKET", "job-logs")
	t.Setenv("GITHUB_TOKEN", "ghs_y")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "job-logs", cfg.Archive.Bucket)
}

func TestArchiveBucketInYAMLEnablesArchival(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
github:
  webhook_secret: s
  token: ghs_z
archive:
  bucket: yaml-logs
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "yaml-logs", cfg.Archive.Bucket)
}

func TestLoadValidation(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		yaml string
	}{
		{"missing secret", "server:\n  port: \"8080\"\n"},
		{"bad port", "server:\n  port: \"http\"\ngithub:\n  webhook_secret: s\n"},
		{"unknown driver", "store:\n  driver: mongo\ngithub:\n  webhook_secret: s\n"},
		{"archive without bucket", "github:\n  webhook_secret: s\n  token: t\narchive:\n  enabled: true\n"},
		{"archive without token", "github:\n  webhook_secret: s\narchive:\n  enabled: true\n  bucket: b\n"},
		{"bucket without token", "github:\n  webhook_secret: s\narchive:\n  bucket: b\n"},
		{"negative read timeout", "server:\n  read_timeout: -1s\ngithub:\n  webhook_secret: s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
