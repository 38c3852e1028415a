package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes content to a temp config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
organization: contoso
project: widgets
personal_access_token: secret-pat
watched_users:
  - Jane Smith
  - Bob Jones
reviewer_id: abc-123
`

func TestLoad_Success(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ProviderAzureDevOps, cfg.Provider)
	assert.Equal(t, "contoso", cfg.Organization)
	assert.Equal(t, "widgets", cfg.Project)
	assert.Equal(t, "secret-pat", cfg.PersonalAccessToken)
	assert.Equal(t, []string{"Jane Smith", "Bob Jones"}, cfg.WatchedUsers)
	assert.Equal(t, "abc-123", cfg.ReviewerID)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "Auto-approved by fast-ado-pr-reviewer", cfg.ApprovalComment)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ExplicitDurations(t *testing.T) {
	path := writeConfig(t, validConfig+`
poll_interval: 2m
request_timeout: 5s
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
}

func TestLoad_InvalidInterval(t *testing.T) {
	path := writeConfig(t, validConfig+`
poll_interval: not-a-duration
`)

	cfg, err := Load(path)

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval")
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	assert.Nil(t, cfg)
	require.Error(t, err)
}

func TestLoad_MissingOrganization(t *testing.T) {
	path := writeConfig(t, `
project: widgets
personal_access_token: secret-pat
watched_users: [Jane Smith]
`)

	cfg, err := Load(path)

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organization")
}

func TestLoad_MissingToken(t *testing.T) {
	path := writeConfig(t, `
organization: contoso
project: widgets
watched_users: [Jane Smith]
`)

	cfg, err := Load(path)

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "personal_access_token")
}

func TestLoad_EmptyWatchedUsers(t *testing.T) {
	path := writeConfig(t, `
organization: contoso
project: widgets
personal_access_token: secret-pat
watched_users: []
`)

	cfg, err := Load(path)

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watched_users")
}

func TestLoad_UnknownProvider(t *testing.T) {
	path := writeConfig(t, validConfig+`
provider: gitlab
`)

	cfg, err := Load(path)

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")
}

func TestLoad_TokenEnvOverride(t *testing.T) {
	t.Setenv(TokenEnvVar, "env-pat")
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "env-pat", cfg.PersonalAccessToken)
}

func TestLoad_TokenFromEnvOnly(t *testing.T) {
	t.Setenv(TokenEnvVar, "env-pat")
	path := writeConfig(t, `
organization: contoso
project: widgets
watched_users: [Jane Smith]
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "env-pat", cfg.PersonalAccessToken)
}

func TestSave_RoundTrip(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	cfg.ReviewerID = "new-reviewer-id"
	require.NoError(t, cfg.Save(path))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "new-reviewer-id", reloaded.ReviewerID)
	assert.Equal(t, cfg.WatchedUsers, reloaded.WatchedUsers)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
