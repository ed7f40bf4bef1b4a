package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFrom(dir, filepath.Join(dir, "config.toml"))
	require.NoError(t, err)

	assert.Equal(t, BackendLocal, cfg.Backend)
	assert.Equal(t, filepath.Join(dir, "chatsync.db"), cfg.DBPath)
	assert.Equal(t, 1200*time.Millisecond, cfg.ReconcileDelay)
	assert.Equal(t, 1, cfg.ReconcileAttempts)
	assert.Equal(t, "select", cfg.MergePolicy)
	assert.Equal(t, DefaultResponderPrompt, cfg.ResponderPrompt)
}

func TestLoadTOMLAndOverrides(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "config.toml")
	writeFile(t, tomlPath, `
backend = "hosted"
subdomain = "abcd"
region = "us-east-1"
reconcile_delay = "2s"
reconcile_attempts = 0
merge_policy = "union"
requests_per_second = 2.5
`)
	writeFile(t, filepath.Join(dir, "responder_prompt.txt"), "Reply to {{latest}}")

	cfg, err := LoadFrom(dir, tomlPath)
	require.NoError(t, err)

	assert.Equal(t, BackendHosted, cfg.Backend)
	assert.Equal(t, "https://abcd.auth.us-east-1.nhost.run/v1", cfg.AuthURL)
	assert.Equal(t, "https://abcd.graphql.us-east-1.nhost.run/v1", cfg.GraphQLURL)
	assert.Equal(t, "wss://abcd.graphql.us-east-1.nhost.run/v1", cfg.GraphQLWSURL)
	assert.Equal(t, 2*time.Second, cfg.ReconcileDelay)
	assert.Equal(t, 0, cfg.ReconcileAttempts)
	assert.Equal(t, "union", cfg.MergePolicy)
	assert.Equal(t, 2.5, cfg.RequestsPerSecond)
	assert.Equal(t, "Reply to {{latest}}", cfg.ResponderPrompt)
}

func TestZeroRequestsPerSecondDisablesLimit(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "config.toml")
	writeFile(t, tomlPath, "requests_per_second = 0\n")

	cfg, err := LoadFrom(dir, tomlPath)
	require.NoError(t, err)
	assert.Zero(t, cfg.RequestsPerSecond)
}

func TestEnvOverridesTOML(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "config.toml")
	writeFile(t, tomlPath, `
merge_policy = "union"
log_level = "info"
`)
	t.Setenv("CHATSYNC_MERGE_POLICY", "select")
	t.Setenv("CHATSYNC_RECONCILE_DELAY", "300ms")
	t.Setenv("CHATSYNC_DB_PATH", filepath.Join(dir, "other.db"))

	cfg, err := LoadFrom(dir, tomlPath)
	require.NoError(t, err)
	assert.Equal(t, "select", cfg.MergePolicy)
	assert.Equal(t, 300*time.Millisecond, cfg.ReconcileDelay)
	assert.Equal(t, filepath.Join(dir, "other.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		toml string
		env  map[string]string
	}{
		{"unknown backend", `backend = "firebase"`, nil},
		{"hosted without endpoints", `backend = "hosted"`, nil},
		{"bad delay", `reconcile_delay = "soon"`, nil},
		{"bad merge policy", `merge_policy = "newest"`, nil},
		{"unknown provider", `provider = "gpt"`, nil},
		{"bad env attempts", ``, map[string]string{"CHATSYNC_RECONCILE_ATTEMPTS": "many"}},
		{"malformed toml", `backend = `, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tomlPath := filepath.Join(dir, "config.toml")
			writeFile(t, tomlPath, tt.toml)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFrom(dir, tomlPath)
			assert.Error(t, err)
		})
	}
}
