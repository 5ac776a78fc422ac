package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/rangebot/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalYAML = `
chain:
  id: 56
  endpoints:
    - url: https://rpc-a.example.org
      name: primary
      priority: 1
    - url: https://rpc-b.example.org
      name: fallback
      priority: 2
      connect_timeout_seconds: 5
      max_retries: 4
      rate_limit_per_sec: 10
`

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, int64(56), cfg.Chain.ID)

	// defaults de retry
	policy := cfg.RetryPolicy()
	assert.Equal(t, 2*time.Second, policy.InitialDelay)
	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, 2.0, policy.BackoffMultiplier)
	assert.Equal(t, time.Minute, policy.MaxDelay)

	// defaults de storage y engine
	assert.Equal(t, "data/state.json", cfg.Storage.StatePath)
	assert.Equal(t, "data/backups", cfg.Storage.BackupsDir)
	assert.Equal(t, "1000000000000", cfg.Engine.DustThresholdWei)
	assert.Equal(t, 3*time.Second, cfg.PollInterval())

	// defaults por endpoint
	assert.Equal(t, 10, cfg.Chain.Endpoints[0].ConnectTimeoutSeconds)
	assert.Equal(t, 2, cfg.Chain.Endpoints[0].MaxRetries)
}

func TestLoad_DomainEndpoints(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	eps := cfg.DomainEndpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, "primary", eps[0].Name)
	assert.Equal(t, 1, eps[0].Priority)
	assert.Equal(t, 5*time.Second, eps[1].ConnectTimeout)
	assert.Equal(t, 4, eps[1].MaxRetries)
	assert.Equal(t, 10.0, eps[1].RateLimit)
}

func TestLoad_MissingChainID(t *testing.T) {
	_, err := config.Load(writeConfig(t, `
chain:
  endpoints:
    - url: https://rpc.example.org
`))
	assert.Error(t, err)
}

func TestLoad_NoEndpoints(t *testing.T) {
	_, err := config.Load(writeConfig(t, `
chain:
  id: 56
`))
	assert.Error(t, err)
}

func TestLoad_EndpointWithoutURL(t *testing.T) {
	_, err := config.Load(writeConfig(t, `
chain:
  id: 56
  endpoints:
    - name: broken
`))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RANGEBOT_STATE_PATH", "/tmp/other-state.json")

	cfg, err := config.Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/other-state.json", cfg.Storage.StatePath)
}

func TestLoad_FileMissing(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
