package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("RELAY_URL", "http://relay:8080")
	t.Setenv("RELAY_WORKER_TOKEN", "worker-secret")
	t.Setenv("DISCORD_BOT_TOKEN", "bot-token")
}

func TestLoadWorkerConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := loadWorkerConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://relay:8080", cfg.RelayURL)
	assert.Equal(t, []string{"mirror", "role-sync"}, cfg.Queues)
	assert.Equal(t, 5, cfg.ClaimLimit)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.WorkerID)
}

func TestLoadWorkerConfig_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WORKER_ID", "worker-a")
	t.Setenv("WORKER_QUEUES", "role-sync")
	t.Setenv("WORKER_CLAIM_LIMIT", "20")
	t.Setenv("WORKER_POLL_INTERVAL", "500ms")

	cfg, err := loadWorkerConfig()
	require.NoError(t, err)
	assert.Equal(t, "worker-a", cfg.WorkerID)
	assert.Equal(t, []string{"role-sync"}, cfg.Queues)
	assert.Equal(t, 20, cfg.ClaimLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
}

func TestLoadWorkerConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"missing relay url", "RELAY_URL", "", "RELAY_URL"},
		{"unknown queue", "WORKER_QUEUES", "mirror,billing", "unknown queue"},
		{"zero claim limit", "WORKER_CLAIM_LIMIT", "0", "WORKER_CLAIM_LIMIT"},
		{"non-numeric claim limit", "WORKER_CLAIM_LIMIT", "many", "ClaimLimit"},
		{"negative poll interval", "WORKER_POLL_INTERVAL", "-1s", "WORKER_POLL_INTERVAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := loadWorkerConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
