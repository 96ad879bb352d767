package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("SUMMARY_TURN_INTERVAL", "")
	t.Setenv("CRON_ENABLED", "")

	env, err := Get()
	require.NoError(t, err)

	assert.Equal(t, 8080, env.PORT)
	assert.Equal(t, "postgres", env.DB_DRIVER)
	assert.True(t, env.CRON_ENABLED)
	assert.Equal(t, 30*time.Second, env.ANSWER_TIMEOUT)
	assert.Equal(t, DefaultOrchestration(), env.Orchestration)
}

func TestGetOrchestrationOverrides(t *testing.T) {
	t.Setenv("SUMMARY_TURN_INTERVAL", "5")
	t.Setenv("SUMMARY_TOKEN_THRESHOLD", "not-a-number")
	t.Setenv("STREAM_CHUNK_DELAY_MS", "0")
	t.Setenv("CRON_ENABLED", "false")

	env, err := Get()
	require.NoError(t, err)

	assert.Equal(t, 5, env.Orchestration.SummaryTurnInterval)
	assert.Equal(t, 8000, env.Orchestration.SummaryTokenThreshold)
	assert.Equal(t, time.Duration(0), env.Orchestration.StreamChunkDelay)
	assert.False(t, env.CRON_ENABLED)
}
