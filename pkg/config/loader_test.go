package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnvOverrides blanks the deployment override variables so tests
// observe file and default values only.
func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "HTTP_HOST", "HTTP_PORT"} {
		t.Setenv(key, "")
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streampatterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestInitialize_DefaultsWithoutFile(t *testing.T) {
	clearEnvOverrides(t)

	cfg, err := Initialize(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Store.Addr)
	assert.Equal(t, 3*time.Second, cfg.Store.ReadTimeout)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 256, cfg.Events.SinkBuffer)
	assert.Equal(t, "dlq.orders.v1", cfg.DLQ.Stream)
	assert.Equal(t, int64(3), cfg.DLQ.MaxDeliveries)
	assert.Equal(t, 4, cfg.WorkQueue.WorkerCount)
	assert.Equal(t, 100*time.Millisecond, cfg.WorkQueue.PollInterval)
	assert.Equal(t, "group-", cfg.FanOut.GroupPrefix)
	assert.Equal(t, "events.topic.v1", cfg.TopicRouting.Exchange)
	assert.Equal(t, float64(100), cfg.ContentRouting.StandardMax)
	assert.True(t, cfg.RequestReply.ResponderEnabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.PollInterval)
	assert.Equal(t, "stream-monitor", cfg.Monitor.Group)
	assert.NotEmpty(t, cfg.PubSub.Patterns)
}

func TestInitialize_MissingFileUsesDefaults(t *testing.T) {
	clearEnvOverrides(t)

	path := filepath.Join(t.TempDir(), "no-such-file.yaml")
	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Store.Addr)
	assert.Equal(t, path, cfg.ConfigPath())
}

func TestInitialize_FileOverridesMergeOverDefaults(t *testing.T) {
	clearEnvOverrides(t)

	path := writeConfigFile(t, `
store:
  addr: "redis.example:6380"
  pool_size: 5
  read_timeout: "1s"
server:
  port: 9090
work_queue:
  worker_count: 2
  poll_interval: "50ms"
  poll_interval_jitter: "10ms"
request_reply:
  responder_enabled: false
scheduler:
  batch: 3
`)

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)

	// Overridden values.
	assert.Equal(t, "redis.example:6380", cfg.Store.Addr)
	assert.Equal(t, 5, cfg.Store.PoolSize)
	assert.Equal(t, time.Second, cfg.Store.ReadTimeout)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.WorkQueue.WorkerCount)
	assert.Equal(t, 50*time.Millisecond, cfg.WorkQueue.PollInterval)
	assert.Equal(t, 10*time.Millisecond, cfg.WorkQueue.PollIntervalJitter)
	assert.False(t, cfg.RequestReply.ResponderEnabled)
	assert.Equal(t, int64(3), cfg.Scheduler.Batch)

	// Untouched values keep their defaults.
	assert.Equal(t, 3*time.Second, cfg.Store.WriteTimeout)
	assert.Equal(t, "work-queue.tasks.v1", cfg.WorkQueue.Stream)
	assert.Equal(t, int64(3), cfg.WorkQueue.MaxDeliveries)
	assert.Equal(t, "reminders.v1", cfg.Scheduler.RemindersStream)
	assert.Equal(t, 4, cfg.FanOut.WorkerCount)
}

func TestInitialize_EnvOverridesWinOverFile(t *testing.T) {
	clearEnvOverrides(t)
	path := writeConfigFile(t, `
store:
  addr: "from-file:6379"
server:
  port: 9090
`)
	t.Setenv("REDIS_ADDR", "from-env:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("HTTP_PORT", "7070")

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "from-env:6379", cfg.Store.Addr)
	assert.Equal(t, 2, cfg.Store.DB)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestInitialize_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnvOverrides(t)
	path := writeConfigFile(t, `
store:
  read_timeout: "fast"
`)

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Store.ReadTimeout)
}

func TestInitialize_InvalidYAML(t *testing.T) {
	clearEnvOverrides(t)
	path := writeConfigFile(t, "store: [not: a: mapping\n")

	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitialize_ValidationFailure(t *testing.T) {
	clearEnvOverrides(t)
	path := writeConfigFile(t, `
server:
  port: 99999
`)

	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestConfig_MonitorStreams_DerivedFromPatterns(t *testing.T) {
	clearEnvOverrides(t)
	cfg, err := Initialize(context.Background(), "")
	require.NoError(t, err)

	streams := cfg.MonitorStreams()
	assert.Contains(t, streams, "dlq.orders.v1")
	assert.Contains(t, streams, "dlq.orders.v1:dlq")
	assert.Contains(t, streams, "work-queue.tasks.v1")
	assert.Contains(t, streams, "events.topic.v1")
	assert.Contains(t, streams, "reminders.v1")
	assert.Contains(t, streams, "payments.v1.standard")
	assert.Contains(t, streams, "payments.v1:dlq")
}

func TestConfig_MonitorStreams_ExplicitListWins(t *testing.T) {
	clearEnvOverrides(t)
	path := writeConfigFile(t, `
monitor:
  streams:
    - "only.this.v1"
`)
	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"only.this.v1"}, cfg.MonitorStreams())
}
