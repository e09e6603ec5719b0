package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{"default"}, cfg.Queues)
	assert.Equal(t, 1, cfg.WorkerCount)
	assert.Equal(t, 1, cfg.JobsPerFork)
	assert.Equal(t, 1, cfg.ThreadCount)
	assert.Equal(t, 30*time.Second, cfg.TermTimeout.Duration())
}

func TestApplyEnvWithNoRecognizedVarsLeavesDefaultsUntouched(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, []string{"PATH=/usr/bin", "HOME=/root"})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resque.yaml")
	yamlBody := `
redis:
  addr: redis.internal:6379
  namespace: myapp
queues:
  - high
  - low
worker_count: 4
jobs_per_fork: 10
term_timeout: 45
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "myapp", cfg.Redis.Namespace)
	assert.Equal(t, []string{"high", "low"}, cfg.Queues)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 10, cfg.JobsPerFork)
	assert.Equal(t, 45*time.Second, cfg.TermTimeout.Duration())
}

func TestApplyEnvOverridesFileValues(t *testing.T) {
	cfg := Default()
	cfg.WorkerCount = 4

	err := ApplyEnv(&cfg, []string{
		"QUEUES=high,low, medium ",
		"WORKER_COUNT=8",
		"RESQUE_TERM_TIMEOUT=12.5",
		"BACKGROUND=1",
		"PIDFILE=/tmp/resque.pid",
		"VVERBOSE=1",
		"RESQUE_PROCLINE_PREFIX=myapp-",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"high", "low", "medium"}, cfg.Queues)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 12500*time.Millisecond, cfg.TermTimeout.Duration())
	assert.True(t, cfg.Background)
	assert.Equal(t, "/tmp/resque.pid", cfg.PIDFile)
	assert.True(t, cfg.VVerbose)
	assert.Equal(t, "myapp-", cfg.ProclinePrefix)
}

func TestApplyEnvQueueFallsBackToSingularQUEUE(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, []string{"QUEUE=solo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, cfg.Queues)
}

func TestApplyEnvThreadCountAboveOnePassesThroughForSupervisorToReject(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, []string{"THREAD_COUNT=2"})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.ThreadCount, "THREAD_COUNT>1 is a configuration error caught at worker.NewSupervisor construction, not here")
}

func TestApplyEnvRejectsMalformedTermTimeout(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, []string{"RESQUE_TERM_TIMEOUT=not-a-number"})
	assert.Error(t, err)
}

func TestApplyEnvClampsJobsPerForkAndWorkerCountBelowOne(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, []string{"JOBS_PER_FORK=0", "WORKER_COUNT=-3"})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.JobsPerFork)
	assert.Equal(t, 1, cfg.WorkerCount)
}
