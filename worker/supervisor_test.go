package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChildEnvVar = "RESQUE_WORKER_TEST_CHILD"

// TestMain lets this test binary re-exec itself as a trivial stand-in
// Child Processor for the Supervisor fork/reap tests below, the same way
// the standard library's os/exec tests use a guarded subprocess mode
// instead of depending on a separately built production binary.
func TestMain(m *testing.M) {
	if os.Getenv(testChildEnvVar) != "" {
		time.Sleep(30 * time.Millisecond)
		os.Exit(0)
	}
	if os.Getenv(integrationChildEnvVar) != "" {
		os.Exit(runIntegrationChild())
	}
	os.Exit(m.Run())
}

type noopPruner struct{ calls int }

func (p *noopPruner) Prune(ctx context.Context) error {
	p.calls++
	return nil
}

func TestNewSupervisorRejectsThreadCountGreaterThanOne(t *testing.T) {
	store, _ := newWorkerTestStore(t)
	identity := Identity{Host: "h", PID: 1, Queues: []string{"default"}}

	_, err := NewSupervisor(identity, store, &noopPruner{}, testLogger(), Config{ThreadCount: 2})
	assert.ErrorIs(t, err, ErrThreadCountUnsupported)
}

func TestNewSupervisorAppliesDefaults(t *testing.T) {
	store, _ := newWorkerTestStore(t)
	identity := Identity{Host: "h", PID: 1, Queues: []string{"default"}}

	sup, err := NewSupervisor(identity, store, &noopPruner{}, testLogger(), Config{})
	require.NoError(t, err)
	assert.Equal(t, 1, sup.cfg.WorkerCount)
	assert.Equal(t, 1, sup.cfg.JobsPerFork)
	assert.Equal(t, 30*time.Second, sup.cfg.TermTimeout)
	assert.Equal(t, 30*time.Second, sup.cfg.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, sup.cfg.PruneInterval)
}

func TestSupervisorSingleShotForksWaitsAndTearsDown(t *testing.T) {
	store, _ := newWorkerTestStore(t)
	identity := Identity{Host: "h", PID: 1234, Queues: []string{"default"}}
	pruner := &noopPruner{}

	sup, err := NewSupervisor(identity, store, pruner, testLogger(), Config{
		WorkerCount:       2,
		HeartbeatInterval: 20 * time.Millisecond,
		PruneOnStartup:    true,
		ChildEnv:          map[string]string{testChildEnvVar: "1"},
	})
	require.NoError(t, err)

	start := time.Now()
	err = sup.Work(context.Background(), 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond, "Work must wait for both children to exit")
	assert.Equal(t, 1, pruner.calls, "startup prune must run exactly once")

	exists, err := store.WorkerExists(context.Background(), identity.String())
	require.NoError(t, err)
	assert.False(t, exists, "teardown must unregister the supervisor identity")

	hb, err := store.AllHeartbeats(context.Background())
	require.NoError(t, err)
	_, ok := hb[identity.String()]
	assert.False(t, ok, "teardown must stop and clear the heartbeat")
}

func TestSupervisorContinuousModeReforksAfterChildExit(t *testing.T) {
	store, _ := newWorkerTestStore(t)
	identity := Identity{Host: "h", PID: 5678, Queues: []string{"default"}}

	sup, err := NewSupervisor(identity, store, nil, testLogger(), Config{
		WorkerCount:       1,
		HeartbeatInterval: 20 * time.Millisecond,
		ChildEnv:          map[string]string{testChildEnvVar: "1"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err = sup.Work(ctx, 10*time.Millisecond)
	require.NoError(t, err)
}
