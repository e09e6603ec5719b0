package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client), mr
}

func TestPushPopFIFO(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Push(ctx, "q1", []byte("a")))
	require.NoError(t, s.Push(ctx, "q1", []byte("b")))

	val, ok, err := s.Pop(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", string(val))

	val, ok, err = s.Pop(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", string(val))

	_, ok, err = s.Pop(ctx, "q1")
	require.NoError(t, err)
	assert.False(t, ok, "queue should be empty")
}

func TestPushRecordsQueueName(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Push(ctx, "alpha", []byte("x")))
	require.NoError(t, s.Push(ctx, "beta", []byte("y")))

	queues, err := s.Queues(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, queues)
}

func TestRemoveCountsAndLeavesRest(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Push(ctx, "q", []byte("a")))
	require.NoError(t, s.Push(ctx, "q", []byte("b")))
	require.NoError(t, s.Push(ctx, "q", []byte("a")))

	n, err := s.Remove(ctx, "q", []byte("a"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	remaining, err := s.Range(ctx, "q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, remaining)
}

// R2: registering then unregistering a worker leaves no key referencing its
// identity.
func TestRegisterUnregisterRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := "host1:123:default"

	require.NoError(t, s.Register(ctx, id))
	require.NoError(t, s.SetPayload(ctx, id, []byte(`{"queue":"default"}`)))
	require.NoError(t, s.Heartbeat(ctx, id, time.Now()))
	_, err := s.CounterIncr(ctx, "processed:"+id)
	require.NoError(t, err)

	exists, err := s.WorkerExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Unregister(ctx, id))

	exists, err = s.WorkerExists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok, err := s.GetPayload(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	hb, err := s.AllHeartbeats(ctx)
	require.NoError(t, err)
	_, present := hb[id]
	assert.False(t, present)

	count, err := s.CounterGet(ctx, "processed:"+id)
	require.NoError(t, err)
	assert.Zero(t, count)
}

// I6: a worker present in the membership set but never heartbeated must
// stay visible -- heartbeat absence alone is not removal.
func TestWorkerWithoutHeartbeatStaysRegistered(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := "host1:999:default"

	require.NoError(t, s.Register(ctx, id))

	hb, err := s.AllHeartbeats(ctx)
	require.NoError(t, err)
	_, present := hb[id]
	assert.False(t, present, "should have no heartbeat yet")

	exists, err := s.WorkerExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists, "registration alone must keep the worker visible")
}

func TestAcquireLockIsExclusiveWithExpiry(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, s.PruneLockKey(), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLock(ctx, s.PruneLockKey(), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a second acquire before expiry must fail")
}

func TestCounters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CounterIncr(ctx, "processed")
		require.NoError(t, err)
	}
	val, err := s.CounterGet(ctx, "processed")
	require.NoError(t, err)
	assert.EqualValues(t, 3, val)

	require.NoError(t, s.CounterClear(ctx, "processed"))
	val, err = s.CounterGet(ctx, "processed")
	require.NoError(t, err)
	assert.Zero(t, val)
}

func TestWorkersMapOmitsIdleWorkers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPayload(ctx, "w1", []byte(`{"queue":"q"}`)))

	m, err := s.WorkersMap(ctx, []string{"w1", "w2"})
	require.NoError(t, err)
	assert.Contains(t, m, "w1")
	assert.NotContains(t, m, "w2")
}
