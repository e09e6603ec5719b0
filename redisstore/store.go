// Package redisstore is the Data Store Adapter: typed operations against
// the shared Redis server for queue push/pop, the worker registry,
// heartbeats, working-payload state, and the pruning lock.
//
// It is built directly on github.com/go-redis/redis/v8, the client alya
// uses throughout jobs/recovery.go and jobs/rediskeys.go. Key construction
// follows that file's pattern of small, named key-builder methods.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store wraps a *redis.Client with the vocabulary the rest of this module
// needs. It holds no worker-identity state of its own -- callers pass the
// identity string on every registry call, matching the spec's "registry
// entries are keyed by worker identity" data model.
type Store struct {
	client    *redis.Client
	namespace string
}

// Option configures a Store at construction.
type Option func(*Store)

// WithNamespace overrides the default "resque" key prefix.
func WithNamespace(ns string) Option {
	return func(s *Store) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// New wraps an existing *redis.Client. The caller owns the client's
// lifecycle (Close); New never opens a connection.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying redis.Client for callers that need a
// primitive the Store does not wrap.
func (s *Store) Client() *redis.Client { return s.client }

// Reconnect re-opens the underlying connection, trying Ping up to three
// times with linear backoff (1s after the first failure, 2s after the
// second) on connection error, per spec.md 4.1/7.
// go-redis manages its own connection pool internally, so "reconnecting"
// here means proving the pool can reach the server again; a failing Ping
// forces the pool to retry its dial on the next command.
func (s *Store) Reconnect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if lastErr = s.client.Ping(ctx).Err(); lastErr == nil {
			return nil
		}
		if attempt < 3 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	return fmt.Errorf("redisstore: reconnect failed after 3 attempts: %w", lastErr)
}

// ServerTime returns the Redis server's own clock via the TIME command, so
// heartbeat timestamps are comparable across workers on skewed hosts.
func (s *Store) ServerTime(ctx context.Context) (time.Time, error) {
	return s.client.Time(ctx).Result()
}

// --- Queues (C1 / spec.md 4.1) ---

// Push appends an encoded payload to the tail of queue and records queue in
// the set of known queue names (used by the dynamic Queue Resolver).
func (s *Store) Push(ctx context.Context, queue string, payload []byte) error {
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.queueKey(queue), payload)
	pipe.SAdd(ctx, s.queuesSetKey(), queue)
	_, err := pipe.Exec(ctx)
	return err
}

// Pop removes and returns the payload at the head of queue, or (nil, false)
// when the queue is empty. It never blocks -- callers implement the outer
// sleep-and-retry loop themselves (spec.md 4.6 step 2).
func (s *Store) Pop(ctx context.Context, queue string) ([]byte, bool, error) {
	val, err := s.client.LPop(ctx, s.queueKey(queue)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Range returns the encoded payloads between lo and hi inclusive (Redis
// LRANGE semantics, negative indices count from the tail).
func (s *Store) Range(ctx context.Context, queue string, lo, hi int64) ([]string, error) {
	return s.client.LRange(ctx, s.queueKey(queue), lo, hi).Result()
}

// Remove deletes every occurrence of payload from queue and returns the
// count removed. Linear in queue length, as specified.
func (s *Store) Remove(ctx context.Context, queue string, payload []byte) (int64, error) {
	return s.client.LRem(ctx, s.queueKey(queue), 0, payload).Result()
}

// Queues returns the set of queue names ever pushed to.
func (s *Store) Queues(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, s.queuesSetKey()).Result()
}

// --- Worker registry (C1 / spec.md 4.1, I6) ---

// WorkerIDs returns every registered worker identity (the membership set).
func (s *Store) WorkerIDs(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, s.workersSetKey()).Result()
}

// WorkerExists reports whether id is a member of the registry set.
func (s *Store) WorkerExists(ctx context.Context, id string) (bool, error) {
	return s.client.SIsMember(ctx, s.workersSetKey(), id).Result()
}

// Register adds id to the membership set and stamps its start time.
func (s *Store) Register(ctx context.Context, id string) error {
	now, err := s.ServerTime(ctx)
	if err != nil {
		now = time.Now().UTC()
	}
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.workersSetKey(), id)
	pipe.Set(ctx, s.workerStartedKey(id), now.Format(time.RFC3339), 0)
	_, err = pipe.Exec(ctx)
	return err
}

// Unregister removes id from the membership set and atomically clears all
// of its private state: working payload, heartbeat, started time, and
// per-worker counters (spec.md "Lifecycles": unregister "also atomically
// clears the worker's private counters").
func (s *Store) Unregister(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, s.workersSetKey(), id)
	pipe.Del(ctx, s.workerPayloadKey(id))
	pipe.Del(ctx, s.workerStartedKey(id))
	pipe.HDel(ctx, s.heartbeatSetKey(), id)
	pipe.Del(ctx, s.statWorkerKey("processed", id))
	pipe.Del(ctx, s.statWorkerKey("failed", id))
	_, err := pipe.Exec(ctx)
	return err
}

// --- Working payload (C1 / spec.md I1, I2, P4, P5) ---

// SetPayload records that id is currently executing encoded (the
// {queue, run_at, payload} envelope).
func (s *Store) SetPayload(ctx context.Context, id string, encoded []byte) error {
	return s.client.Set(ctx, s.workerPayloadKey(id), encoded, 0).Err()
}

// GetPayload returns id's current working payload, or (nil, false) if idle
// (I1: a worker is working iff this key is present and non-empty).
func (s *Store) GetPayload(ctx context.Context, id string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.workerPayloadKey(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(val) == 0 {
		return nil, false, nil
	}
	return val, true, nil
}

// ClearPayload removes id's working payload, marking it idle.
func (s *Store) ClearPayload(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.workerPayloadKey(id)).Err()
}

// WorkersMap bulk-fetches the working payload for every id in ids, mirroring
// alya's pattern of batching related GETs into a single pipeline
// (jobs/jobmanager.go's bulk status reads). Workers with no payload are
// omitted from the result, never mapped to an empty value.
func (s *Store) WorkersMap(ctx context.Context, ids []string) (map[string][]byte, error) {
	if len(ids) == 0 {
		return map[string][]byte{}, nil
	}
	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.Get(ctx, s.workerPayloadKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	out := make(map[string][]byte, len(ids))
	for id, cmd := range cmds {
		val, err := cmd.Bytes()
		if err != nil {
			continue
		}
		if len(val) > 0 {
			out[id] = val
		}
	}
	return out, nil
}

// --- Heartbeats (C1, C7 / spec.md I6) ---

// Heartbeat stamps the server time ts for id in the heartbeat hash.
func (s *Store) Heartbeat(ctx context.Context, id string, ts time.Time) error {
	return s.client.HSet(ctx, s.heartbeatSetKey(), id, ts.Format(time.RFC3339)).Err()
}

// AllHeartbeats returns the full identity -> ISO-8601 timestamp map. A
// worker absent from this map has never heartbeated and, per I6, must never
// be pruned on that basis alone.
func (s *Store) AllHeartbeats(ctx context.Context) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.heartbeatSetKey()).Result()
}

// RemoveHeartbeat deletes id's heartbeat entry.
func (s *Store) RemoveHeartbeat(ctx context.Context, id string) error {
	return s.client.HDel(ctx, s.heartbeatSetKey(), id).Err()
}

// --- Distributed lock (C1, C8 / spec.md I5) ---

// AcquireLock attempts to take the named lock with an expiry of ttl using
// Redis's atomic SET NX PX form, so a holder that crashes before releasing
// it cannot deadlock the fleet (spec.md 9, "Distributed lock soundness").
// It deliberately does NOT implement a "get then set" pair.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, "1", ttl).Result()
}

// --- Counters (C1, C9) ---

// CounterIncr atomically increments the named counter by 1 and returns its
// new value.
func (s *Store) CounterIncr(ctx context.Context, name string) (int64, error) {
	return s.client.Incr(ctx, s.statKey(name)).Result()
}

// CounterGet reads the current value of the named counter (0 if unset).
func (s *Store) CounterGet(ctx context.Context, name string) (int64, error) {
	val, err := s.client.Get(ctx, s.statKey(name)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// CounterClear deletes the named counter.
func (s *Store) CounterClear(ctx context.Context, name string) error {
	return s.client.Del(ctx, s.statKey(name)).Err()
}
