package worker

import (
	"context"
	"time"
)

// Store is the subset of the Data Store Adapter (redisstore.Store) the
// worker runtime needs, defined here at the point of use so this package
// never imports the redis client directly. It embeds payload.Queuer and
// queue.Lister's method shapes (Go interfaces compose structurally, not by
// name, so no import is required for that either).
type Store interface {
	Push(ctx context.Context, queue string, payload []byte) error
	Pop(ctx context.Context, queue string) ([]byte, bool, error)
	Range(ctx context.Context, queue string, lo, hi int64) ([]string, error)
	Remove(ctx context.Context, queue string, payload []byte) (int64, error)
	Queues(ctx context.Context) ([]string, error)

	WorkerIDs(ctx context.Context) ([]string, error)
	WorkerExists(ctx context.Context, id string) (bool, error)
	Register(ctx context.Context, id string) error
	Unregister(ctx context.Context, id string) error

	SetPayload(ctx context.Context, id string, encoded []byte) error
	GetPayload(ctx context.Context, id string) ([]byte, bool, error)
	ClearPayload(ctx context.Context, id string) error
	WorkersMap(ctx context.Context, ids []string) (map[string][]byte, error)

	Heartbeat(ctx context.Context, id string, at time.Time) error
	AllHeartbeats(ctx context.Context) (map[string]string, error)
	RemoveHeartbeat(ctx context.Context, id string) error
	ServerTime(ctx context.Context) (time.Time, error)

	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	PruneLockKey() string

	CounterIncr(ctx context.Context, name string) (int64, error)
	CounterGet(ctx context.Context, name string) (int64, error)
	CounterClear(ctx context.Context, name string) error
}
