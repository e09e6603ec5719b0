// Package stats implements the Statistics component (spec.md 4.9): the
// fleet-wide and per-worker processed/failed counters, built directly on
// the Data Store Adapter's INCR-based counter operations.
package stats

import "context"

// Store is the subset of the Data Store Adapter (redisstore.Store) this
// package needs, defined at the point of use. Any type exposing these three
// methods -- worker.Store among them -- satisfies it structurally.
type Store interface {
	CounterIncr(ctx context.Context, name string) (int64, error)
	CounterGet(ctx context.Context, name string) (int64, error)
	CounterClear(ctx context.Context, name string) error
}

const (
	processedKey = "processed"
	failedKey    = "failed"
)

// Counters reads and writes the two monotone counters spec.md 6's registry
// key layout defines: a fleet-wide total and one scoped to each worker
// identity, both backed by the same Redis INCR counter underneath
// redisstore's stat:<name> key.
type Counters struct {
	store Store
}

// NewCounters wraps store with the processed/failed counter vocabulary.
func NewCounters(store Store) *Counters {
	return &Counters{store: store}
}

// IncrProcessed records one successfully processed job, both fleet-wide and
// for identity.
func (c *Counters) IncrProcessed(ctx context.Context, identity string) error {
	return c.incrBoth(ctx, processedKey, identity)
}

// IncrFailed records one failed job, both fleet-wide and for identity.
func (c *Counters) IncrFailed(ctx context.Context, identity string) error {
	return c.incrBoth(ctx, failedKey, identity)
}

func (c *Counters) incrBoth(ctx context.Context, key, identity string) error {
	if _, err := c.store.CounterIncr(ctx, key); err != nil {
		return err
	}
	_, err := c.store.CounterIncr(ctx, key+":"+identity)
	return err
}

// Processed returns the fleet-wide processed count.
func (c *Counters) Processed(ctx context.Context) (int64, error) {
	return c.store.CounterGet(ctx, processedKey)
}

// Failed returns the fleet-wide failed count.
func (c *Counters) Failed(ctx context.Context) (int64, error) {
	return c.store.CounterGet(ctx, failedKey)
}

// ProcessedBy returns the processed count for a single worker identity.
func (c *Counters) ProcessedBy(ctx context.Context, identity string) (int64, error) {
	return c.store.CounterGet(ctx, processedKey+":"+identity)
}

// FailedBy returns the failed count for a single worker identity.
func (c *Counters) FailedBy(ctx context.Context, identity string) (int64, error) {
	return c.store.CounterGet(ctx, failedKey+":"+identity)
}

// ClearWorker removes identity's per-worker counters. Unregister already
// does this atomically (redisstore.Store.Unregister); exposed here too for
// callers that want to reset a still-registered worker's counters without
// unregistering it.
func (c *Counters) ClearWorker(ctx context.Context, identity string) error {
	if err := c.store.CounterClear(ctx, processedKey+":"+identity); err != nil {
		return err
	}
	return c.store.CounterClear(ctx, failedKey+":"+identity)
}
