package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/szhyhun/resque/stats"
)

// DirtyExit is the cause recorded when a worker identity is unregistered --
// by the Pruner's PID-absence (soft-prune) branch, or by the Supervisor's
// own teardown -- while it still held a non-empty working payload
// (spec.md 7). The Pruner's heartbeat-expiry branch uses the more specific
// prune.PruneDeadWorkerDirtyExit instead.
var DirtyExit = errors.New("worker: dirty exit")

// DirtyExitStore is the subset of the Data Store Adapter dirty-exit
// recording needs: reading a worker's working payload and incrementing the
// failed counters.
type DirtyExitStore interface {
	GetPayload(ctx context.Context, id string) ([]byte, bool, error)
	CounterIncr(ctx context.Context, name string) (int64, error)
	CounterGet(ctx context.Context, name string) (int64, error)
	CounterClear(ctx context.Context, name string) error
}

// RecordDirtyExit checks identity's working payload and, if non-empty,
// records it as a failed job -- incrementing failed and failed:<identity>
// -- before the caller proceeds to unregister identity. It is a no-op for
// an idle worker.
//
// Both the Pruner (spec.md 4.8) and the Supervisor's own teardown
// (spec.md 4.5) call this ahead of Unregister so that an orphaned in-flight
// job is never silently discarded: spec.md 7 requires it be "synthesized
// by the pruner or by the supervisor when unregistering a worker that
// still had a working payload ... recorded as a job failure against the
// orphaned payload" (P2).
func RecordDirtyExit(ctx context.Context, store DirtyExitStore, identity string, cause error, logger *logharbour.Logger) error {
	raw, ok, err := store.GetPayload(ctx, identity)
	if err != nil {
		return fmt.Errorf("worker: dirty exit get payload for %q: %w", identity, err)
	}
	if !ok {
		return nil
	}

	class := "?"
	var envelope WorkingEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil {
		class = envelope.Payload.Class
	}

	if err := stats.NewCounters(store).IncrFailed(ctx, identity); err != nil {
		return fmt.Errorf("worker: dirty exit record failure for %q: %w", identity, err)
	}
	if logger != nil {
		logger.Warn().LogActivity("recorded dirty exit failure", map[string]any{
			"identity": identity,
			"class":    class,
			"cause":    cause.Error(),
		})
	}
	return nil
}
