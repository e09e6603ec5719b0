package worker

import (
	"context"
	"time"

	"github.com/remiges-tech/logharbour/logharbour"
)

// runHeartbeat stamps the server time for identity on every tick of
// interval until ctx is cancelled, then clears its own heartbeat entry
// before returning (spec.md 4.7).
//
// Grounded directly on alya jobs/recovery.go's runHeartbeat/ticker.C shape,
// kept close to the teacher's loop structure. Deviation: alya's version
// never exits (the heartbeat there must outlive the caller's context so
// other workers don't recover in-flight rows); this runtime's heartbeat
// entry is purely a liveness signal with no rows to protect, so it accepts
// a cancellable context and tears down cleanly on shutdown -- see
// DESIGN.md.
func runHeartbeat(ctx context.Context, store Store, identity string, interval time.Duration, logger *logharbour.Logger) <-chan struct{} {
	done := make(chan struct{})

	stamp := func() {
		now, err := store.ServerTime(ctx)
		if err != nil {
			now = time.Now().UTC()
		}
		if err := store.Heartbeat(ctx, identity, now); err != nil {
			logger.Error(err).LogActivity("heartbeat write failed", map[string]any{"identity": identity})
		}
	}

	go func() {
		defer close(done)
		stamp()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				if err := store.RemoveHeartbeat(context.Background(), identity); err != nil {
					logger.Error(err).LogActivity("heartbeat cleanup failed", map[string]any{"identity": identity})
				}
				return
			case <-ticker.C:
				stamp()
			}
		}
	}()

	return done
}
