// Package prune implements the Pruner (spec.md 4.8): detecting workers
// whose heartbeat has expired, or whose claimed PID is no longer live on
// this host, and removing them from the registry.
//
// Local PID discovery uses github.com/shirou/gopsutil/v4's process
// package. gopsutil is already pulled in transitively by alya's go.mod;
// promoting it to a direct dependency here gives the Pruner a real,
// cross-platform OS process listing instead of a hand-rolled /proc scan --
// see DESIGN.md for why no pack example shows a more direct usage site to
// ground this on.
package prune

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/remiges-tech/logharbour/logharbour"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/szhyhun/resque/worker"
)

// PruneDeadWorkerDirtyExit is the cause recorded when a worker is
// unregistered because its heartbeat expired while still claiming to be
// alive (spec.md 4.8).
var PruneDeadWorkerDirtyExit = fmt.Errorf("prune: dead worker dirty exit")

// Store is the subset of the Data Store Adapter the Pruner needs. It
// includes the working-payload read and counter-increment operations
// worker.RecordDirtyExit needs so a dead worker's orphaned in-flight job is
// recorded as a failure before its registration is removed (spec.md 7).
type Store interface {
	WorkerIDs(ctx context.Context) ([]string, error)
	AllHeartbeats(ctx context.Context) (map[string]string, error)
	Unregister(ctx context.Context, id string) error
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	PruneLockKey() string

	GetPayload(ctx context.Context, id string) ([]byte, bool, error)
	CounterIncr(ctx context.Context, name string) (int64, error)
	CounterGet(ctx context.Context, name string) (int64, error)
	CounterClear(ctx context.Context, name string) error
}

// Pruner evicts dead peers on behalf of one local worker identity.
type Pruner struct {
	store             Store
	self              worker.Identity
	heartbeatInterval time.Duration
	pruneInterval     time.Duration
	logger            *logharbour.Logger

	livePIDs func() (map[int]bool, error)
}

// New builds a Pruner that acts with the authority of self: it will only
// prune peers on the same host, watching the same queues (or itself
// watching "*"), per spec.md's heterogeneous-fleet skip rules.
func New(store Store, self worker.Identity, heartbeatInterval, pruneInterval time.Duration, logger *logharbour.Logger) *Pruner {
	return &Pruner{
		store:             store,
		self:              self,
		heartbeatInterval: heartbeatInterval,
		pruneInterval:     pruneInterval,
		logger:            logger,
		livePIDs:          localLivePIDs,
	}
}

// Prune acquires the distributed lock and, only if acquired, evicts dead
// peers (I5: at most one supervisor prunes at a time). Returns nil without
// acting when the lock is held elsewhere.
func (p *Pruner) Prune(ctx context.Context) error {
	acquired, err := p.store.AcquireLock(ctx, p.store.PruneLockKey(), p.heartbeatInterval)
	if err != nil {
		return fmt.Errorf("prune: acquire lock: %w", err)
	}
	if !acquired {
		return nil
	}

	ids, err := p.store.WorkerIDs(ctx)
	if err != nil {
		return fmt.Errorf("prune: list workers: %w", err)
	}
	heartbeats, err := p.store.AllHeartbeats(ctx)
	if err != nil {
		return fmt.Errorf("prune: list heartbeats: %w", err)
	}
	livePIDs, err := p.livePIDs()
	if err != nil {
		return fmt.Errorf("prune: list local PIDs: %w", err)
	}

	now := time.Now().UTC()
	for _, id := range ids {
		if err := p.evaluate(ctx, id, now, heartbeats, livePIDs); err != nil {
			p.logger.Error(err).LogActivity("prune evaluate failed", map[string]any{"identity": id})
		}
	}
	return nil
}

// evaluate applies the exact two-branch rule of spec.md 4.8 to one
// registered worker.
func (p *Pruner) evaluate(ctx context.Context, id string, now time.Time, heartbeats map[string]string, livePIDs map[int]bool) error {
	other, err := worker.ParseIdentity(id)
	if err != nil {
		p.logger.Warn().LogActivity("prune skipping malformed identity", map[string]any{"identity": id})
		return nil
	}

	if hb, ok := heartbeats[id]; ok {
		// I6: heartbeat absence alone is never a reason to prune; only a
		// heartbeat that exists AND has gone stale triggers this branch.
		ts, err := time.Parse(time.RFC3339, hb)
		if err != nil {
			return fmt.Errorf("parse heartbeat for %q: %w", id, err)
		}
		if now.Sub(ts) > p.pruneInterval {
			if err := worker.RecordDirtyExit(ctx, p.store, id, PruneDeadWorkerDirtyExit, p.logger); err != nil {
				p.logger.Warn().LogActivity("dirty exit recording failed", map[string]any{"identity": id, "error": err.Error()})
			}
			if err := p.store.Unregister(ctx, id); err != nil {
				return fmt.Errorf("unregister dead worker %q: %w", id, err)
			}
			p.logger.Warn().LogActivity("pruned dead worker", map[string]any{
				"identity": id,
				"cause":    PruneDeadWorkerDirtyExit.Error(),
			})
		}
		return nil
	}

	if other.Host != p.self.Host {
		return nil
	}
	if !queuesEqual(other.Queues, p.self.Queues) && !p.self.WatchesAll() {
		return nil
	}
	if livePIDs[other.PID] {
		return nil
	}
	if err := worker.RecordDirtyExit(ctx, p.store, id, worker.DirtyExit, p.logger); err != nil {
		p.logger.Warn().LogActivity("dirty exit recording failed", map[string]any{"identity": id, "error": err.Error()})
	}
	if err := p.store.Unregister(ctx, id); err != nil {
		return fmt.Errorf("unregister unreachable worker %q: %w", id, err)
	}
	p.logger.Info().LogActivity("pruned worker with no live PID", map[string]any{"identity": id})
	return nil
}

func queuesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// localLivePIDs lists every PID on this host whose command line matches
// cmdlineMatches, the OS-process-listing-filtered-by-process-title-pattern
// step of spec.md 4.8. A process whose cmdline can no longer be read (it
// exited between the listing and the read, or this process lacks
// permission) is treated as absent rather than live -- pruning a worker
// that is in fact dead is the safe default here, and evaluate's own
// host/queue gating keeps this from acting outside the pruner's authority.
func localLivePIDs() (map[int]bool, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	live := make(map[int]bool, len(procs))
	for _, proc := range procs {
		cmdline, err := proc.Cmdline()
		if err != nil {
			continue
		}
		if cmdlineMatches(cmdline) {
			live[int(proc.Pid)] = true
		}
	}
	return live, nil
}

// cmdlineMatches reports whether a process's command line looks like a
// resqueworker process -- the process-title pattern filter of spec.md 4.8.
func cmdlineMatches(cmdline string) bool {
	return strings.Contains(cmdline, "resqueworker")
}
