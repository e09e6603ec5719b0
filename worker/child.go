package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/szhyhun/resque/hook"
	"github.com/szhyhun/resque/payload"
	"github.com/szhyhun/resque/queue"
	"github.com/szhyhun/resque/stats"
)

// ErrTermTimeoutExceeded is the synthetic error recorded as a job's outcome
// when a TERM/INT-aborted job is still running after term_timeout and the
// Child Processor hard-kills itself (spec.md 4.5 "TERM/INT" row, B2).
var ErrTermTimeoutExceeded = errors.New("worker: job killed after term timeout")

// ChildConfig configures one Child Processor run (spec.md 4.6).
type ChildConfig struct {
	ConfiguredQueues []string
	JobsPerFork      int
	PollInterval     time.Duration
	TermTimeout      time.Duration
}

// WorkingEnvelope is the {queue, run_at, payload} value stored at
// worker:<id> while a Child Processor executes a job (spec.md registry key
// layout). Exported so RecordDirtyExit (dirty_exit.go) can decode an
// orphaned payload the same way it was encoded here.
type WorkingEnvelope struct {
	Queue   string          `json:"queue"`
	RunAt   time.Time       `json:"run_at"`
	Payload payload.Payload `json:"payload"`
}

// RunChild implements the Child Processor loop (spec.md 4.6): up to
// cfg.JobsPerFork iterations of reserve/execute/report, then a clean exit
// so the Supervisor's refork starts with a fresh address space.
//
// Each child registers its own Identity (its own pid, same host and
// configured queues as the pool) independently of the Supervisor's own
// registration -- the Supervisor's identity is a pool-coordinator liveness
// signal only, while each child's registration is what the working-payload
// and per-worker counters in spec.md's registry are actually keyed on. This
// is the resolution of an Open Question the distilled spec leaves implicit
// (see DESIGN.md): a single shared identity could not hold N children's
// concurrent working-payload state.
//
// The child reconnects to the data store before this function is ever
// called -- package cli (internal/cli) constructs a fresh redisstore.Store
// in the re-exec'd process's runChild, never inheriting the parent's client
// (spec.md 4.6, 9) -- and gets a freshly seeded RNG for free, being a
// distinct OS process.
func RunChild(ctx context.Context, store Store, registry *hook.Registry, cfg ChildConfig, logger *logharbour.Logger) error {
	identity, err := NewIdentity(cfg.ConfiguredQueues)
	if err != nil {
		return err
	}
	resolver, err := queue.NewResolver(cfg.ConfiguredQueues)
	if err != nil {
		return fmt.Errorf("worker: child queue resolver: %w", err)
	}

	if err := store.Register(ctx, identity.String()); err != nil {
		return fmt.Errorf("worker: child register: %w", err)
	}
	defer func() {
		if err := store.Unregister(context.Background(), identity.String()); err != nil {
			logger.Error(err).LogActivity("child unregister failed", map[string]any{"identity": identity.String()})
		}
	}()

	sigs := newChildSignals()
	defer sigs.stop()

	pipeline := hook.NewPipeline(registry)

	for i := 0; i < cfg.JobsPerFork; i++ {
		if sigs.shouldStop() {
			break
		}
		if sigs.isPaused() {
			logState(logger, "Paused")
			time.Sleep(cfg.PollInterval)
			i--
			continue
		}

		job, ok, err := reserveNext(ctx, store, resolver, identity)
		if err != nil {
			logger.Error(err).LogActivity("reserve failed", nil)
			time.Sleep(cfg.PollInterval)
			continue
		}
		if !ok {
			if cfg.PollInterval == 0 {
				break
			}
			logState(logger, fmt.Sprintf("Waiting for %v", cfg.ConfiguredQueues))
			time.Sleep(cfg.PollInterval)
			continue
		}

		runOneJob(ctx, store, pipeline, identity, job, cfg.TermTimeout, sigs, logger)
	}
	return nil
}

// reserveNext resolves the configured queue list and attempts a reserve
// against each resolved queue in order, stopping at the first hit -- this
// is what gives strict cross-queue priority (spec.md 5, P7).
func reserveNext(ctx context.Context, store Store, resolver *queue.Resolver, identity Identity) (*payload.Job, bool, error) {
	queues, err := resolver.Resolve(ctx, store)
	if err != nil {
		return nil, false, err
	}
	for _, q := range queues {
		job, ok, err := payload.Reserve(ctx, store, q)
		if err != nil {
			return nil, false, err
		}
		if ok {
			job.WorkerIdentity = identity.String()
			return job, true, nil
		}
	}
	return nil, false, nil
}

// runOneJob marks the working payload, executes the hook pipeline on a
// cancellable context so TERM/INT/USR1 can interrupt it, and reports the
// outcome into the Statistics counters (spec.md 4.6 steps 3-6).
func runOneJob(ctx context.Context, store Store, pipeline *hook.Pipeline, identity Identity, job *payload.Job, termTimeout time.Duration, sigs *childSignals, logger *logharbour.Logger) {
	sigs.drainAbort()

	envelope, err := json.Marshal(WorkingEnvelope{Queue: job.Queue, RunAt: time.Now().UTC(), Payload: job.Payload})
	if err != nil {
		logger.Error(err).LogActivity("encode working payload failed", nil)
		return
	}
	if err := store.SetPayload(ctx, identity.String(), envelope); err != nil {
		logger.Error(err).LogActivity("set working payload failed", nil)
	}
	logState(logger, fmt.Sprintf("Processing %s since %d [%s]", job.Queue, time.Now().Unix(), job.Payload.Class))

	jobCtx, cancel := context.WithCancel(ctx)
	resultCh := make(chan error, 1)
	go func() {
		resultCh <- pipeline.Run(jobCtx, job, job.MarkFailureRecorded)
	}()

	var runErr error
	select {
	case runErr = <-resultCh:
	case <-sigs.abortCh:
		cancel()
		select {
		case runErr = <-resultCh:
		case <-time.After(termTimeout):
			logger.Warn().LogActivity("job did not exit within term timeout, hard exit", map[string]any{
				"class": job.Payload.Class,
			})
			// os.Exit below never runs the deferred Unregister in RunChild,
			// so the outcome must be recorded and the registry entry torn
			// down here -- otherwise the job is abandoned uncounted and its
			// working payload is orphaned (spec.md 7, P2).
			recordOutcome(context.Background(), store, identity, job, ErrTermTimeoutExceeded, logger)
			if err := store.ClearPayload(context.Background(), identity.String()); err != nil {
				logger.Error(err).LogActivity("clear working payload failed", nil)
			}
			if err := store.Unregister(context.Background(), identity.String()); err != nil {
				logger.Error(err).LogActivity("child unregister failed", nil)
			}
			cancel()
			os.Exit(1)
		}
	}
	cancel()

	recordOutcome(ctx, store, identity, job, runErr, logger)

	if err := store.ClearPayload(ctx, identity.String()); err != nil {
		logger.Error(err).LogActivity("clear working payload failed", nil)
	}
}

func recordOutcome(ctx context.Context, store Store, identity Identity, job *payload.Job, runErr error, logger *logharbour.Logger) {
	counters := stats.NewCounters(store)
	switch {
	case runErr == nil:
		if err := counters.IncrProcessed(ctx, identity.String()); err != nil {
			logger.Error(err).LogActivity("increment processed counter failed", nil)
		}
	case errors.Is(runErr, hook.ErrDontPerform):
		// Swallowed: neither processed nor failed, no failure record
		// (spec.md S4).
	default:
		if !job.SkipFailedQueue {
			if err := counters.IncrFailed(ctx, identity.String()); err != nil {
				logger.Error(err).LogActivity("increment failed counter failed", nil)
			}
		}
		logger.Error(runErr).LogActivity("job failed", map[string]any{"class": job.Payload.Class})
	}
}
