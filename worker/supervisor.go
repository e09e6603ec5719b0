package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/remiges-tech/logharbour/logharbour"
)

// ErrThreadCountUnsupported is returned by NewSupervisor when ThreadCount
// is greater than 1. Multi-threaded execution within a single Child
// Processor is not supported; jobs run one at a time per child (spec.md 5).
var ErrThreadCountUnsupported = errors.New("worker: thread_count > 1 is not supported")

// Pruner is the dead-worker sweep (C8). The Supervisor invokes it once at
// startup, and only when Config.PruneOnStartup is set; it does not run it
// periodically. Defined at the point of use so this package does not import
// package prune directly in its public surface -- callers (package cli,
// internal/cli) wire a concrete *prune.Pruner in.
type Pruner interface {
	Prune(ctx context.Context) error
}

// Config holds the Supervisor's tunable parameters (spec.md 6 env vars,
// translated by package config into typed fields).
type Config struct {
	WorkerCount       int
	JobsPerFork       int
	ThreadCount       int
	TermTimeout       time.Duration
	HeartbeatInterval time.Duration
	PruneInterval     time.Duration
	PruneOnStartup    bool
	ProclinePrefix    string
	// ChildEnv carries additional environment variables (redis address,
	// namespace, etc.) to every re-exec'd child on top of the standard
	// RESQUE_CHILD_* ones this package sets.
	ChildEnv map[string]string
}

// Supervisor owns one worker identity, registers it, runs the heartbeat
// loop, and re-execs and supervises N Child Processor OS processes
// (spec.md 4.5).
//
// Go has no fork() that preserves the runtime, so the multi-process model
// here uses the standard re-exec idiom: exec.Command(os.Args[0], "work",
// "--child", ...) with configuration passed through environment variables.
// This is the idiomatic Go analogue of spec.md's "fork + reconnect" --
// each child is a distinct OS process with its own Redis connection and
// RNG state for free. Grounded on ChuLiYu internal/cli/cli.go's
// signal.Notify + blocking-receive + graceful-stop shape, generalized from
// a single process to a re-exec'd process pool.
type Supervisor struct {
	identity Identity
	store    Store
	pruner   Pruner
	logger   *logharbour.Logger
	cfg      Config

	shutdown atomic.Bool
	paused   atomic.Bool

	mu       sync.Mutex
	children map[int]*exec.Cmd
}

// NewSupervisor validates cfg and builds a Supervisor for identity.
func NewSupervisor(identity Identity, store Store, pruner Pruner, logger *logharbour.Logger, cfg Config) (*Supervisor, error) {
	if cfg.ThreadCount > 1 {
		return nil, ErrThreadCountUnsupported
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.JobsPerFork < 1 {
		cfg.JobsPerFork = 1
	}
	if cfg.TermTimeout <= 0 {
		cfg.TermTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = cfg.HeartbeatInterval * 2
	}
	return &Supervisor{
		identity: identity,
		store:    store,
		pruner:   pruner,
		logger:   logger,
		cfg:      cfg,
		children: make(map[int]*exec.Cmd),
	}, nil
}

// logState logs a process-state transition in place of the process title
// the original system would set. Go has no portable setproctitle and no
// pack example shows one; this keeps the lifecycle visible in the logs
// instead (spec.md 6 "Process title format", see DESIGN.md).
func logState(logger *logharbour.Logger, state string) {
	logger.Info().LogActivity("state", map[string]any{"state": state})
}

type childExit struct {
	pid int
	err error
}

// Work runs the full Supervisor lifecycle (spec.md 4.5): startup, fan-out,
// supervise loop, teardown. interval == 0 means single-shot: every child
// runs once to completion (or JobsPerFork iterations) and Work returns
// without reforking.
func (s *Supervisor) Work(ctx context.Context, interval time.Duration) error {
	logState(s.logger, "Starting")

	if err := s.store.Register(ctx, s.identity.String()); err != nil {
		return fmt.Errorf("worker: register: %w", err)
	}

	hbCtx, cancelHB := context.WithCancel(context.Background())
	hbDone := runHeartbeat(hbCtx, s.store, s.identity.String(), s.cfg.HeartbeatInterval, s.logger)

	if s.cfg.PruneOnStartup && s.pruner != nil {
		if err := s.pruner.Prune(ctx); err != nil {
			s.logger.Warn().LogActivity("startup prune failed", map[string]any{"error": err.Error()})
		}
	}

	stopSignals := s.installSignalHandling()
	defer stopSignals()

	exitCh := make(chan childExit, s.cfg.WorkerCount*2+1)
	alive := 0
	for i := 0; i < s.cfg.WorkerCount; i++ {
		if err := s.forkChild(interval, exitCh); err != nil {
			s.logger.Error(err).LogActivity("fork child failed", nil)
			continue
		}
		alive++
	}
	logState(s.logger, fmt.Sprintf("Forked worker children %s at %d", s.childPIDList(), time.Now().Unix()))

	s.superviseLoop(ctx, interval, exitCh, alive)

	cancelHB()
	<-hbDone

	if err := RecordDirtyExit(context.Background(), s.store, s.identity.String(), DirtyExit, s.logger); err != nil {
		s.logger.Warn().LogActivity("dirty exit recording failed", map[string]any{"error": err.Error()})
	}
	teardownErr := s.store.Unregister(context.Background(), s.identity.String())
	if teardownErr != nil {
		return fmt.Errorf("worker: teardown unregister: %w", teardownErr)
	}
	return nil
}

// superviseLoop reaps exited children and reforks them until shutdown is
// requested (spec.md 4.5 step 3). In single-shot mode it simply waits for
// every child to finish once.
func (s *Supervisor) superviseLoop(ctx context.Context, interval time.Duration, exitCh chan childExit, alive int) {
	for alive > 0 {
		select {
		case <-ctx.Done():
			s.shutdown.Store(true)
			s.forwardToChildren(termSignal())
		case exit := <-exitCh:
			alive--
			if exit.err != nil {
				s.logger.Warn().LogActivity("child exited with error", map[string]any{
					"pid": exit.pid, "error": exit.err.Error(),
				})
			}
			if interval != 0 && !s.shutdown.Load() {
				if err := s.forkChild(interval, exitCh); err != nil {
					s.logger.Error(err).LogActivity("refork failed", nil)
				} else {
					alive++
				}
			}
		}
	}
}

// forkChild re-execs a new Child Processor and tracks it for reaping and
// signal forwarding.
func (s *Supervisor) forkChild(interval time.Duration, exitCh chan<- childExit) error {
	cmd := exec.Command(os.Args[0], "work", "--child")
	cmd.Env = append(os.Environ(),
		"RESQUE_CHILD_QUEUES="+strings.Join(s.identity.Queues, ","),
		fmt.Sprintf("RESQUE_CHILD_INTERVAL=%g", interval.Seconds()),
		fmt.Sprintf("RESQUE_JOBS_PER_FORK=%d", s.cfg.JobsPerFork),
		fmt.Sprintf("RESQUE_TERM_TIMEOUT=%g", s.cfg.TermTimeout.Seconds()),
	)
	for k, v := range s.cfg.ChildEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	configureChildProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("worker: start child: %w", err)
	}

	pid := cmd.Process.Pid
	s.mu.Lock()
	s.children[pid] = cmd
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		delete(s.children, pid)
		s.mu.Unlock()
		exitCh <- childExit{pid: pid, err: err}
	}()
	return nil
}

func (s *Supervisor) childPIDList() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	pids := make([]string, 0, len(s.children))
	for pid := range s.children {
		pids = append(pids, fmt.Sprintf("%d", pid))
	}
	return "[" + strings.Join(pids, " ") + "]"
}

func (s *Supervisor) forwardToChildren(sig os.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pid, cmd := range s.children {
		if err := signalChild(cmd, sig); err != nil {
			s.logger.Warn().LogActivity("signal forward failed", map[string]any{"pid": pid, "error": err.Error()})
		}
	}
}

// installSignalHandling wires the signal table of spec.md 4.5. Handlers
// only set atomic flags and forward the signal -- no allocation, no
// logging, no data-store call on the hot path of signal delivery itself,
// matching the spec's async-signal-safety requirement as closely as Go's
// signal.Notify channel model allows.
func (s *Supervisor) installSignalHandling() func() {
	ch := make(chan os.Signal, 8)
	notifyAllSignals(ch)
	if w := unsupportedSignalWarning(); w != "" {
		s.logger.Warn().LogActivity("signal support limited on this platform", map[string]any{"detail": w})
	}

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case sig, ok := <-ch:
				if !ok {
					return
				}
				s.handleSignal(sig)
			case <-stop:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(stop)
	}
}

func (s *Supervisor) handleSignal(sig os.Signal) {
	switch {
	case isTerm(sig), isInt(sig):
		s.shutdown.Store(true)
		s.forwardToChildren(sig)
	case isQuit(sig):
		s.shutdown.Store(true)
		s.forwardToChildren(sig)
	case isUsr1(sig):
		s.paused.Store(false)
		s.forwardToChildren(sig)
	case isUsr2(sig):
		s.paused.Store(true)
		s.forwardToChildren(sig)
	case isContSig(sig):
		s.paused.Store(false)
		s.forwardToChildren(sig)
	}
}
