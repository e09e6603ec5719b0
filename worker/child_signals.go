package worker

import (
	"os"
	"os/signal"
	"sync/atomic"
)

// childSignals tracks the Child Processor's reaction to the signal table
// of spec.md 4.5: TERM/INT abort the in-flight job and stop reserving new
// ones; QUIT lets the current job finish, then stops; USR1 aborts only the
// in-flight job and keeps reserving; USR2/CONT pause and resume
// reservation.
type childSignals struct {
	ch      chan os.Signal
	abortCh chan struct{}
	termed  atomic.Bool
	quit    atomic.Bool
	pausedF atomic.Bool
}

func newChildSignals() *childSignals {
	s := &childSignals{
		ch:      make(chan os.Signal, 8),
		abortCh: make(chan struct{}, 1),
	}
	notifyAllSignals(s.ch)
	go s.loop()
	return s
}

func (s *childSignals) loop() {
	for sig := range s.ch {
		switch {
		case isTerm(sig), isInt(sig):
			s.termed.Store(true)
			s.signalAbort()
		case isQuit(sig):
			s.quit.Store(true)
		case isUsr1(sig):
			s.signalAbort()
		case isUsr2(sig):
			s.pausedF.Store(true)
		case isContSig(sig):
			s.pausedF.Store(false)
		}
	}
}

func (s *childSignals) signalAbort() {
	select {
	case s.abortCh <- struct{}{}:
	default:
	}
}

// drainAbort discards any stale abort notification left over from a prior
// job so it cannot be mistaken for a signal targeting the next one.
func (s *childSignals) drainAbort() {
	select {
	case <-s.abortCh:
	default:
	}
}

func (s *childSignals) shouldStop() bool { return s.termed.Load() || s.quit.Load() }
func (s *childSignals) isPaused() bool   { return s.pausedF.Load() }

func (s *childSignals) stop() {
	signal.Stop(s.ch)
	close(s.ch)
}
