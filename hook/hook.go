// Package hook implements the Hook Pipeline (spec.md 4.4): locating and
// invoking the before/around/after/failure hooks declared for a job class
// and composing around-hooks into a nested callable.
//
// Go has no runtime naming-convention reflection equivalent to scanning a
// class for methods named before_perform_*, so discovery here is an
// explicit Register call instead -- see DESIGN.md. The registry-of-
// interfaces shape is grounded on alya's jobs/jobmanager.go initfuncs/
// batchprocessorfuncs maps, generalized from one processor function per
// class to four hook slots.
package hook

import (
	"context"
	"errors"
	"fmt"

	"github.com/szhyhun/resque/payload"
)

// ErrDontPerform is returned by a Before hook to abort a job cleanly: no
// Perform, no After hooks, no failure hooks, and the job is counted neither
// processed nor failed (spec.md 4.4, S4).
var ErrDontPerform = errors.New("hook: don't perform")

// Handler is the work a registered class actually does.
type Handler func(ctx context.Context, p payload.Payload) error

// Before runs ahead of Perform. Returning ErrDontPerform aborts the job.
type Before func(ctx context.Context, p payload.Payload) error

// Around wraps Perform (and any inner Around hooks). next must be called
// to continue the chain; an Around hook that never calls next silently
// skips Perform and every hook inside it.
type Around func(ctx context.Context, p payload.Payload, next Handler) error

// After runs once Perform (and all Around hooks) returned successfully.
type After func(ctx context.Context, p payload.Payload) error

// OnFailure runs when Perform, an Around hook, or a Before hook (other than
// via ErrDontPerform) returns an error. It receives the triggering error.
type OnFailure func(ctx context.Context, p payload.Payload, cause error) error

// Hooks is the full set registered for one job class.
type Hooks struct {
	Perform Handler
	Before  []Before
	Around  []Around
	After   []After
	Failure []OnFailure
}

// Registry maps a class name to its registered Hooks.
type Registry struct {
	classes map[string]Hooks
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]Hooks)}
}

// Register associates h with class, replacing any prior registration.
// Perform must be non-nil.
func (r *Registry) Register(class string, h Hooks) error {
	if h.Perform == nil {
		return fmt.Errorf("hook: register %q: Perform handler required", class)
	}
	r.classes[class] = h
	return nil
}

// Lookup returns the Hooks registered for class.
func (r *Registry) Lookup(class string) (Hooks, bool) {
	h, ok := r.classes[class]
	return h, ok
}

// FailureHookError wraps an error raised inside a failure hook together
// with the original error that triggered it (spec.md 4.4). Both are
// preserved; neither is dropped.
type FailureHookError struct {
	Original  error
	Secondary error
}

func (e *FailureHookError) Error() string {
	return fmt.Sprintf("hook: failure hook error %q while handling %q", e.Secondary, e.Original)
}

func (e *FailureHookError) Unwrap() error { return e.Original }

// Pipeline runs a Job's registered hooks around its Handler.
type Pipeline struct {
	registry *Registry
}

// NewPipeline builds a Pipeline over registry.
func NewPipeline(registry *Registry) *Pipeline {
	return &Pipeline{registry: registry}
}

// Run executes the before/around/perform/after/failure sequence for job
// (spec.md 4.4). markFailureRecorded is called on every failure and the
// failure hooks run only when it returns true, so they run at most once
// per job (I3) however often Run is invoked; callers pass
// *payload.Job.MarkFailureRecorded.
func (p *Pipeline) Run(ctx context.Context, j *payload.Job, markFailureRecorded func() bool) error {
	h, ok := p.registry.Lookup(j.Payload.Class)
	if !ok {
		return fmt.Errorf("hook: no handler registered for class %q", j.Payload.Class)
	}

	for _, before := range h.Before {
		if err := before(ctx, j.Payload); err != nil {
			if errors.Is(err, ErrDontPerform) {
				return ErrDontPerform
			}
			return p.fail(ctx, j.Payload, h, markFailureRecorded, err)
		}
	}

	chain := composeAround(h.Around, h.Perform)
	if err := chain(ctx, j.Payload); err != nil {
		return p.fail(ctx, j.Payload, h, markFailureRecorded, err)
	}

	for _, after := range h.After {
		if err := after(ctx, j.Payload); err != nil {
			return p.fail(ctx, j.Payload, h, markFailureRecorded, err)
		}
	}

	return nil
}

// fail runs the registered failure hooks exactly once (guarded by
// markFailureRecorded) and returns the original error, wrapped in
// FailureHookError if a failure hook itself errors.
func (p *Pipeline) fail(ctx context.Context, pay payload.Payload, h Hooks, markFailureRecorded func() bool, cause error) error {
	if !markFailureRecorded() {
		return cause
	}
	for _, fh := range h.Failure {
		if secondary := fh(ctx, pay, cause); secondary != nil {
			return &FailureHookError{Original: cause, Secondary: secondary}
		}
	}
	return cause
}

// composeAround folds the around-hook list right-to-left into one nested
// callable whose innermost link invokes perform (spec.md 9: around-hook
// composition).
func composeAround(arounds []Around, perform Handler) Handler {
	next := perform
	for i := len(arounds) - 1; i >= 0; i-- {
		around := arounds[i]
		inner := next
		next = func(ctx context.Context, p payload.Payload) error {
			return around(ctx, p, inner)
		}
	}
	return next
}
