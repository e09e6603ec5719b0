package payload

import (
	"context"
	"fmt"
)

// Queuer is the subset of the Data Store Adapter (redisstore.Store) that
// Job Record operations need. Defining it here, at the point of use, keeps
// this package independent of the redis client library -- redisstore.Store
// already satisfies it structurally.
type Queuer interface {
	Push(ctx context.Context, queue string, payload []byte) error
	Pop(ctx context.Context, queue string) ([]byte, bool, error)
	Range(ctx context.Context, queue string, lo, hi int64) ([]string, error)
	Remove(ctx context.Context, queue string, payload []byte) (int64, error)
}

// Job is the in-memory Job Record: a queue name, its decoded payload, a
// weak back-reference to the worker identity executing it (relation only,
// never ownership -- the Job does not outlive the Child Processor that
// created it), and the one-shot flag that guards failure-hook invocation
// (spec.md I3).
type Job struct {
	Queue          string
	Payload        Payload
	WorkerIdentity string // weak reference; empty until a Child Processor claims it
	SkipFailedQueue bool  // never set by the core pipeline; hooks receive only the Payload, so only code holding the *Job can set it
	failureRecorded bool
}

// MarkFailureRecorded sets the one-shot flag. It returns false if the flag
// was already set, so callers can enforce "exactly once" (I3) without a
// separate check-then-set race -- callers only ever touch a Job from the
// single goroutine that owns it, so no locking is required here.
func (j *Job) MarkFailureRecorded() bool {
	if j.failureRecorded {
		return false
	}
	j.failureRecorded = true
	return true
}

// FailureRecorded reports whether a failure has already been recorded for
// this job.
func (j *Job) FailureRecorded() bool { return j.failureRecorded }

// CreateOptions configures Create.
type CreateOptions struct {
	// Inline, when set, runs perform synchronously in the caller's
	// goroutine instead of pushing to the queue. The args are still
	// round-tripped through Encode/Decode first so the payload the
	// handler receives matches exactly what would have been delivered
	// over the wire (spec.md 9, "Inline mode re-encoding").
	Inline bool
	Perform func(Payload) error
}

// Reserve pops the next payload from queue and returns it decoded as a Job,
// or (nil, false) when the queue is empty (spec.md 4.2).
func Reserve(ctx context.Context, q Queuer, queue string) (*Job, bool, error) {
	raw, ok, err := q.Pop(ctx, queue)
	if err != nil {
		return nil, false, fmt.Errorf("payload: reserve from %q: %w", queue, err)
	}
	if !ok {
		return nil, false, nil
	}
	p, err := Decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("payload: reserve from %q: %w", queue, err)
	}
	return &Job{Queue: queue, Payload: p}, true, nil
}

// Create builds a payload with a fresh id and generation 1, then either
// pushes it onto queue or -- in inline mode -- re-encodes/decodes the args
// and invokes opts.Perform directly in the caller goroutine (spec.md 4.2).
func Create(ctx context.Context, q Queuer, queue, class string, args []any, opts *CreateOptions) (string, error) {
	id, err := newID()
	if err != nil {
		return "", err
	}
	encodedArgs, err := EncodeArgs(args...)
	if err != nil {
		return "", err
	}
	p := Payload{Class: class, Args: encodedArgs, ID: id, Generation: 1}

	if opts != nil && opts.Inline {
		return runInline(p, opts.Perform)
	}

	raw, err := Encode(p)
	if err != nil {
		return "", err
	}
	if err := q.Push(ctx, queue, raw); err != nil {
		return "", fmt.Errorf("payload: create on %q: %w", queue, err)
	}
	return id, nil
}

// runInline re-encodes and decodes p so that semantic drift between the
// enqueued and inline execution paths is caught (spec.md 9), then invokes
// perform with the round-tripped payload.
func runInline(p Payload, perform func(Payload) error) (string, error) {
	if perform == nil {
		return "", fmt.Errorf("payload: inline create requires a Perform function")
	}
	raw, err := Encode(p)
	if err != nil {
		return "", err
	}
	decoded, err := Decode(raw)
	if err != nil {
		return "", err
	}
	if err := perform(decoded); err != nil {
		return decoded.ID, err
	}
	return decoded.ID, nil
}

// Recreate requeues j's payload with generation+1 and the same id
// (spec.md 4.2, P8), returning the new generation.
func Recreate(ctx context.Context, q Queuer, j *Job) (int, error) {
	next := j.Payload
	next.Generation = j.Payload.Generation + 1
	raw, err := Encode(next)
	if err != nil {
		return 0, err
	}
	if err := q.Push(ctx, j.Queue, raw); err != nil {
		return 0, fmt.Errorf("payload: recreate on %q: %w", j.Queue, err)
	}
	j.Payload = next
	return next.Generation, nil
}

// Destroy scans queue, decodes each entry, and removes every one matching
// class and (if given) args, returning the count removed. It is linear in
// queue length, as specified (spec.md 4.2).
func Destroy(ctx context.Context, q Queuer, queue, class string, args []any) (int64, error) {
	entries, err := q.Range(ctx, queue, 0, -1)
	if err != nil {
		return 0, fmt.Errorf("payload: destroy scan of %q: %w", queue, err)
	}

	var wantArgs []byte
	if args != nil {
		encoded, err := EncodeArgs(args...)
		if err != nil {
			return 0, err
		}
		wantArgs, err = Encode(Payload{Args: encoded})
		if err != nil {
			return 0, err
		}
	}

	var removed int64
	for _, entry := range entries {
		p, err := Decode([]byte(entry))
		if err != nil {
			continue // not a well-formed payload; leave it alone
		}
		if p.Class != class {
			continue
		}
		if args != nil {
			gotArgs, err := Encode(Payload{Args: p.Args})
			if err != nil || string(gotArgs) != string(wantArgs) {
				continue
			}
		}
		n, err := q.Remove(ctx, queue, []byte(entry))
		if err != nil {
			return removed, fmt.Errorf("payload: destroy remove from %q: %w", queue, err)
		}
		removed += n
	}
	return removed, nil
}
