package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szhyhun/resque/payload"
)

func newJob(class string) *payload.Job {
	return &payload.Job{Payload: payload.Payload{Class: class}}
}

func TestRegisterRejectsMissingPerform(t *testing.T) {
	r := NewRegistry()
	err := r.Register("NoPerform", Hooks{})
	assert.Error(t, err)
}

func TestSuccessfulRunCallsEveryHookInOrder(t *testing.T) {
	r := NewRegistry()
	var order []string

	require.NoError(t, r.Register("Ordered", Hooks{
		Before: []Before{
			func(ctx context.Context, p payload.Payload) error { order = append(order, "before1"); return nil },
			func(ctx context.Context, p payload.Payload) error { order = append(order, "before2"); return nil },
		},
		Around: []Around{
			func(ctx context.Context, p payload.Payload, next Handler) error {
				order = append(order, "around1-pre")
				err := next(ctx, p)
				order = append(order, "around1-post")
				return err
			},
			func(ctx context.Context, p payload.Payload, next Handler) error {
				order = append(order, "around2-pre")
				err := next(ctx, p)
				order = append(order, "around2-post")
				return err
			},
		},
		Perform: func(ctx context.Context, p payload.Payload) error {
			order = append(order, "perform")
			return nil
		},
		After: []After{
			func(ctx context.Context, p payload.Payload) error { order = append(order, "after"); return nil },
		},
	}))

	pipe := NewPipeline(r)
	j := newJob("Ordered")
	err := pipe.Run(context.Background(), j, j.MarkFailureRecorded)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"before1", "before2",
		"around1-pre", "around2-pre", "perform", "around2-post", "around1-post",
		"after",
	}, order)
}

// S4: a before-hook aborting with ErrDontPerform skips perform, after, and
// failure hooks cleanly.
func TestDontPerformSkipsPerformAfterAndFailure(t *testing.T) {
	r := NewRegistry()
	performCalled := false
	afterCalled := false
	failureCalled := false

	require.NoError(t, r.Register("Aborted", Hooks{
		Before: []Before{
			func(ctx context.Context, p payload.Payload) error { return ErrDontPerform },
		},
		Perform: func(ctx context.Context, p payload.Payload) error { performCalled = true; return nil },
		After: []After{
			func(ctx context.Context, p payload.Payload) error { afterCalled = true; return nil },
		},
		Failure: []OnFailure{
			func(ctx context.Context, p payload.Payload, cause error) error { failureCalled = true; return nil },
		},
	}))

	pipe := NewPipeline(r)
	j := newJob("Aborted")
	err := pipe.Run(context.Background(), j, j.MarkFailureRecorded)

	assert.ErrorIs(t, err, ErrDontPerform)
	assert.False(t, performCalled)
	assert.False(t, afterCalled)
	assert.False(t, failureCalled)
	assert.False(t, j.FailureRecorded())
}

func TestPerformErrorRunsFailureHookOnce(t *testing.T) {
	r := NewRegistry()
	wantErr := errors.New("boom")
	failureCount := 0

	require.NoError(t, r.Register("Failing", Hooks{
		Perform: func(ctx context.Context, p payload.Payload) error { return wantErr },
		Failure: []OnFailure{
			func(ctx context.Context, p payload.Payload, cause error) error {
				failureCount++
				assert.Equal(t, wantErr, cause)
				return nil
			},
		},
	}))

	pipe := NewPipeline(r)
	j := newJob("Failing")
	err := pipe.Run(context.Background(), j, j.MarkFailureRecorded)

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, failureCount)
	assert.True(t, j.FailureRecorded())

	// Running again must not invoke the failure hook a second time (I3).
	err = pipe.Run(context.Background(), j, j.MarkFailureRecorded)
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, failureCount)
}

func TestFailureHookErrorWrapsBothErrors(t *testing.T) {
	r := NewRegistry()
	original := errors.New("original failure")
	secondary := errors.New("failure hook itself failed")

	require.NoError(t, r.Register("DoubleFailure", Hooks{
		Perform: func(ctx context.Context, p payload.Payload) error { return original },
		Failure: []OnFailure{
			func(ctx context.Context, p payload.Payload, cause error) error { return secondary },
		},
	}))

	pipe := NewPipeline(r)
	j := newJob("DoubleFailure")
	err := pipe.Run(context.Background(), j, j.MarkFailureRecorded)

	var fhErr *FailureHookError
	require.ErrorAs(t, err, &fhErr)
	assert.Equal(t, original, fhErr.Original)
	assert.Equal(t, secondary, fhErr.Secondary)
	assert.ErrorIs(t, err, original)
	assert.True(t, j.FailureRecorded(), "one-shot flag still marked even when the failure hook itself errors")
}

func TestAroundHookErrorTriggersFailure(t *testing.T) {
	r := NewRegistry()
	wantErr := errors.New("around blew up")

	require.NoError(t, r.Register("AroundFails", Hooks{
		Around: []Around{
			func(ctx context.Context, p payload.Payload, next Handler) error { return wantErr },
		},
		Perform: func(ctx context.Context, p payload.Payload) error {
			t.Fatal("perform must not run when an around hook short-circuits")
			return nil
		},
	}))

	pipe := NewPipeline(r)
	j := newJob("AroundFails")
	err := pipe.Run(context.Background(), j, j.MarkFailureRecorded)
	assert.ErrorIs(t, err, wantErr)
}

func TestLookupMissingClassErrors(t *testing.T) {
	r := NewRegistry()
	pipe := NewPipeline(r)
	j := newJob("Unknown")
	err := pipe.Run(context.Background(), j, j.MarkFailureRecorded)
	assert.Error(t, err)
}
