package reliability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ebms/pkg/mep"
)

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not finish")
		return Outcome{}
	}
}

func TestScheduler_ExhaustsAfterSixAttempts(t *testing.T) {
	s := NewScheduler(nil, nil)
	defer s.Stop()

	var calls atomic.Int32
	done := make(chan Outcome, 1)
	err := s.Deliver(context.Background(), "m1", retryPolicy(5, time.Millisecond),
		func(context.Context) error {
			calls.Add(1)
			return Transient(errors.New("no receipt"))
		},
		func(o Outcome) { done <- o })
	require.NoError(t, err)

	o := waitOutcome(t, done)
	assert.Equal(t, Exhausted, o.State)
	assert.Equal(t, 6, o.Attempts)
	assert.ErrorIs(t, o.Err, ErrExhausted)
	assert.ErrorIs(t, o.Err, ErrTransient)
	assert.EqualValues(t, 6, calls.Load())

	err = s.Deliver(context.Background(), "m1", retryPolicy(5, time.Millisecond),
		func(context.Context) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Zero(t, s.InFlight())
}

func TestScheduler_AckAfterRetries(t *testing.T) {
	s := NewScheduler(NewTracker(), nil)
	defer s.Stop()

	var calls atomic.Int32
	done := make(chan Outcome, 1)
	err := s.Deliver(context.Background(), "m1", retryPolicy(5, time.Millisecond),
		func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("503")
			}
			return nil
		},
		func(o Outcome) { done <- o })
	require.NoError(t, err)

	o := waitOutcome(t, done)
	assert.Equal(t, Acked, o.State)
	assert.Equal(t, 3, o.Attempts)
	assert.NoError(t, o.Err)

	a, ok := s.Tracker().Get("m1")
	require.True(t, ok)
	assert.Equal(t, Acked, a.State)
}

func TestScheduler_FirstAttemptIsSynchronous(t *testing.T) {
	s := NewScheduler(nil, nil)
	defer s.Stop()

	var o Outcome
	err := s.Deliver(context.Background(), "m1", retryPolicy(5, time.Hour),
		func(context.Context) error { return nil },
		func(out Outcome) { o = out })
	require.NoError(t, err)
	assert.Equal(t, Acked, o.State)
}

func TestScheduler_DoesNotBlockForInterval(t *testing.T) {
	s := NewScheduler(nil, nil)

	done := make(chan Outcome, 1)
	start := time.Now()
	err := s.Deliver(context.Background(), "m1", retryPolicy(5, time.Hour),
		func(context.Context) error { return errors.New("down") },
		func(o Outcome) { done <- o })
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, s.InFlight())

	err = s.Deliver(context.Background(), "m1", retryPolicy(5, time.Hour),
		func(context.Context) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrInFlight)

	s.Stop()
	o := waitOutcome(t, done)
	assert.Equal(t, Failed, o.State)
	assert.Equal(t, 1, o.Attempts)

	err = s.Deliver(context.Background(), "m2", retryPolicy(5, time.Hour),
		func(context.Context) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestScheduler_ViolationIsNotRetried(t *testing.T) {
	s := NewScheduler(nil, nil)
	defer s.Stop()

	var calls atomic.Int32
	done := make(chan Outcome, 1)
	err := s.Deliver(context.Background(), "m1", retryPolicy(5, time.Millisecond),
		func(context.Context) error {
			calls.Add(1)
			return &mep.ViolationError{MEP: mep.OneWay, Binding: mep.Push, Kind: mep.KindUserMessage, Leg: 1}
		},
		func(o Outcome) { done <- o })
	require.NoError(t, err)

	o := waitOutcome(t, done)
	assert.Equal(t, Failed, o.State)
	var v *mep.ViolationError
	assert.ErrorAs(t, o.Err, &v)
	assert.EqualValues(t, 1, calls.Load())
}

func TestScheduler_ContextCancellation(t *testing.T) {
	s := NewScheduler(nil, nil)
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	err := s.Deliver(ctx, "m1", retryPolicy(5, time.Hour),
		func(context.Context) error { return errors.New("down") },
		func(o Outcome) { done <- o })
	require.NoError(t, err)

	cancel()
	o := waitOutcome(t, done)
	assert.Equal(t, Failed, o.State)
	assert.ErrorIs(t, o.Err, context.Canceled)

	a, ok := s.Tracker().Get("m1")
	require.True(t, ok)
	assert.Equal(t, Failed, a.State)
}

func TestScheduler_CancelledDuringAttempt(t *testing.T) {
	s := NewScheduler(nil, nil)
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	var o Outcome
	err := s.Deliver(ctx, "m1", retryPolicy(5, time.Millisecond),
		func(ctx context.Context) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		},
		func(out Outcome) { o = out })
	require.NoError(t, err)
	assert.Equal(t, Failed, o.State)
	assert.ErrorIs(t, o.Err, context.Canceled)
}

func TestScheduler_AcknowledgeCancelsPendingRetry(t *testing.T) {
	s := NewScheduler(nil, nil)
	defer s.Stop()

	var calls atomic.Int32
	done := make(chan Outcome, 1)
	err := s.Deliver(context.Background(), "m1", retryPolicy(5, time.Hour),
		func(context.Context) error {
			calls.Add(1)
			return Transient(errors.New("awaiting receipt"))
		},
		func(o Outcome) { done <- o })
	require.NoError(t, err)
	assert.Equal(t, 1, s.InFlight())

	require.NoError(t, s.Acknowledge("m1"))
	o := waitOutcome(t, done)
	assert.Equal(t, Acked, o.State)
	assert.Equal(t, 1, o.Attempts)
	assert.EqualValues(t, 1, calls.Load())
	assert.Zero(t, s.InFlight())

	assert.ErrorIs(t, s.Acknowledge("m1"), ErrTerminated)
	assert.ErrorIs(t, s.Acknowledge("unknown"), ErrNotTracked)
}

func TestScheduler_AcknowledgeDuringAttempt(t *testing.T) {
	s := NewScheduler(nil, nil)
	defer s.Stop()

	done := make(chan Outcome, 1)
	err := s.Deliver(context.Background(), "m1", retryPolicy(5, time.Hour),
		func(context.Context) error {
			require.NoError(t, s.Acknowledge("m1"))
			return Transient(errors.New("connection reset"))
		},
		func(o Outcome) { done <- o })
	require.NoError(t, err)

	o := waitOutcome(t, done)
	assert.Equal(t, Acked, o.State)
	assert.NoError(t, o.Err)
}

func TestScheduler_RejectCancelsPendingRetry(t *testing.T) {
	s := NewScheduler(nil, nil)
	defer s.Stop()

	done := make(chan Outcome, 1)
	err := s.Deliver(context.Background(), "m1", retryPolicy(5, time.Hour),
		func(context.Context) error { return Transient(errors.New("awaiting receipt")) },
		func(o Outcome) { done <- o })
	require.NoError(t, err)

	cause := errors.New("EBMS:0004 Other")
	require.NoError(t, s.Reject("m1", cause))
	o := waitOutcome(t, done)
	assert.Equal(t, Failed, o.State)
	assert.ErrorIs(t, o.Err, cause)
	assert.Equal(t, 1, o.Attempts)

	assert.ErrorIs(t, s.Reject("m1", cause), ErrTerminated)
}

// takeTimer claims the pending retry of messageID as fire does
func takeTimer(t *testing.T, s *Scheduler, messageID string) *delivery {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.active[messageID]
	require.NotNil(t, d)
	require.NotNil(t, d.timer)
	d.timer.Stop()
	d.timer = nil
	return d
}

func TestScheduler_AcknowledgeAsRetryFires(t *testing.T) {
	s := NewScheduler(nil, nil)
	defer s.Stop()

	var calls atomic.Int32
	done := make(chan Outcome, 1)
	err := s.Deliver(context.Background(), "m1", retryPolicy(5, time.Hour),
		func(context.Context) error {
			calls.Add(1)
			return Transient(errors.New("awaiting receipt"))
		},
		func(o Outcome) { done <- o })
	require.NoError(t, err)

	d := takeTimer(t, s, "m1")
	require.NoError(t, s.Acknowledge("m1"))
	s.run(d)

	o := waitOutcome(t, done)
	assert.Equal(t, Acked, o.State)
	assert.NoError(t, o.Err)
	assert.Equal(t, 1, o.Attempts)
	assert.EqualValues(t, 1, calls.Load())
	assert.Zero(t, s.InFlight())
}

func TestScheduler_RejectAsRetryFires(t *testing.T) {
	s := NewScheduler(nil, nil)
	defer s.Stop()

	done := make(chan Outcome, 1)
	err := s.Deliver(context.Background(), "m1", retryPolicy(5, time.Hour),
		func(context.Context) error { return Transient(errors.New("awaiting receipt")) },
		func(o Outcome) { done <- o })
	require.NoError(t, err)

	d := takeTimer(t, s, "m1")
	cause := errors.New("EBMS:0004 Other")
	require.NoError(t, s.Reject("m1", cause))
	s.run(d)

	o := waitOutcome(t, done)
	assert.Equal(t, Failed, o.State)
	assert.ErrorIs(t, o.Err, cause)
	assert.Equal(t, 1, o.Attempts)
}

func TestScheduler_Prune(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker()
	tr.now = clock.now
	s := NewScheduler(tr, nil)
	defer s.Stop()

	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, s.Deliver(context.Background(), id, retryPolicy(5, time.Hour),
			func(context.Context) error { return nil }, nil))
	}
	require.NoError(t, s.Deliver(context.Background(), "waiting", retryPolicy(5, time.Hour),
		func(context.Context) error { return Transient(errors.New("awaiting receipt")) }, nil))
	require.NoError(t, tr.Begin("submitted", retryPolicy(5, time.Hour)))
	assert.Equal(t, 5, tr.Len())

	assert.Empty(t, s.Prune(time.Hour))

	clock.advance(2 * time.Hour)
	assert.ElementsMatch(t, []string{"a1", "a2", "a3", "submitted"}, s.Prune(time.Hour))
	assert.Equal(t, 1, tr.Len())
	_, ok := tr.Get("waiting")
	assert.True(t, ok, "a delivery awaiting its retry is kept")
	assert.Equal(t, 1, s.InFlight())
}
