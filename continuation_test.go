package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutineContinuationResumeOnce(t *testing.T) {
	c := newGoroutineContinuation[int]()
	c.Resume(okResult(1))
	c.Resume(okResult(2)) // dropped, ch already has a buffered value
	assert.Equal(t, 1, (<-c.ch).Value)
}

func TestAwaitReturnsResumedValue(t *testing.T) {
	c := newGoroutineContinuation[int]()
	c.Resume(okResult(42))
	v, err := await(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestAwaitRunsCancelHandlerOnContextDone(t *testing.T) {
	c := newGoroutineContinuation[int]()
	var ran bool
	c.RegisterCancelHandler(func(cause error) bool {
		ran = true
		c.Resume(errResult[int](cause))
		return true
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := await(ctx, c)
	assert.True(t, ran)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwaitPrefersResumeThatWonTheCancelRace(t *testing.T) {
	c := newGoroutineContinuation[int]()
	c.RegisterCancelHandler(func(cause error) bool {
		// Too late: Resume already fired, so cancel must be a no-op.
		return true
	})
	c.Resume(okResult(7))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v, err := await(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

// TestCancelDefersToPartnerWhenHandlerDeclines covers the half-delivery
// race: a partner may have already run tryResume on the underlying
// waiter (reserving delivery) by the time ctx.Done() fires. The cancel
// handler reports that back by returning false, and await must wait for
// the partner's Resume instead of reporting the context error over an
// already-committed handoff.
func TestCancelDefersToPartnerWhenHandlerDeclines(t *testing.T) {
	c := newGoroutineContinuation[int]()
	c.RegisterCancelHandler(func(cause error) bool {
		return false
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		v, err := await(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, 99, v)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Resume(okResult(99))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("await never returned the partner's delivered value")
	}
}

func TestCancelCauseErrorWrapping(t *testing.T) {
	base := errors.New("underlying")
	err := &CancellationCause{Cause: base}
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "underlying")

	plain := &CancellationCause{}
	assert.NotEmpty(t, plain.Error())
}

func TestClosedChannelErrorsUnwrapCause(t *testing.T) {
	base := errors.New("cancelled")
	send := &ClosedSendChannel{Cause: base}
	assert.ErrorIs(t, send, base)

	recv := &ClosedReceiveChannel{}
	assert.Nil(t, recv.Unwrap())
}

func TestInvariantViolationPanics(t *testing.T) {
	assert.Panics(t, func() { invariantViolation("test", "boom") })
}
