package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

func TestArrayChannelSendReceiveFIFO(t *testing.T) {
	ctx, cancel := withTimeout(t)
	defer cancel()
	ch := NewArrayChannel[int](4)

	for i := 0; i < 4; i++ {
		require.NoError(t, ch.Send(ctx, i))
	}
	for i := 0; i < 4; i++ {
		v, err := ch.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestArrayChannelTrySendFullAndTryReceiveEmpty(t *testing.T) {
	ch := NewArrayChannel[int](1)
	assert.Equal(t, TrySendOk, ch.TrySend(1))
	assert.Equal(t, TrySendFull, ch.TrySend(2))

	v, res := ch.TryReceive()
	assert.Equal(t, TryReceiveOk, res)
	assert.Equal(t, 1, v)

	_, res = ch.TryReceive()
	assert.Equal(t, TryReceiveEmpty, res)
}

func TestArrayChannelSendSuspendsWhenFull(t *testing.T) {
	ctx, cancel := withTimeout(t)
	defer cancel()
	ch := NewArrayChannel[int](1)
	require.NoError(t, ch.Send(ctx, 1))

	done := make(chan struct{})
	go func() {
		require.NoError(t, ch.Send(ctx, 2))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second send should not complete while buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	v, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second send should complete once a slot frees up")
	}

	v, err = ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestArrayChannelClampsSubOneCapacityToOne(t *testing.T) {
	ch := NewArrayChannel[int](0)
	assert.Equal(t, TrySendOk, ch.TrySend(1))
	assert.Equal(t, TrySendFull, ch.TrySend(2))
}

func TestArrayChannelCloseDrainsSendersAndLetsBufferDrain(t *testing.T) {
	ctx, cancel := withTimeout(t)
	defer cancel()
	ch := NewArrayChannel[int](1)
	require.NoError(t, ch.Send(ctx, 1))

	sendErr := make(chan error, 1)
	go func() { sendErr <- ch.Send(ctx, 2) }()
	time.Sleep(20 * time.Millisecond)

	assert.True(t, ch.Close(nil))
	assert.False(t, ch.Close(nil))

	err := <-sendErr
	var closedSend *ClosedSendChannel
	assert.ErrorAs(t, err, &closedSend)

	v, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = ch.Receive(ctx)
	var closedRecv *ClosedReceiveChannel
	assert.ErrorAs(t, err, &closedRecv)
	assert.Nil(t, closedRecv.Cause)
}

func TestArrayChannelCancelDropsBufferAndFailsReceivers(t *testing.T) {
	ctx, cancel := withTimeout(t)
	defer cancel()
	ch := NewArrayChannel[int](4)
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))

	cause := errors.New("boom")
	ch.Cancel(cause)

	// The buffered 1 and 2 were dropped, so this receive fails instead of
	// returning either of them.
	recvErr := make(chan error, 1)
	go func() {
		_, err := ch.Receive(ctx)
		recvErr <- err
	}()

	err := <-recvErr
	var closedRecv *ClosedReceiveChannel
	require.ErrorAs(t, err, &closedRecv)
	assert.ErrorIs(t, closedRecv.Cause, cause)

	assert.True(t, ch.IsClosedForReceive())
	assert.True(t, ch.IsEmpty())
}

func TestArrayChannelSendRespectsContextCancellation(t *testing.T) {
	fillCtx, fillCancel := withTimeout(t)
	defer fillCancel()
	ch := NewArrayChannel[int](1)
	require.NoError(t, ch.Send(fillCtx, 0)) // fill the single slot

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ch.Send(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The waiter must actually be gone, not just timed out locally.
	assert.True(t, ch.eng.senders.isEmpty())
}

func TestArrayChannelIterator(t *testing.T) {
	ctx, cancel := withTimeout(t)
	defer cancel()
	ch := NewArrayChannel[int](8)
	for i := 0; i < 3; i++ {
		require.NoError(t, ch.Send(ctx, i))
	}
	ch.Close(nil)

	it := ch.Iterator()
	var got []int
	for {
		has, err := it.HasNext(ctx)
		require.NoError(t, err)
		if !has {
			break
		}
		got = append(got, it.Next())
	}
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestArrayChannelConcurrentProducersNoLoss(t *testing.T) {
	ctx, cancel := withTimeout(t)
	defer cancel()
	ch := NewArrayChannel[int](4)

	const producers, perProducer = 20, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				require.NoError(t, ch.Send(ctx, base*perProducer+i))
			}
		}(p)
	}
	go func() {
		wg.Wait()
		ch.Close(nil)
	}()

	seen := make(map[int]bool)
	for {
		v, err := ch.Receive(ctx)
		if err != nil {
			var closedRecv *ClosedReceiveChannel
			require.ErrorAs(t, err, &closedRecv)
			break
		}
		assert.False(t, seen[v], "duplicate delivery of %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, producers*perProducer)
}

// TestArrayChannelReceiversNeverStranded guards against the lost-wakeup
// race where a receiver's own empty-check races a concurrent send's
// buffer store: parking receivers first and only then sending should
// always wake every one of them, repeated enough times to make a
// reordering bug show up as a hang rather than luck into passing.
func TestArrayChannelReceiversNeverStranded(t *testing.T) {
	for i := 0; i < 500; i++ {
		ctx, cancel := withTimeout(t)
		ch := NewArrayChannel[int](1)

		const receivers = 4
		got := make(chan int, receivers)
		var wg sync.WaitGroup
		wg.Add(receivers)
		for r := 0; r < receivers; r++ {
			go func() {
				defer wg.Done()
				v, err := ch.Receive(ctx)
				require.NoError(t, err)
				got <- v
			}()
		}

		time.Sleep(time.Millisecond)
		for r := 0; r < receivers; r++ {
			require.NoError(t, ch.Send(ctx, r))
		}

		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("a receiver was left parked with an unclaimed buffered element")
		}
		close(got)
		cancel()
	}
}

func TestArrayChannelStringFormat(t *testing.T) {
	ctx, cancel := withTimeout(t)
	defer cancel()
	ch := NewArrayChannel[int](4)
	assert.Equal(t, "(buffer:capacity=4,size=0)", ch.String())
	require.NoError(t, ch.Send(ctx, 1))
	assert.Equal(t, "(buffer:capacity=4,size=1)", ch.String())
}

func TestArrayChannelGrowsRingBuffer(t *testing.T) {
	ctx, cancel := withTimeout(t)
	defer cancel()
	ch := NewArrayChannel[int](100, WithInitialBufferSize(2), WithGrowthFactor(2))
	for i := 0; i < 50; i++ {
		require.NoError(t, ch.Send(ctx, i))
	}
	for i := 0; i < 50; i++ {
		v, err := ch.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}
