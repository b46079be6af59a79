package channel

import (
	"context"
	"fmt"
	"sync"
)

// ArrayChannel is a bounded, FIFO, in-process channel. It buffers up to
// capacity elements internally in a ring; sends beyond that suspend the
// caller until a receiver catches up or the channel closes.
type ArrayChannel[T any] struct {
	eng      *engine[T]
	capacity int
	cfg      Config

	mu    sync.Mutex
	buf   []T
	head  int
	count int
}

// NewArrayChannel builds an ArrayChannel with room for capacity
// elements. capacity below 1 is clamped to 1: rendezvous (capacity
// zero) channels are out of scope.
func NewArrayChannel[T any](capacity int, opts ...Option) *ArrayChannel[T] {
	if capacity < 1 {
		capacity = 1
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	ac := &ArrayChannel[T]{capacity: capacity, cfg: cfg}
	ac.eng = newEngine[T]("array", ac)
	return ac
}

func (ac *ArrayChannel[T]) Send(ctx context.Context, v T) error        { return ac.eng.send(ctx, v) }
func (ac *ArrayChannel[T]) Receive(ctx context.Context) (T, error)     { return ac.eng.receive(ctx) }
func (ac *ArrayChannel[T]) Close(cause error) bool                     { return ac.eng.close(cause) }
func (ac *ArrayChannel[T]) Cancel(cause error)                         { ac.eng.cancel(cause) }
func (ac *ArrayChannel[T]) IsClosedForSend() bool                      { return ac.eng.isClosed() }
func (ac *ArrayChannel[T]) IsClosedForReceive() bool                   { return ac.eng.isClosedForReceive() }
func (ac *ArrayChannel[T]) Iterator() *Iterator[T]                     { return newIterator(ac.Receive) }
func (ac *ArrayChannel[T]) Metrics() Metrics                           { return ac.eng.metrics() }

func (ac *ArrayChannel[T]) TrySend(v T) TrySendResult {
	switch ac.eng.trySend(v) {
	case offerSuccess:
		return TrySendOk
	case offerClosed:
		return TrySendClosed
	default:
		return TrySendFull
	}
}

func (ac *ArrayChannel[T]) TryReceive() (T, TryReceiveResult) {
	v, res := ac.eng.tryReceive()
	switch res {
	case pollSuccess:
		return v, TryReceiveOk
	case pollClosed:
		return v, TryReceiveClosed
	default:
		return v, TryReceiveEmpty
	}
}

func (ac *ArrayChannel[T]) IsEmpty() bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.count == 0
}

func (ac *ArrayChannel[T]) IsFull() bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.count >= ac.capacity
}

func (ac *ArrayChannel[T]) OnSend(v T, onDone func()) SelectClause {
	return newSendClause[T](ac.eng, v, onDone)
}

func (ac *ArrayChannel[T]) OnReceive(onValue func(T)) SelectClause {
	return newReceiveClause[T](ac.eng, onValue)
}

func (ac *ArrayChannel[T]) OnReceiveCatching(onValue func(T, error)) SelectClause {
	return newReceiveCatchingClause[T](ac.eng, onValue)
}

func (ac *ArrayChannel[T]) String() string { return ac.describe() }

// ---- bufferHooks[T] ----

func (ac *ArrayChannel[T]) isBufferEmpty() bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.count == 0
}

func (ac *ArrayChannel[T]) isBufferFull() bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.count >= ac.capacity
}

func (ac *ArrayChannel[T]) isBufferAlwaysEmpty() bool { return false }
func (ac *ArrayChannel[T]) isBufferAlwaysFull() bool  { return false }

func (ac *ArrayChannel[T]) lock()   { ac.mu.Lock() }
func (ac *ArrayChannel[T]) unlock() { ac.mu.Unlock() }

// offerToBufferLocked stores e in the ring if there's room, growing it
// first if needed. Caller must hold the lock via lock()/unlock().
func (ac *ArrayChannel[T]) offerToBufferLocked(e T) bool {
	if ac.count >= ac.capacity {
		return false
	}
	ac.growLocked(ac.count + 1)
	ac.buf[(ac.head+ac.count)%len(ac.buf)] = e
	ac.count++
	return true
}

// pollFromBufferLocked removes the oldest buffered element. Caller must
// hold the lock via lock()/unlock().
func (ac *ArrayChannel[T]) pollFromBufferLocked() (T, bool) {
	if ac.count == 0 {
		return zeroOf[T](), false
	}
	v := ac.buf[ac.head]
	ac.buf[ac.head] = zeroOf[T]()
	ac.head = (ac.head + 1) % len(ac.buf)
	ac.count--
	return v, true
}

func (ac *ArrayChannel[T]) onCancelIdempotent(_ bool) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.buf = nil
	ac.head, ac.count = 0, 0
}

func (ac *ArrayChannel[T]) describe() string {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return fmt.Sprintf("(buffer:capacity=%d,size=%d)", ac.capacity, ac.count)
}

// growLocked ensures the ring can hold need elements, starting at
// min(capacity, InitialBufferSize) and doubling by GrowthFactor up to
// capacity. Callers hold ac.mu.
func (ac *ArrayChannel[T]) growLocked(need int) {
	if need <= len(ac.buf) {
		return
	}
	newSize := len(ac.buf)
	if newSize == 0 {
		newSize = ac.cfg.InitialBufferSize
		if newSize > ac.capacity {
			newSize = ac.capacity
		}
		if newSize < 1 {
			newSize = 1
		}
	}
	for newSize < need {
		newSize *= ac.cfg.GrowthFactor
	}
	if newSize > ac.capacity {
		newSize = ac.capacity
	}

	grown := make([]T, newSize)
	for i := 0; i < ac.count; i++ {
		grown[i] = ac.buf[(ac.head+i)%len(ac.buf)]
	}
	ac.buf = grown
	ac.head = 0
}
