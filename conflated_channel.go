package channel

import (
	"context"
	"fmt"
	"sync"
)

// ConflatedChannel holds at most one element. A send never suspends: if
// the slot already holds an unreceived element, the new value silently
// replaces it. Receivers see only the most recent value sent before
// they catch up.
type ConflatedChannel[T any] struct {
	eng *engine[T]

	mu       sync.Mutex
	value    T
	hasValue bool
}

func NewConflatedChannel[T any]() *ConflatedChannel[T] {
	cc := &ConflatedChannel[T]{}
	cc.eng = newEngine[T]("conflated", cc)
	return cc
}

func (cc *ConflatedChannel[T]) Send(ctx context.Context, v T) error    { return cc.eng.send(ctx, v) }
func (cc *ConflatedChannel[T]) Receive(ctx context.Context) (T, error) { return cc.eng.receive(ctx) }
func (cc *ConflatedChannel[T]) Close(cause error) bool                 { return cc.eng.close(cause) }
func (cc *ConflatedChannel[T]) Cancel(cause error)                     { cc.eng.cancel(cause) }
func (cc *ConflatedChannel[T]) IsClosedForSend() bool                  { return cc.eng.isClosed() }
func (cc *ConflatedChannel[T]) IsClosedForReceive() bool               { return cc.eng.isClosedForReceive() }
func (cc *ConflatedChannel[T]) Iterator() *Iterator[T]                 { return newIterator(cc.Receive) }
func (cc *ConflatedChannel[T]) Metrics() Metrics                       { return cc.eng.metrics() }

// TrySend always reports TrySendOk unless the channel is closed:
// conflation means there is no such thing as "full".
func (cc *ConflatedChannel[T]) TrySend(v T) TrySendResult {
	switch cc.eng.trySend(v) {
	case offerClosed:
		return TrySendClosed
	default:
		return TrySendOk
	}
}

func (cc *ConflatedChannel[T]) TryReceive() (T, TryReceiveResult) {
	v, res := cc.eng.tryReceive()
	switch res {
	case pollSuccess:
		return v, TryReceiveOk
	case pollClosed:
		return v, TryReceiveClosed
	default:
		return v, TryReceiveEmpty
	}
}

func (cc *ConflatedChannel[T]) IsEmpty() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return !cc.hasValue
}

// IsFull always reports false: conflation means a send is never
// rejected for lack of room.
func (cc *ConflatedChannel[T]) IsFull() bool { return false }

func (cc *ConflatedChannel[T]) OnSend(v T, onDone func()) SelectClause {
	return newSendClause[T](cc.eng, v, onDone)
}

func (cc *ConflatedChannel[T]) OnReceive(onValue func(T)) SelectClause {
	return newReceiveClause[T](cc.eng, onValue)
}

func (cc *ConflatedChannel[T]) OnReceiveCatching(onValue func(T, error)) SelectClause {
	return newReceiveCatchingClause[T](cc.eng, onValue)
}

func (cc *ConflatedChannel[T]) String() string { return cc.describe() }

// ---- bufferHooks[T] ----

func (cc *ConflatedChannel[T]) isBufferEmpty() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return !cc.hasValue
}

func (cc *ConflatedChannel[T]) isBufferFull() bool        { return false }
func (cc *ConflatedChannel[T]) isBufferAlwaysEmpty() bool { return false }
func (cc *ConflatedChannel[T]) isBufferAlwaysFull() bool  { return false }

func (cc *ConflatedChannel[T]) lock()   { cc.mu.Lock() }
func (cc *ConflatedChannel[T]) unlock() { cc.mu.Unlock() }

// offerToBufferLocked overwrites the slot unconditionally. Caller must
// hold the lock via lock()/unlock().
func (cc *ConflatedChannel[T]) offerToBufferLocked(e T) bool {
	cc.value = e
	cc.hasValue = true
	return true
}

// pollFromBufferLocked clears the slot if it holds a value. Caller must
// hold the lock via lock()/unlock().
func (cc *ConflatedChannel[T]) pollFromBufferLocked() (T, bool) {
	if !cc.hasValue {
		return zeroOf[T](), false
	}
	v := cc.value
	cc.value = zeroOf[T]()
	cc.hasValue = false
	return v, true
}

func (cc *ConflatedChannel[T]) onCancelIdempotent(_ bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.value = zeroOf[T]()
	cc.hasValue = false
}

func (cc *ConflatedChannel[T]) describe() string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if !cc.hasValue {
		return "(value=<empty>)"
	}
	return fmt.Sprintf("(value=%v)", cc.value)
}
