package channel

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// offerResult is the outcome of a non-blocking attempt to hand an
// element to the channel.
type offerResult int

const (
	offerSuccess offerResult = iota
	offerFailed
	offerClosed
)

// pollResult is the outcome of a non-blocking attempt to take an
// element out of the channel.
type pollResult int

const (
	pollSuccess pollResult = iota
	pollFailed
	pollClosed
)

// closeMarker is the terminal state set at most once on an engine.
// Cause is nil for a plain Close(nil); non-nil for Cancel(cause) or a
// Close(cause).
type closeMarker struct {
	cause     error
	cancelled bool
}

// bufferHooks is implemented by each concrete channel shape and plugs
// its buffer policy into the shared engine.
type bufferHooks[T any] interface {
	// lock/unlock guard the buffer's own short critical section. The
	// engine holds this lock across a buffer mutation together with the
	// waiter-queue peek that decides whether to hand the result straight
	// to a partner, so a partner's own empty/full check can never
	// observe a state the buffer mutation hasn't published yet. Resuming
	// a partner's continuation must always happen after unlock.
	lock()
	unlock()
	isBufferEmpty() bool
	isBufferFull() bool
	isBufferAlwaysEmpty() bool
	isBufferAlwaysFull() bool
	// offerToBufferLocked stores e in the buffer if it fits. Caller must
	// hold the lock. offerInternal calls it before looking at the
	// receiver queue, and popFromBuffer calls it to promote a queued
	// sender's element. Returns false if the buffer has no room (the
	// array channel); the conflated channel always has room, by
	// overwriting.
	offerToBufferLocked(e T) bool
	// pollFromBufferLocked removes and returns one element from the
	// buffer. Caller must hold the lock. popFromBuffer calls it before
	// the sender queue is looked at, and offerInternal calls it to hand
	// a just-buffered element to a queued receiver.
	pollFromBufferLocked() (T, bool)
	// onCancelIdempotent runs the concrete buffer cleanup for
	// Cancel(cause): drop all buffered elements. wasClosed reports
	// whether the engine was already closed before Cancel was called.
	onCancelIdempotent(wasClosed bool)
	describe() string
}

// engine is the abstract channel engine: it owns the waiter queues, the
// close/cancel protocol, and the shared send/receive algorithms.
// ArrayChannel and ConflatedChannel each supply a bufferHooks[T]
// implementation and otherwise share this type entirely.
type engine[T any] struct {
	senders   *waiterQueue
	receivers *waiterQueue

	closeState atomic.Pointer[closeMarker]
	hooks      bufferHooks[T]

	id   string
	kind string

	sendsCompleted    atomic.Int64
	receivesCompleted atomic.Int64
	sendsSuspended    atomic.Int64
	receivesSuspended atomic.Int64
	cancellations     atomic.Int64
}

func newEngine[T any](kind string, hooks bufferHooks[T]) *engine[T] {
	return &engine[T]{
		senders:   newWaiterQueue(),
		receivers: newWaiterQueue(),
		hooks:     hooks,
		id:        uuid.NewString(),
		kind:      kind,
	}
}

// causeOf reports the error to attach to ClosedSendChannel/
// ClosedReceiveChannel. A marker left by Cancel wraps the underlying
// cause in CancellationCause so callers (and errors.Is chains) can tell
// a cancelled channel apart from one that was simply Close(cause)'d.
func (e *engine[T]) causeOf() error {
	cm := e.closeState.Load()
	if cm == nil {
		return nil
	}
	if cm.cancelled {
		return &CancellationCause{Cause: cm.cause}
	}
	return cm.cause
}

func (e *engine[T]) isClosed() bool { return e.closeState.Load() != nil }

// isClosedForReceive additionally requires the buffer to be drained.
func (e *engine[T]) isClosedForReceive() bool {
	return e.isClosed() && e.hooks.isBufferEmpty()
}

// ---- send path ----

func (e *engine[T]) send(ctx context.Context, elem T) error {
	for {
		switch e.offerInternal(elem) {
		case offerSuccess:
			e.sendsCompleted.Add(1)
			trace(e.id, "send.success", nil)
			return nil
		case offerClosed:
			return &ClosedSendChannel{Cause: e.causeOf()}
		}

		w := newSendWaiter[T](elem, nil)
		node, enqueued := e.senders.addLastIf(w, func(any) bool {
			return e.isClosed() == false && (e.hooks.isBufferFull() || e.hooks.isBufferAlwaysFull())
		})
		if !enqueued {
			continue
		}
		w.node = node
		e.sendsSuspended.Add(1)
		trace(e.id, "send.suspend", nil)

		w.cont.RegisterCancelHandler(func(cause error) bool {
			if !w.tryResumeSend() {
				return false
			}
			e.senders.remove(w.node)
			e.cancellations.Add(1)
			w.completeResumeSend(cause)
			return true
		})

		_, err := await(ctx, w.cont)
		if err == nil {
			e.sendsCompleted.Add(1)
		}
		return err
	}
}

func (e *engine[T]) trySend(elem T) offerResult {
	return e.offerInternal(elem)
}

// offerInternal is the non-suspending core of send. It reserves a buffer
// slot for elem before ever looking at the receiver queue: peeking
// receivers first and only afterwards storing to the buffer leaves a
// window where a receiver's own empty-check runs, finds the buffer
// still empty, and parks — after which the sender's buffer store has no
// one left to wake it. Reserving first closes that window: either a
// receiver is already parked when the reservation lands, in which case
// this function finds it and hands the reservation straight over, or no
// receiver is parked yet, in which case any that arrives afterwards
// will observe the reservation and never park at all.
func (e *engine[T]) offerInternal(elem T) offerResult {
	e.hooks.lock()
	if e.isClosed() {
		e.hooks.unlock()
		return offerClosed
	}
	if !e.hooks.offerToBufferLocked(elem) {
		e.hooks.unlock()
		return e.handoffToWaitingReceiver(elem)
	}
	for {
		node := e.receivers.peekFirstNodeOrNull()
		if node == nil {
			e.hooks.unlock()
			return offerSuccess
		}
		rw, ok := node.w.(*receiveWaiter[T])
		if !ok {
			e.hooks.unlock()
			invariantViolation("offerInternal", node.w)
		}
		if !rw.tryResumeReceive() {
			e.receivers.remove(node)
			continue
		}
		v, _ := e.hooks.pollFromBufferLocked()
		e.receivers.remove(node)
		e.hooks.unlock()
		rw.completeResumeReceive(v, nil)
		return offerSuccess
	}
}

// handoffToWaitingReceiver is reached only when the buffer had no room
// for elem; by the buffer-full/receivers-empty invariant no receiver can
// be legitimately parked in that state, but a fresh receiver may still
// be arriving concurrently, so this still checks the queue rather than
// assuming offerFailed.
func (e *engine[T]) handoffToWaitingReceiver(elem T) offerResult {
	for {
		node := e.receivers.peekFirstNodeOrNull()
		if node == nil {
			return offerFailed
		}
		rw, ok := node.w.(*receiveWaiter[T])
		if !ok {
			invariantViolation("handoffToWaitingReceiver", node.w)
		}
		if !rw.tryResumeReceive() {
			e.receivers.remove(node)
			continue
		}
		e.receivers.remove(node)
		rw.completeResumeReceive(elem, nil)
		return offerSuccess
	}
}

// ---- receive path ----

func (e *engine[T]) receive(ctx context.Context) (T, error) {
	for {
		v, res := e.pollInternal()
		switch res {
		case pollSuccess:
			e.receivesCompleted.Add(1)
			trace(e.id, "receive.success", nil)
			return v, nil
		case pollClosed:
			var zero T
			return zero, &ClosedReceiveChannel{Cause: e.causeOf()}
		}

		w := newReceiveWaiter[T](nil)
		node, enqueued := e.receivers.addLastIf(w, func(any) bool {
			return !e.isClosed() && (e.hooks.isBufferEmpty() || e.hooks.isBufferAlwaysEmpty())
		})
		if !enqueued {
			continue
		}
		w.node = node
		e.receivesSuspended.Add(1)
		trace(e.id, "receive.suspend", nil)

		w.cont.RegisterCancelHandler(func(cause error) bool {
			if !w.tryResumeReceive() {
				return false
			}
			e.receivers.remove(w.node)
			e.cancellations.Add(1)
			w.completeResumeReceive(zeroOf[T](), cause)
			return true
		})

		v, err := await(ctx, w.cont)
		if err == nil {
			e.receivesCompleted.Add(1)
		}
		return v, err
	}
}

func (e *engine[T]) tryReceive() (T, pollResult) {
	return e.pollInternal()
}

// pollInternal is the non-suspending core of receive. FIFO requires the
// buffer to be drained before a queued sender is ever taken directly: a
// buffered element was necessarily offered before any sender now
// parked behind a full buffer, so popFromBuffer (which itself promotes
// the next queued sender into the slot it just freed) always runs
// first. Only once the buffer reports empty is a directly queued
// sender's element taken — the rendezvous path for a channel whose
// buffer isn't currently holding anything.
func (e *engine[T]) pollInternal() (T, pollResult) {
	if v, ok := e.popFromBuffer(); ok {
		return v, pollSuccess
	}
	for {
		node := e.senders.peekFirstNodeOrNull()
		if node == nil {
			break
		}
		sw, ok := node.w.(*sendWaiter[T])
		if !ok {
			invariantViolation("pollInternal", node.w)
		}
		if !sw.tryResumeSend() {
			e.senders.remove(node)
			continue
		}
		e.senders.remove(node)
		elem := sw.elem
		sw.completeResumeSend(nil)
		return elem, pollSuccess
	}
	if e.isClosed() {
		var zero T
		return zero, pollClosed
	}
	return zeroOf[T](), pollFailed
}

// popFromBuffer removes one buffered element, if any, and — having
// freed a slot under the same lock as the removal — immediately
// promotes the next queued sender's element into it, mirroring
// offerInternal's reserve-before-peek discipline for the opposite
// direction: the slot is freed and refilled atomically with respect to
// the senders queue, so a sender that raced past its own full-check
// cannot be left parked against a buffer that already has room. The
// promoted sender's continuation is only resumed after the lock is
// released. pollInternal always tries this before taking a sender's
// element directly, so this promotion loop is the only path by which a
// queued sender's element ever reaches the buffer.
func (e *engine[T]) popFromBuffer() (T, bool) {
	e.hooks.lock()
	v, ok := e.hooks.pollFromBufferLocked()
	if !ok {
		e.hooks.unlock()
		return zeroOf[T](), false
	}
	for {
		node := e.senders.peekFirstNodeOrNull()
		if node == nil {
			e.hooks.unlock()
			return v, true
		}
		sw, castOk := node.w.(*sendWaiter[T])
		if !castOk {
			e.hooks.unlock()
			invariantViolation("popFromBuffer", node.w)
		}
		if !sw.tryResumeSend() {
			e.senders.remove(node)
			continue
		}
		e.hooks.offerToBufferLocked(sw.elem)
		e.senders.remove(node)
		e.hooks.unlock()
		sw.completeResumeSend(nil)
		return v, true
	}
}

// ---- close / cancel ----

// close is idempotent: the first call sets the close cause, drains
// queued senders with the close marker, and drains queued receivers
// once the buffer is empty.
func (e *engine[T]) close(cause error) bool {
	marker := &closeMarker{cause: cause}
	if !e.closeState.CompareAndSwap(nil, marker) {
		return false
	}
	trace(e.id, "close", nil)
	e.drainSenders()
	e.drainReceiversIfBufferEmpty()
	return true
}

// cancel closes the engine (if not already closed), discards any
// buffered elements, and resumes every remaining receiver with cause.
func (e *engine[T]) cancel(cause error) {
	marker := &closeMarker{cause: cause, cancelled: true}
	wasClosed := !e.closeState.CompareAndSwap(nil, marker)
	trace(e.id, "cancel", nil)
	e.drainSenders()
	e.hooks.onCancelIdempotent(wasClosed)
	e.drainReceivers()
}

// drainSenders resumes every queued sender with the close error,
// walking the entire tail of the queue rather than stopping at the
// first dead node.
func (e *engine[T]) drainSenders() {
	for {
		node := e.senders.peekFirstNodeOrNull()
		if node == nil {
			return
		}
		sw, ok := node.w.(*sendWaiter[T])
		if !ok {
			invariantViolation("drainSenders", node.w)
		}
		if sw.tryResumeSend() {
			e.senders.remove(node)
			sw.completeResumeSend(&ClosedSendChannel{Cause: e.causeOf()})
		} else {
			e.senders.remove(node)
		}
	}
}

func (e *engine[T]) drainReceiversIfBufferEmpty() {
	if !e.hooks.isBufferEmpty() {
		return
	}
	e.drainReceivers()
}

func (e *engine[T]) drainReceivers() {
	for {
		node := e.receivers.peekFirstNodeOrNull()
		if node == nil {
			return
		}
		rw, ok := node.w.(*receiveWaiter[T])
		if !ok {
			invariantViolation("drainReceivers", node.w)
		}
		if rw.tryResumeReceive() {
			e.receivers.remove(node)
			rw.completeResumeReceive(zeroOf[T](), &ClosedReceiveChannel{Cause: e.causeOf()})
		} else {
			e.receivers.remove(node)
		}
	}
}

func zeroOf[T any]() T {
	var zero T
	return zero
}
