package channel

import (
	"context"
	"reflect"
	"sync/atomic"
)

// Select is the narrow select-coordinator contract: an object a waiter
// can attempt to trySelect exactly once. It is created fresh for each
// call to Run and is never reused.
type Select struct {
	winner atomic.Pointer[selectWinner]
}

type selectWinner struct{ token any }

// trySelect is the at-most-once winner election a select must enforce.
// token identifies the clause attempting to win; it is compared by
// identity, never inspected.
func (s *Select) trySelect(token any) bool {
	return s.winner.CompareAndSwap(nil, &selectWinner{token: token})
}

func (s *Select) unSelect() { s.winner.Store(nil) }

// SelectClause is one case of a Select: a candidate send or receive on
// some channel, plus the handler to run once it wins. Build one with a
// channel's OnSend / OnReceive / OnReceiveCatching method.
type SelectClause interface {
	tryImmediate(sel *Select) bool
	registerWaiter(sel *Select) (selectWaiterHandle, bool)
	invoke(ctx context.Context) error
}

// selectWaiterHandle is the bookkeeping Run needs once a clause has been
// registered as a queued waiter: the raw result channel (as a
// reflect.Value so heterogeneously-typed clauses can be waited on
// together via reflect.Select), how to unpack a delivered result into
// the clause, how to cancel the waiter, and how to clean it up if a
// sibling clause wins instead.
type selectWaiterHandle struct {
	resultChan reflect.Value
	deliver    func(recv reflect.Value, ok bool)
	cleanup    func()
	cancel     func(cause error) bool
}

// Run blocks until exactly one of clauses completes — a select over k
// channel clauses picks exactly one; every losing clause leaves its
// channel's state unchanged — then runs that clause's handler and
// returns its error, if any. Run itself never suspends an OS thread:
// like Send/Receive it parks the calling goroutine.
func Run(ctx context.Context, clauses ...SelectClause) error {
	sel := &Select{}

	for _, c := range clauses {
		if c.tryImmediate(sel) {
			return c.invoke(ctx)
		}
	}

	handles := make([]selectWaiterHandle, len(clauses))
	for i, c := range clauses {
		h, needsWait := c.registerWaiter(sel)
		if !needsWait {
			for j := 0; j < i; j++ {
				handles[j].cleanup()
			}
			return c.invoke(ctx)
		}
		handles[i] = h
	}

	cases := make([]reflect.SelectCase, 0, len(handles)+1)
	for _, h := range handles {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: h.resultChan})
	}
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})

	chosen, recv, ok := reflect.Select(cases)
	if chosen == len(handles) {
		return runCancelled(ctx, clauses, handles)
	}

	handles[chosen].deliver(recv, ok)
	for i, h := range handles {
		if i != chosen {
			h.cleanup()
		}
	}
	return clauses[chosen].invoke(ctx)
}

// runCancelled handles the ctx.Done() race: cancelling the first
// registered waiter also wins the select, after which every other
// waiter is only cleaned up. If a partner has already committed to
// resuming one of them, the cancel is declined and that completed
// operation wins instead, so a finished handoff is never reported as
// failed.
func runCancelled(ctx context.Context, clauses []SelectClause, handles []selectWaiterHandle) error {
	if len(handles) == 0 || handles[0].cancel(ctx.Err()) {
		for _, h := range handles {
			h.cleanup()
		}
		return ctx.Err()
	}
	cases := make([]reflect.SelectCase, len(handles))
	for i, h := range handles {
		cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: h.resultChan}
	}
	i, v, ok := reflect.Select(cases)
	handles[i].deliver(v, ok)
	for j, other := range handles {
		if j != i {
			other.cleanup()
		}
	}
	return clauses[i].invoke(ctx)
}

// ---- send clause ----

type sendClause[T any] struct {
	eng    *engine[T]
	value  T
	onDone func()
	waiter *sendWaiter[T]
	err    error
}

func newSendClause[T any](eng *engine[T], value T, onDone func()) SelectClause {
	return &sendClause[T]{eng: eng, value: value, onDone: onDone}
}

func (c *sendClause[T]) tryImmediate(sel *Select) bool {
	if !sel.trySelect(c) {
		return false
	}
	switch c.eng.offerInternal(c.value) {
	case offerSuccess:
		return true
	case offerClosed:
		c.err = &ClosedSendChannel{Cause: c.eng.causeOf()}
		return true
	default:
		sel.unSelect()
		return false
	}
}

func (c *sendClause[T]) registerWaiter(sel *Select) (selectWaiterHandle, bool) {
	w := newSendWaiter[T](c.value, sel)
	node, enqueued := c.eng.senders.addLastIf(w, func(any) bool {
		return !c.eng.isClosed() && (c.eng.hooks.isBufferFull() || c.eng.hooks.isBufferAlwaysFull())
	})
	if !enqueued {
		if c.tryImmediate(sel) {
			return selectWaiterHandle{}, false
		}
		// Extremely unlikely double-miss (state flapped twice); fall
		// back to registering once more against the freshest state.
		node, enqueued = c.eng.senders.addLastIf(w, func(any) bool {
			return !c.eng.isClosed() && (c.eng.hooks.isBufferFull() || c.eng.hooks.isBufferAlwaysFull())
		})
		if !enqueued {
			invariantViolation("sendClause.registerWaiter", "unable to enqueue or resolve")
		}
	}
	w.node = node
	c.waiter = w
	return selectWaiterHandle{
		resultChan: reflect.ValueOf(w.cont.ch),
		deliver: func(recv reflect.Value, ok bool) {
			if !ok {
				return
			}
			res := recv.Interface().(Result[sendOutcome])
			c.err = res.Err
		},
		cleanup: func() { c.eng.senders.remove(w.node) },
		cancel: func(cause error) bool {
			if w.tryResumeSend() {
				c.eng.senders.remove(w.node)
				w.completeResumeSend(cause)
				return true
			}
			return false
		},
	}, true
}

func (c *sendClause[T]) invoke(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}
	if c.onDone != nil {
		c.onDone()
	}
	return nil
}

// ---- receive clause ----

type receiveClause[T any] struct {
	eng     *engine[T]
	onValue func(T)
	waiter  *receiveWaiter[T]
	value   T
	err     error
}

func newReceiveClause[T any](eng *engine[T], onValue func(T)) SelectClause {
	return &receiveClause[T]{eng: eng, onValue: onValue}
}

func (c *receiveClause[T]) tryImmediate(sel *Select) bool {
	if !sel.trySelect(c) {
		return false
	}
	v, res := c.eng.pollInternal()
	switch res {
	case pollSuccess:
		c.value = v
		return true
	case pollClosed:
		c.err = &ClosedReceiveChannel{Cause: c.eng.causeOf()}
		return true
	default:
		sel.unSelect()
		return false
	}
}

func (c *receiveClause[T]) registerWaiter(sel *Select) (selectWaiterHandle, bool) {
	w := newReceiveWaiter[T](sel)
	node, enqueued := c.eng.receivers.addLastIf(w, func(any) bool {
		return !c.eng.isClosed() && (c.eng.hooks.isBufferEmpty() || c.eng.hooks.isBufferAlwaysEmpty())
	})
	if !enqueued {
		if c.tryImmediate(sel) {
			return selectWaiterHandle{}, false
		}
		node, enqueued = c.eng.receivers.addLastIf(w, func(any) bool {
			return !c.eng.isClosed() && (c.eng.hooks.isBufferEmpty() || c.eng.hooks.isBufferAlwaysEmpty())
		})
		if !enqueued {
			invariantViolation("receiveClause.registerWaiter", "unable to enqueue or resolve")
		}
	}
	w.node = node
	c.waiter = w
	return selectWaiterHandle{
		resultChan: reflect.ValueOf(w.cont.ch),
		deliver: func(recv reflect.Value, ok bool) {
			if !ok {
				return
			}
			res := recv.Interface().(Result[T])
			c.value, c.err = res.Value, res.Err
		},
		cleanup: func() { c.eng.receivers.remove(w.node) },
		cancel: func(cause error) bool {
			if w.tryResumeReceive() {
				c.eng.receivers.remove(w.node)
				w.completeResumeReceive(zeroOf[T](), cause)
				return true
			}
			return false
		},
	}, true
}

func (c *receiveClause[T]) invoke(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}
	if c.onValue != nil {
		c.onValue(c.value)
	}
	return nil
}

// ---- receive-catching clause ----

// receiveCatchingClause never fails the select on channel closure: the
// close is delivered to the handler as an error instead.
type receiveCatchingClause[T any] struct {
	inner *receiveClause[T]
	onValue func(T, error)
}

func newReceiveCatchingClause[T any](eng *engine[T], onValue func(T, error)) SelectClause {
	return &receiveCatchingClause[T]{inner: &receiveClause[T]{eng: eng}, onValue: onValue}
}

func (c *receiveCatchingClause[T]) tryImmediate(sel *Select) bool {
	if !sel.trySelect(c) {
		return false
	}
	v, res := c.inner.eng.pollInternal()
	switch res {
	case pollSuccess:
		c.inner.value = v
		return true
	case pollClosed:
		c.inner.err = &ClosedReceiveChannel{Cause: c.inner.eng.causeOf()}
		return true
	default:
		sel.unSelect()
		return false
	}
}

func (c *receiveCatchingClause[T]) registerWaiter(sel *Select) (selectWaiterHandle, bool) {
	h, needsWait := c.inner.registerWaiter(sel)
	return h, needsWait
}

func (c *receiveCatchingClause[T]) invoke(ctx context.Context) error {
	if c.onValue != nil {
		c.onValue(c.inner.value, c.inner.err)
	}
	return nil
}
