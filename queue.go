package channel

import "sync/atomic"

// queueNode is a slot in a waiterQueue. It wraps a waiter rather than
// having the waiter embed the node directly (Go generics have no
// inheritance to embed a shared node type across sendWaiter[T] and
// receiveWaiter[T] while keeping a single non-generic queue), but the
// queue itself is still a lock-free, intrusive structure: CAS-linked,
// tombstone-removable, helping on contention.
type queueNode struct {
	next    atomic.Pointer[queueNode]
	prev    *queueNode // predecessor at append time; no queue operation reads it
	removed atomic.Bool
	w       any
}

// waiterQueue is an unbounded, lock-free FIFO of waiters with a sentinel
// head, in the style of a Michael-Scott queue extended with logical
// deletion: removeFirstOrNull/peekFirstOrNull skip over tombstoned nodes
// rather than requiring true mid-list unlinking, which keeps
// cancellation O(1) without needing true doubly-linked splice removal.
type waiterQueue struct {
	head atomic.Pointer[queueNode]
	tail atomic.Pointer[queueNode]
}

func newWaiterQueue() *waiterQueue {
	sentinel := &queueNode{}
	q := &waiterQueue{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// addLast appends w unconditionally and returns its node.
func (q *waiterQueue) addLast(w any) *queueNode {
	n, _ := q.addLastIf(w, nil)
	return n
}

// addLastIf appends w only if predicate(tailWaiter) holds, where
// tailWaiter is the waiter currently at the logical tail (nil if the
// queue is logically empty). The check and the append are atomic with
// respect to the tail observed: if another node is appended after the
// predicate is evaluated but before our CAS succeeds, we retry against
// the new tail. predicate == nil means "always append".
func (q *waiterQueue) addLastIf(w any, predicate func(tailWaiter any) bool) (*queueNode, bool) {
	n := &queueNode{w: w}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next != nil {
			// Tail pointer lags the real tail; help it catch up.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if predicate != nil {
			var tailWaiter any
			if tail.w != nil && !tail.removed.Load() {
				tailWaiter = tail.w
			}
			if !predicate(tailWaiter) {
				return nil, false
			}
		}
		n.prev = tail
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			return n, true
		}
	}
}

// peekFirstOrNull returns the head-most non-removed waiter without
// detaching it, or nil if the queue is logically empty.
func (q *waiterQueue) peekFirstOrNull() any {
	for {
		head := q.head.Load()
		next := head.next.Load()
		if next == nil {
			return nil
		}
		if next.removed.Load() {
			q.head.CompareAndSwap(head, next)
			continue
		}
		return next.w
	}
}

// peekFirstNodeOrNull is like peekFirstOrNull but also returns the node,
// so a caller that successfully claims the waiter can remove its exact
// node afterwards.
func (q *waiterQueue) peekFirstNodeOrNull() *queueNode {
	for {
		head := q.head.Load()
		next := head.next.Load()
		if next == nil {
			return nil
		}
		if next.removed.Load() {
			q.head.CompareAndSwap(head, next)
			continue
		}
		return next
	}
}

// removeFirstOrNull detaches the head-most non-removed waiter and
// returns it, or nil if the queue is logically empty.
func (q *waiterQueue) removeFirstOrNull() any {
	for {
		n := q.peekFirstNodeOrNull()
		if n == nil {
			return nil
		}
		if n.removed.CompareAndSwap(false, true) {
			head := q.head.Load()
			q.head.CompareAndSwap(head, n)
			return n.w
		}
		// Lost the tombstone race to a concurrent cancellation; retry.
	}
}

// remove detaches a specific node, e.g. on cancellation. Returns true if
// this call is the one that marked it removed.
func (q *waiterQueue) remove(n *queueNode) bool {
	if n == nil {
		return false
	}
	if !n.removed.CompareAndSwap(false, true) {
		return false
	}
	head := q.head.Load()
	if head.next.Load() == n {
		q.head.CompareAndSwap(head, n)
	}
	return true
}

// isEmpty reports whether the queue currently has no live waiter.
func (q *waiterQueue) isEmpty() bool {
	return q.peekFirstOrNull() == nil
}

