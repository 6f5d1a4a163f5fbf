package carray

import "sync/atomic"

// mcsNode is one waiter's queue node in an MCS-style queue lock: each
// waiter links itself onto the tail and spins on its own "locked" flag
// rather than on shared state, so a wakeup costs one cache-line write
// instead of a thundering herd.
type mcsNode struct {
	owner  *mcsLock
	next   atomic.Pointer[mcsNode]
	locked atomic.Bool

	// delegatedEnd/hasDelegate carry an expose-phase range a later
	// arrival asked this node's owner to expose on its own Release,
	// instead of waiting for its own turn.
	delegatedEnd atomic.Int64
	hasDelegate  atomic.Bool
}

// mcsLock is an MCS queue lock: Acquire returns the caller's node,
// already holding the lock once Acquire returns; Release passes the
// lock to the next queued node, if any.
type mcsLock struct {
	tail atomic.Pointer[mcsNode]
}

// Acquire enqueues a fresh node and blocks until it is this goroutine's
// turn. The returned node is also the delegation mailbox a later
// arrival can use via Delegate before this node calls Release.
func (l *mcsLock) Acquire() *mcsNode {
	me := &mcsNode{owner: l}
	pred := l.tail.Swap(me)
	if pred == nil {
		return me // lock was free
	}
	me.locked.Store(true)
	pred.next.Store(me)
	for me.locked.Load() {
		// spin; queue depth is bounded by the handful of concurrently
		// active groups, so this is a short wait in practice.
	}
	return me
}

// Release passes the lock to the next node in the queue, if any.
func (me *mcsNode) Release() {
	next := me.next.Load()
	if next == nil {
		var nilNode *mcsNode
		if me.owner.tail.CompareAndSwap(me, nilNode) {
			return
		}
		for next == nil {
			next = me.next.Load()
		}
	}
	next.locked.Store(false)
}

// Delegate records that end should be exposed by whoever currently
// holds this node's slot in the queue once they call Release, instead
// of the caller waiting for its own turn. Returns false if the node
// already carries an unclaimed delegate (only one pending delegate per
// predecessor is tracked, matching single-outstanding
// delegation description).
func (me *mcsNode) Delegate(end int64) bool {
	return me.hasDelegate.CompareAndSwap(false, true) && func() bool {
		me.delegatedEnd.Store(end)
		return true
	}()
}

// TakeDelegate consumes and returns a pending delegated range, if any.
func (me *mcsNode) TakeDelegate() (int64, bool) {
	if !me.hasDelegate.CompareAndSwap(true, false) {
		return 0, false
	}
	return me.delegatedEnd.Load(), true
}
