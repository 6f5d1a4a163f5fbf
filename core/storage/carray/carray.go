// Package carray implements a log consolidation array: a fixed bank of
// preallocated slots that lets many concurrently-logging threads batch
// their log records into a single reservation and a single exposed
// end-of-log advance, instead of each thread separately contending for
// the tail of the log buffer. Shaped after the "Aether"
// consolidation-array algorithm: threads join a currently-open slot,
// the first joiner leads the group through a single reservation, every
// member copies its own bytes at its own offset within the
// reservation, then the group exposes its range of the log as durable
// in join order via delegation through the MCS queue built in mcs.go.
//
// The MCS primitives and the packed-status slot record follow the same
// sync/atomic idiom used throughout the rest of the storage core.
package carray

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ReserveFunc performs the single, serialized reservation a slot's
// leader makes on behalf of its whole group: given the group's total
// byte count, return the absolute byte range the group now owns in the
// log, split into [startPos, newEnd), plus the log's segment-relative
// newBase and the previous end (oldEnd) the caller may need to know
// the segment boundary crossed, if any.
type ReserveFunc func(totalBytes int64) (startPos, newEnd, newBase, oldEnd int64, err error)

// CArray is a log consolidation array.
type CArray struct {
	slots      [AllSlotCount]*Slot
	active     [ActiveSlotCount]activeSlot
	clockhand  atomic.Uint32
	unused     chan int
	primary    *mcsLock
	secondary  *mcsLock
	durableEnd atomic.Int64
	reserve    ReserveFunc
	joinWindow time.Duration
	metrics    *carrayMetrics
}

type activeSlot struct {
	idx atomic.Int32
}

// New builds a CArray backed by reserve for its single serialized
// reservation step. joinWindow is how long a slot's leader waits after
// opening before closing the slot to new joiners, to let concurrent
// callers batch in; zero disables batching (the leader closes
// immediately after its own join).
func New(reserve ReserveFunc, joinWindow time.Duration) *CArray {
	c := &CArray{
		primary:    &mcsLock{},
		secondary:  &mcsLock{},
		reserve:    reserve,
		joinWindow: joinWindow,
		metrics:    newCArrayMetrics(),
	}
	for i := range c.slots {
		c.slots[i] = newSlot()
	}
	for i := 0; i < ActiveSlotCount; i++ {
		c.slots[i].activate()
		c.active[i].idx.Store(int32(i))
	}
	c.unused = make(chan int, AllSlotCount)
	for i := ActiveSlotCount; i < AllSlotCount; i++ {
		c.unused <- i
	}
	return c
}

// Group is one member's handle on the slot it joined.
type Group struct {
	c           *CArray
	slot        *Slot
	slotPos     int // index into c.active, for retirement swap-in
	localOffset int64
	size        int64
	leader      bool
}

// IsLeader reports whether this member is responsible for the group's
// single reservation call.
func (g *Group) IsLeader() bool { return g.leader }

// Join enrolls size bytes of log data into an open slot, returning a
// Group handle once the group's reservation has completed (the caller
// blocks here if it is a follower waiting on its leader, or performs
// the reservation itself if it is the leader).
func (c *CArray) Join(size int64) (*Group, error) {
	for {
		slotPos := int(c.clockhand.Add(1) % uint32(ActiveSlotCount))
		idx := int(c.active[slotPos].idx.Load())
		slot := c.slots[idx]

		old := slot.status.Load()
		switch {
		case old == statusAvailable:
			if slot.status.CompareAndSwap(old, packJoin(1, size)) {
				g := &Group{c: c, slot: slot, slotPos: slotPos, localOffset: 0, size: size, leader: true}
				c.metrics.joined()
				if err := c.lead(slot, idx); err != nil {
					return nil, err
				}
				if err := slot.getErr(); err != nil {
					// A failed group never exposes, so each member leaves
					// here and the last one out retires the slot.
					if slot.remaining.Add(-1) == 0 {
						c.retire(slot, slotPos)
					}
					return nil, err
				}
				return g, nil
			}
		case old >= 0:
			count, bytes := unpack(old)
			next := packJoin(count+1, bytes+size)
			if slot.status.CompareAndSwap(old, next) {
				g := &Group{c: c, slot: slot, slotPos: slotPos, localOffset: bytes, size: size, leader: false}
				c.metrics.joined()
				slot.waitPublished()
				if err := slot.getErr(); err != nil {
					if slot.remaining.Add(-1) == 0 {
						c.retire(slot, slotPos)
					}
					return nil, err
				}
				return g, nil
			}
		default:
			// PENDING, FINISHED or UNUSED: this slot isn't accepting
			// joiners right now, try the next one.
		}
	}
}

// lead runs the leader's side of the protocol: wait out the join
// window, close the slot to new joiners, perform the serialized
// reservation, and publish it to any waiting followers.
func (c *CArray) lead(slot *Slot, idx int) error {
	if c.joinWindow > 0 {
		time.Sleep(c.joinWindow)
	}

	var count, bytes int64
	for {
		cur := slot.status.Load()
		if cur < 0 {
			// Should not happen: only the leader transitions out of a
			// non-negative status, and it does so exactly once.
			return fmt.Errorf("carray: slot %d closed twice", idx)
		}
		count, bytes = unpack(cur)
		if slot.status.CompareAndSwap(cur, statusPending) {
			break
		}
	}

	node := c.primary.Acquire()
	start := time.Now()
	startPos, newEnd, newBase, oldEnd, err := c.reserve(bytes)
	c.metrics.reserveLatency(time.Since(start))
	node.Release()

	if err != nil {
		slot.setErr(err)
	} else {
		slot.startPos.Store(startPos)
		slot.newEnd.Store(newEnd)
		slot.newBase.Store(newBase)
		slot.oldEnd.Store(oldEnd)
	}
	slot.remaining.Store(count)
	slot.status.Store(statusFinishedBase - bytes)
	slot.publish()
	return nil
}

// Position returns this member's absolute byte offset in the log, and
// the exclusive end of its own range.
func (g *Group) Position() (start, end int64, err error) {
	if err := g.slot.getErr(); err != nil {
		return 0, 0, err
	}
	start = g.slot.startPos.Load() + g.localOffset
	return start, start + g.size, nil
}

// Expose advances the array's durable watermark to cover this
// member's range, delegating to an already-queued predecessor when
// one is available instead of waiting on the secondary queue itself,
// and retires the slot back to the unused pool once every member of
// the group has exposed.
func (g *Group) Expose() error {
	if err := g.slot.getErr(); err != nil {
		return err
	}
	_, end, err := g.Position()
	if err != nil {
		return err
	}

	if !g.c.secondary.TryDelegate(end) {
		node := g.c.secondary.Acquire()
		g.c.advanceDurable(end)
		if delegated, ok := node.TakeDelegate(); ok {
			g.c.advanceDurable(delegated)
		}
		node.Release()
	}

	if g.slot.remaining.Add(-1) == 0 {
		g.c.retire(g.slot, g.slotPos)
	}
	return nil
}

// retire returns slot's underlying array index to the unused pool and
// swaps a fresh slot into slotPos's place in the active array, so the
// next joiner to hash to slotPos finds an AVAILABLE slot rather than a
// retired one.
func (c *CArray) retire(slot *Slot, slotPos int) {
	retiredIdx := -1
	for i, sl := range c.slots {
		if sl == slot {
			retiredIdx = i
			break
		}
	}

	next := <-c.unused
	c.slots[next].activate()
	c.active[slotPos].idx.Store(int32(next))

	slot.status.Store(statusUnused)
	if retiredIdx >= 0 {
		c.unused <- retiredIdx
	}
}

// DurableEnd returns the highest log position the array has exposed as
// durable across all retired and in-flight groups.
func (c *CArray) DurableEnd() int64 { return c.durableEnd.Load() }

func (c *CArray) advanceDurable(end int64) {
	for {
		cur := c.durableEnd.Load()
		if end <= cur {
			return
		}
		if c.durableEnd.CompareAndSwap(cur, end) {
			return
		}
	}
}

// TryDelegate hands end off to whoever currently occupies this lock's
// tail node, if that node has not yet released, so that node exposes
// end on its own Release instead of the caller waiting in the queue at
// all. Returns false if there
// is no live predecessor to delegate to, in which case the caller must
// join the queue itself.
func (l *mcsLock) TryDelegate(end int64) bool {
	cur := l.tail.Load()
	if cur == nil || !cur.locked.Load() {
		return false
	}
	return cur.Delegate(end)
}
