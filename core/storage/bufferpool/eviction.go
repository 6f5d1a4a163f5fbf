package bufferpool

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gojodb/storagecore/core/storage/page"
	"github.com/gojodb/storagecore/core/storage/storageerr"
)

// Urgency tunes how hard an eviction round tries.
type Urgency int

const (
	UrgencyNormal Urgency = iota
	UrgencyEager
	UrgencyUrgent
	UrgencyComplete
)

const (
	// EvictBatchRatio is the fraction of the pool a default eviction
	// request aims to free.
	EvictBatchRatio = 0.01
	// EvictMaxRounds bounds sweep rounds per eviction request.
	EvictMaxRounds = 20
	// UnswizzleBatchSize bounds how many inner frames a single
	// unswizzle-to-expose-leaves pass touches.
	UnswizzleBatchSize = 32
	// unswizzleHintThreshold is the swizzled_ptr_cnt_hint floor an
	// inner frame must clear to be considered for unswizzling first.
	// It is used only as a pruning heuristic, never for a correctness
	// decision.
	unswizzleHintThreshold = 4
)

func defaultEvictBatch(n uint32) int {
	want := float64(n) * EvictBatchRatio
	b := int(want)
	if float64(b) < want {
		b++ // ceiling
	}
	if b < 1 {
		b = 1
	}
	return b
}

var clockHand atomic.Uint32

// EvictBlocks runs one eviction request to completion, returning the
// number of frames evicted and the number of inner frames unswizzled
// along the way. Eviction is single-threaded pool-wide: it holds
// bpm.evictMu for its whole duration.
func (bpm *BufferPoolManager) EvictBlocks(urgency Urgency, preferredCount int) (evicted, unswizzled int, err error) {
	bpm.evictMu.Lock()
	defer bpm.evictMu.Unlock()

	if preferredCount <= 0 {
		preferredCount = defaultEvictBatch(bpm.n)
	}

	maxRounds := 1
	switch urgency {
	case UrgencyEager:
		maxRounds = EvictMaxRounds
	case UrgencyUrgent, UrgencyComplete:
		maxRounds = EvictMaxRounds
	}

	for round := 0; round < maxRounds && evicted < preferredCount; round++ {
		bpm.metrics.round()
		got := bpm.sweepOnce(preferredCount-evicted, false)
		evicted += got

		if evicted >= preferredCount {
			break
		}
		if urgency == UrgencyUrgent || urgency == UrgencyComplete {
			u := bpm.unswizzleToExposeLeaves(UnswizzleBatchSize)
			unswizzled += u
			if u == 0 && got == 0 {
				break
			}
		} else if got == 0 {
			break
		}
	}

	bpm.metrics.evicted(int64(evicted))
	if evicted == 0 && preferredCount > 0 {
		return evicted, unswizzled, storageerr.ErrOutOfBuffer
	}
	return evicted, unswizzled, nil
}

// sweepOnce advances the clock hand across up to bpm.n frames, trying
// to evict up to want leaves (or, if allowInner is set, inner frames
// too; EvictBlocks always passes false).
func (bpm *BufferPoolManager) sweepOnce(want int, allowInner bool) int {
	evicted := 0
	n := bpm.n
	if n == 0 {
		return 0
	}
	start := clockHand.Load()
	i := uint32(0)
	for ; i < n && evicted < want; i++ {
		frame := (start+i)%n + 1
		cb := bpm.frames[frame]
		if bpm.tryEvict(cb, allowInner) {
			evicted++
		}
	}
	clockHand.Store((start + i) % n)
	return evicted
}

// tryEvict applies the six per-frame acceptance rules in sequence.
// Any rule failing silently skips the frame.
func (bpm *BufferPoolManager) tryEvict(cb *ControlBlock, allowInner bool) bool {
	// Rule 1.
	if !cb.Used() || cb.InDoubt() || cb.RecoveryAccess() {
		return false
	}
	// Rule 5 (checked before the CAS so we don't need to undo it on a
	// policy skip): leaves only, unless this is the urgency-driven
	// inner sweep, and even then only if no swizzled children remain.
	if cb.pageTag != page.TagLeaf {
		if !allowInner || cb.swizzledPtrCntHint.Load() > 0 {
			return false
		}
	}
	// Rule 2.
	if !cb.pinCnt.CompareAndSwap(0, pinEvicting) {
		return false
	}

	ok := bpm.evictAccepted(cb)
	if !ok {
		cb.pinCnt.Store(0)
	}
	return ok
}

// evictAccepted runs rules 3, 4 and 6 (rule 5 is checked in tryEvict)
// and, if every one holds, performs the
// actual eviction. cb.pin_cnt is already -1 on entry (rule 2 passed).
func (bpm *BufferPoolManager) evictAccepted(cb *ControlBlock) bool {
	// Rule 3: a recorded, still-valid parent.
	parentFrame := cb.Parent()
	if parentFrame == NullFrame || parentFrame > bpm.n {
		return false
	}
	parent := bpm.frames[parentFrame]
	if !parent.Used() {
		return false
	}

	// Rule 4: parent SH latch, conditional.
	if !parent.Latch.TryAcquireShared() {
		return false
	}
	defer parent.Latch.ReleaseShared()

	// Rule 6: no outgoing unresolved WOD.
	if !cb.dependencySatisfied(func(frame uint32) page.LSN {
		return page.LSN(bpm.frames[frame].flushedLSN.Load())
	}) {
		return false
	}

	bpm.finishEviction(cb, parent)
	return true
}

// finishEviction performs the accepted eviction: reverts the parent's
// swizzled slot if present, updates the parent's EMLSN for this child,
// removes the hashtable entry, clears the CB, and returns the frame to
// the free list. Caller holds parent's SH latch and cb.pin_cnt == -1.
func (bpm *BufferPoolManager) finishEviction(cb, parent *ControlBlock) {
	if cb.Swizzled() && bpm.codec != nil {
		slots := bpm.codec.ChildSlots(parent.Page.Data)
		if slot := bpm.findPageIDSlot(parent.Page.Data, slots, cb.pageID); slot >= 0 {
			unswizzleChild(parent.Page.Data, slot, cb)
			bpm.codec.WriteEMLSN(parent.Page.Data, slot, cb.PageLSN())
		}
	} else if bpm.codec != nil {
		slots := bpm.codec.ChildSlots(parent.Page.Data)
		if slot := bpm.findPageIDSlot(parent.Page.Data, slots, cb.pageID); slot >= 0 {
			bpm.codec.WriteEMLSN(parent.Page.Data, slot, cb.PageLSN())
		}
	}

	if cb.Dirty() {
		bpm.flushFrameLocked(cb)
	}

	bpm.index.Remove(cb.Key())
	cb.reset()
	bpm.free.Push(cb.FrameIndex())
}

// unswizzleToExposeLeaves picks inner frames whose swizzled_ptr_cnt_hint
// clears the pruning threshold and unswizzles a bounded batch of their
// children, so a follow-up leaf sweep has more evictable candidates.
func (bpm *BufferPoolManager) unswizzleToExposeLeaves(batch int) int {
	done := 0
	n := bpm.n
	for frame := uint32(1); frame <= n && done < batch; frame++ {
		cb := bpm.frames[frame]
		if !cb.Used() || cb.pageTag == page.TagLeaf {
			continue
		}
		if cb.swizzledPtrCntHint.Load() < unswizzleHintThreshold {
			continue
		}
		if !cb.Latch.TryAcquireExclusive() {
			continue
		}
		n2 := bpm.unswizzleChildrenOf(cb)
		cb.Latch.ReleaseExclusive()
		if n2 > 0 {
			bpm.logger.Debug("unswizzled children to expose leaves",
				zap.Uint32("parent_frame", frame), zap.Int("count", n2))
		}
		done += n2
	}
	return done
}

// unswizzleChildrenOf unswizzles every currently-unpinned, unlatched
// swizzled child referenced from cb's page, up to UnswizzleBatchSize.
// Caller holds cb's EX latch.
func (bpm *BufferPoolManager) unswizzleChildrenOf(cb *ControlBlock) int {
	if bpm.codec == nil {
		return 0
	}
	count := 0
	for _, off := range bpm.codec.ChildSlots(cb.Page.Data) {
		if count >= UnswizzleBatchSize {
			break
		}
		child := childPointerAt(cb.Page.Data, off)
		if !child.IsSwizzled() {
			continue
		}
		frame := child.FrameIndex()
		if frame == 0 || frame > bpm.n {
			continue
		}
		childCB := bpm.frames[frame]
		if childCB.PinCount() != 0 {
			continue
		}
		if !childCB.Latch.TryAcquireExclusive() {
			continue
		}
		unswizzleChild(cb.Page.Data, off, childCB)
		childCB.Latch.ReleaseExclusive()
		count++
	}
	return count
}

func childPointerAt(data []byte, off int) page.ChildPointer {
	return page.ChildPointer(
		uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16 | uint32(data[off+3])<<24,
	)
}
