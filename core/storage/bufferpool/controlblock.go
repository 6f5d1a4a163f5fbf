package bufferpool

import (
	"sync"
	"sync/atomic"

	"github.com/gojodb/storagecore/core/storage/latch"
	"github.com/gojodb/storagecore/core/storage/page"
)

// NullFrame is the reserved "no frame" index; real frames occupy
// [1, N] so that 0 can always mean "absent" in a parent hint or a free
// list terminator.
const NullFrame uint32 = 0

// MaxRefCount caps ControlBlock.refcount to bound coherence traffic.
const MaxRefCount = 16

// pinEvicting is the sentinel pin count published while a frame is being
// evicted.
const pinEvicting int32 = -1

// dependency is the single outgoing write-order-dependency edge a page
// may carry.
type dependency struct {
	frame   uint32
	pageID  page.PageID
	pageLSN page.LSN
}

// ControlBlock is the per-frame metadata record held alongside a
// frame's page. Flags and counters that must be read or mutated
// outside the frame's own latch (pin count, dirty/in-doubt bits used
// by concurrent lookups, LSNs, the parent and swizzle hints) are kept
// in atomics, and the WOD edge is guarded by depMu; the disk identity
// (vol, pageID, store, pageTag) is held in plain fields.
//
// Cacheline layout note:
// the Latch is a separate allocation referenced by pointer rather than
// embedded, so a CB and its latch never share a hardware sector even
// when CBs are packed into a contiguous array.
type ControlBlock struct {
	Latch *latch.Latch

	frameIndex uint32

	used           atomic.Bool
	dirty          atomic.Bool
	inDoubt        atomic.Bool
	recoveryAccess atomic.Bool

	pinCnt atomic.Int32

	vol     page.VolumeID
	pageID  page.PageID
	store   page.StoreID
	pageTag page.PageTag

	recLSN     atomic.Uint64 // page.LSN
	pageLSN    atomic.Uint64 // page.LSN
	flushedLSN atomic.Uint64 // page.LSN as of the last successful writeback

	refCount atomic.Int32

	swizzled           atomic.Bool
	swizzledPtrCntHint atomic.Uint32

	// parent is a hint only; revalidated under the parent's latch before
	// any decision is made from it.
	parent atomic.Uint32

	depMu sync.Mutex
	dep   *dependency

	Page *page.Page
}

func newControlBlock(frameIndex uint32, pageSize int) *ControlBlock {
	return &ControlBlock{
		Latch:      &latch.Latch{},
		frameIndex: frameIndex,
		Page:       page.New(pageSize),
	}
}

func (cb *ControlBlock) FrameIndex() uint32 { return cb.frameIndex }

func (cb *ControlBlock) Used() bool           { return cb.used.Load() }
func (cb *ControlBlock) Dirty() bool          { return cb.dirty.Load() }
func (cb *ControlBlock) InDoubt() bool        { return cb.inDoubt.Load() }
func (cb *ControlBlock) RecoveryAccess() bool { return cb.recoveryAccess.Load() }

func (cb *ControlBlock) PinCount() int32 { return cb.pinCnt.Load() }

func (cb *ControlBlock) Key() page.Key { return page.MakeKey(cb.vol, cb.pageID) }

func (cb *ControlBlock) PageLSN() page.LSN { return page.LSN(cb.pageLSN.Load()) }
func (cb *ControlBlock) RecLSN() page.LSN  { return page.LSN(cb.recLSN.Load()) }

func (cb *ControlBlock) setPageLSN(l page.LSN) { cb.pageLSN.Store(uint64(l)) }
func (cb *ControlBlock) setRecLSN(l page.LSN)  { cb.recLSN.Store(uint64(l)) }

func (cb *ControlBlock) Swizzled() bool  { return cb.swizzled.Load() }
func (cb *ControlBlock) Parent() uint32  { return cb.parent.Load() }
func (cb *ControlBlock) SetParent(f uint32) { cb.parent.Store(f) }

// bumpRefCount saturates at MaxRefCount to avoid cacheline ping-pong
// under hot contention.
func (cb *ControlBlock) bumpRefCount() {
	for {
		cur := cb.refCount.Load()
		if cur >= MaxRefCount {
			return
		}
		if cb.refCount.CompareAndSwap(cur, cur+1) {
			return
		}
	}
}

func (cb *ControlBlock) decayRefCount() int32 {
	for {
		cur := cb.refCount.Load()
		if cur <= 0 {
			return 0
		}
		if cb.refCount.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// reset clears a CB back to its "on the free list" state. Caller must
// hold the frame's latch exclusively and must already have removed the
// frame from the hashtable.
func (cb *ControlBlock) reset() {
	cb.used.Store(false)
	cb.dirty.Store(false)
	cb.inDoubt.Store(false)
	cb.recoveryAccess.Store(false)
	cb.pinCnt.Store(0)
	cb.vol = 0
	cb.pageID = page.InvalidPageID
	cb.store = 0
	cb.pageTag = page.TagUnknown
	cb.recLSN.Store(0)
	cb.pageLSN.Store(0)
	cb.flushedLSN.Store(0)
	cb.refCount.Store(0)
	cb.swizzled.Store(false)
	cb.swizzledPtrCntHint.Store(0)
	cb.parent.Store(NullFrame)
	cb.depMu.Lock()
	cb.dep = nil
	cb.depMu.Unlock()
	cb.Page.Reset()
}
