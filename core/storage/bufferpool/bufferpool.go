// Package bufferpool implements a fixed-size frame cache: fix/unfix
// with latch-coupled hierarchical traversal, pointer swizzling of
// child references, clock-sweep eviction, and per-page dirty/in-doubt
// state for recovery. The fix/unpin/flush lifecycle and WAL-synced
// writeback generalize from an LRU list to a hash-indexed,
// latch-coupled, swizzling design with clock-sweep eviction and
// pin-count CAS for safe concurrent access.
package bufferpool

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/gojodb/storagecore/core/storage/engine"
	"github.com/gojodb/storagecore/core/storage/latch"
	"github.com/gojodb/storagecore/core/storage/page"
	"github.com/gojodb/storagecore/core/storage/storageerr"
	"github.com/gojodb/storagecore/core/transaction"
)

// Config bundles everything NewBufferPoolManager needs: pool sizing
// and the external collaborators it fixes pages through.
type Config struct {
	NumFrames uint32
	PageSize  int

	Volume engine.Volume
	Log    engine.LogManager
	Backup engine.BackupManager
	Codec  engine.PageCodec
	Clock  transaction.Clock

	// Recover performs single-page recovery on a page whose checksum
	// failed to validate. corrupted is always true for
	// calls made from the buffer pool's read path. Leave nil to treat
	// every checksum failure as fatal.
	Recover RecoverFunc

	Logger *zap.Logger
	Meter  metric.Meter

	// SwizzlingEnabled toggles pointer swizzling as a runtime switch.
	SwizzlingEnabled bool
}

// RecoverFunc performs single-page recovery on a page image, returning
// the repaired image. expectedEMLSN bounds how far replay must reach;
// corrupted tells the implementation whether it must first
// fetch a known-good starting image from the backup manager rather
// than repairing the image passed in. The concrete implementation
// lives in core/storage/recovery to avoid an import cycle (recovery
// itself drives fixes through this same buffer pool during the
// analysis/redo pass).
type RecoverFunc func(ctx context.Context, vol page.VolumeID, pid page.PageID, corrupted bool, image []byte, expectedEMLSN page.LSN) ([]byte, error)

// volumeDescriptor is the per-volume table backing volume
// mount/unmount: one pre-pinned root frame per store, so fixing the
// root is O(1) and swizzling can begin at the root.
type volumeDescriptor struct {
	mu    sync.RWMutex
	roots map[page.StoreID]uint32
}

// BufferPoolManager is the fixed-size frame cache keyed by
// (volume, page-id). Zero value is not usable; construct with
// NewBufferPoolManager.
type BufferPoolManager struct {
	n      uint32
	frames []*ControlBlock // index 0 unused (NullFrame sentinel)
	index  *hashIndex
	free   *freeList

	volMu   sync.RWMutex
	volumes map[page.VolumeID]*volumeDescriptor

	vol    engine.Volume
	log    engine.LogManager
	backup engine.BackupManager
	codec  engine.PageCodec
	clock  transaction.Clock
	recover RecoverFunc

	pageSize int

	swizzling bool

	evictMu sync.Mutex // single global eviction mutex

	metrics *poolMetrics
	logger  *zap.Logger

	cleanerWake chan struct{}
	cleanerStop chan struct{}
	cleanerDone chan struct{}
}

// NewBufferPoolManager builds a pool of cfg.NumFrames frames, all
// initially on the free list, and starts the background cleaner.
func NewBufferPoolManager(cfg Config) *BufferPoolManager {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = page.DefaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	frames := make([]*ControlBlock, cfg.NumFrames+1)
	for i := uint32(1); i <= cfg.NumFrames; i++ {
		frames[i] = newControlBlock(i, pageSize)
	}

	bpm := &BufferPoolManager{
		n:           cfg.NumFrames,
		frames:      frames,
		index:       newHashIndex(int(cfg.NumFrames)),
		free:        newFreeList(cfg.NumFrames),
		volumes:     make(map[page.VolumeID]*volumeDescriptor),
		vol:         cfg.Volume,
		log:         cfg.Log,
		backup:      cfg.Backup,
		codec:       cfg.Codec,
		clock:       cfg.Clock,
		recover:     cfg.Recover,
		pageSize:    pageSize,
		swizzling:   cfg.SwizzlingEnabled,
		metrics:     newPoolMetrics(cfg.Meter),
		logger:      logger,
		cleanerWake: make(chan struct{}, 1),
		cleanerStop: make(chan struct{}),
		cleanerDone: make(chan struct{}),
	}
	go bpm.cleanerLoop()
	return bpm
}

// SetRecover installs the pool's single-page recovery callback after
// construction. The recovery driver needs a live *BufferPoolManager to
// fix sibling pages during multi-page redo, so it is built from an
// already-constructed pool and wired back in here rather than passed
// through Config.
func (bpm *BufferPoolManager) SetRecover(fn RecoverFunc) {
	bpm.recover = fn
}

// Close stops the background cleaner. It does not flush; callers that
// need a clean shutdown should call ForceAll first.
func (bpm *BufferPoolManager) Close() {
	close(bpm.cleanerStop)
	<-bpm.cleanerDone
}

// SwizzlingEnabled reports whether pointer swizzling is currently on.
func (bpm *BufferPoolManager) SwizzlingEnabled() bool { return bpm.swizzling }

// SetSwizzlingEnabled flips the runtime switch.
func (bpm *BufferPoolManager) SetSwizzlingEnabled(v bool) { bpm.swizzling = v }

// FreeFrames returns the current free-list length, for tests asserting
// scenario 1's "free-list length = 64" postcondition.
func (bpm *BufferPoolManager) FreeFrames() int32 { return bpm.free.Len() }

// FrameCount returns the number of frames the pool was built with.
func (bpm *BufferPoolManager) FrameCount() uint32 { return bpm.n }

// --- Fix handles -----------------------------------------------------

// FixHandle is a scoped fix: a held latch on a frame's control block,
// matched by exactly one Unfix before it goes out of scope.
type FixHandle struct {
	bpm      *BufferPoolManager
	cb       *ControlBlock
	mode     latch.Mode
	refixPin bool
}

// CB exposes the underlying control block to collaborating packages
// (recovery, eviction) that need to read CB-level state while a fix is
// held.
func (h *FixHandle) CB() *ControlBlock { return h.cb }

// Frame returns the frame index this fix holds.
func (h *FixHandle) Frame() uint32 { return h.cb.FrameIndex() }

// Page returns the page image this fix protects.
func (h *FixHandle) Page() *page.Page { return h.cb.Page }

// Mode returns the latch mode currently held.
func (h *FixHandle) Mode() latch.Mode { return h.mode }

// Unfix releases the latch and decrements the pin count. dirty, if
// true, is equivalent to calling SetDirty before unfixing. A handle
// returned by RefixDirect releases only its latch: the pin it runs on
// belongs to PinForRefix and is released by UnpinForRefix.
func (h *FixHandle) Unfix(dirty bool) {
	if dirty {
		h.bpm.SetDirty(h)
	}
	switch h.mode {
	case latch.Exclusive:
		h.cb.Latch.ReleaseExclusive()
	case latch.Shared:
		h.cb.Latch.ReleaseShared()
	}
	if !h.refixPin {
		h.bpm.unpin(h.cb)
	}
}

// --- pin / unpin -------------------------------------------------------

// pin attempts to add one to cb's pin count, failing only if the frame
// is mid-eviction (pin_cnt == -1). Returns false in that case; the
// caller must treat the frame as absent and retry the lookup.
func pin(cb *ControlBlock) bool {
	for {
		cur := cb.pinCnt.Load()
		if cur < 0 {
			return false
		}
		if cb.pinCnt.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (bpm *BufferPoolManager) unpin(cb *ControlBlock) {
	n := cb.pinCnt.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("bufferpool: frame %d unpinned with no outstanding pin", cb.FrameIndex()))
	}
	cb.bumpRefCount()
}

func (bpm *BufferPoolManager) latch(ctx context.Context, cb *ControlBlock, mode latch.Mode, conditional bool) error {
	switch mode {
	case latch.Exclusive:
		if conditional {
			if !cb.Latch.TryAcquireExclusive() {
				return storageerr.ErrWouldBlock
			}
			return nil
		}
		cb.Latch.AcquireExclusive()
		return nil
	case latch.Shared:
		if conditional {
			if !cb.Latch.TryAcquireShared() {
				return storageerr.ErrWouldBlock
			}
			return nil
		}
		cb.Latch.AcquireShared()
		return nil
	default:
		return nil
	}
}

// --- fix_direct, fix_nonroot, fix_root, fix_virgin_root ---------------

// FixDirect fixes a page with no parent latch available. It rejects any
// shpid whose swizzle bit is set, since without a parent latch a
// swizzled pointer cannot be safely resolved.
func (bpm *BufferPoolManager) FixDirect(ctx context.Context, vol page.VolumeID, shpid page.ChildPointer, mode latch.Mode, conditional bool) (*FixHandle, error) {
	if shpid.IsSwizzled() {
		return nil, storageerr.ErrDirectFixSwizzled
	}
	return bpm.fixByDiskID(ctx, vol, shpid.DiskPageID(), 0, -1, mode, conditional, false, page.StoreID(0), page.TagUnknown)
}

// FixNonRoot is the primary fix path. parent must already be latched
// (any mode). If swizzling is enabled, the parent pointer is not
// already swizzled, and the loaded page qualifies (not root, not
// virgin), the parent's slot is atomically rewritten to a swizzled
// pointer before returning.
func (bpm *BufferPoolManager) FixNonRoot(ctx context.Context, parent *FixHandle, slotOffset int, vol page.VolumeID, shpid page.ChildPointer, mode latch.Mode, conditional bool, virgin bool) (*FixHandle, error) {
	if shpid.IsSwizzled() {
		frame := shpid.FrameIndex()
		cb := bpm.frames[frame]
		if !pin(cb) {
			return nil, storageerr.ErrLatchQFail
		}
		if err := bpm.latch(ctx, cb, mode, conditional); err != nil {
			bpm.unpin(cb)
			return nil, err
		}
		cb.SetParent(parent.Frame())
		bpm.metrics.hit()
		return &FixHandle{bpm: bpm, cb: cb, mode: mode}, nil
	}

	h, err := bpm.fixByDiskID(ctx, vol, shpid.DiskPageID(), parent.Frame(), slotOffset, mode, conditional, virgin, page.StoreID(0), page.TagUnknown)
	if err != nil {
		return nil, err
	}
	if bpm.swizzling && slotOffset >= 0 && !virgin {
		bpm.swizzleChild(parent, slotOffset, h)
	}
	return h, nil
}

// FixRoot locates the per-store pre-pinned root frame and latches it.
func (bpm *BufferPoolManager) FixRoot(ctx context.Context, vol page.VolumeID, store page.StoreID, mode latch.Mode, conditional bool) (*FixHandle, error) {
	bpm.volMu.RLock()
	vd, ok := bpm.volumes[vol]
	bpm.volMu.RUnlock()
	if !ok {
		return nil, storageerr.ErrVolumeNotMounted
	}
	vd.mu.RLock()
	frame, ok := vd.roots[store]
	vd.mu.RUnlock()
	if !ok {
		return nil, storageerr.ErrPageNotFound
	}
	cb := bpm.frames[frame]
	if !pin(cb) {
		return nil, storageerr.ErrOutOfBuffer
	}
	if err := bpm.latch(ctx, cb, mode, conditional); err != nil {
		bpm.unpin(cb)
		return nil, err
	}
	return &FixHandle{bpm: bpm, cb: cb, mode: mode}, nil
}

// FixVirginRoot allocates and installs a brand-new, empty root page
// under an exclusive latch.
func (bpm *BufferPoolManager) FixVirginRoot(ctx context.Context, vol page.VolumeID, store page.StoreID) (*FixHandle, error) {
	pid, err := bpm.vol.AllocPage(ctx, vol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storageerr.ErrIO, err)
	}
	h, err := bpm.fixByDiskID(ctx, vol, pid, 0, -1, latch.Exclusive, false, true, store, page.TagLeaf)
	if err != nil {
		return nil, err
	}
	bpm.volMu.RLock()
	vd, ok := bpm.volumes[vol]
	bpm.volMu.RUnlock()
	if ok {
		vd.mu.Lock()
		vd.roots[store] = h.Frame()
		vd.mu.Unlock()
	}
	return h, nil
}

// fixByDiskID is the shared miss/hit path underlying FixDirect,
// FixNonRoot, and FixVirginRoot once the shpid has been resolved to a
// disk page-id (or a virgin allocation).
func (bpm *BufferPoolManager) fixByDiskID(ctx context.Context, vol page.VolumeID, pid page.PageID, parentFrame uint32, parentSlot int, mode latch.Mode, conditional, virgin bool, store page.StoreID, tag page.PageTag) (*FixHandle, error) {
	key := page.MakeKey(vol, pid)

	for {
		if frame, ok := bpm.index.Lookup(key); ok {
			cb := bpm.frames[frame]
			if !pin(cb) {
				continue // lost the race to an evictor; retry lookup
			}
			if err := bpm.latch(ctx, cb, mode, conditional); err != nil {
				bpm.unpin(cb)
				return nil, err
			}
			if cb.Parent() == NullFrame && parentFrame != NullFrame {
				cb.SetParent(parentFrame)
			}
			bpm.metrics.hit()
			return &FixHandle{bpm: bpm, cb: cb, mode: mode}, nil
		}

		bpm.metrics.miss()
		cb, err := bpm.acquireFreeFrame(ctx)
		if err != nil {
			return nil, err
		}

		owner, existed := bpm.index.LookupOrInsert(key, cb.FrameIndex())
		if existed {
			// Someone else installed it first; give our frame back and
			// retry against the winner.
			bpm.free.Push(cb.FrameIndex())
			cb2 := bpm.frames[owner]
			if !pin(cb2) {
				continue
			}
			if err := bpm.latch(ctx, cb2, mode, conditional); err != nil {
				bpm.unpin(cb2)
				return nil, err
			}
			bpm.metrics.hit()
			return &FixHandle{bpm: bpm, cb: cb2, mode: mode}, nil
		}

		cb.used.Store(true)
		cb.vol, cb.pageID, cb.store, cb.pageTag = vol, pid, store, tag
		cb.SetParent(parentFrame)
		cb.pinCnt.Store(1)

		if !virgin {
			if err := bpm.vol.ReadPage(ctx, vol, pid, cb.Page.Data); err != nil {
				bpm.index.Remove(key)
				cb.reset()
				bpm.free.Push(cb.FrameIndex())
				return nil, fmt.Errorf("%w: %v", storageerr.ErrIO, err)
			}
			cb.Page.Header = page.DecodeHeader(cb.Page.Data)
			cb.setPageLSN(cb.Page.Header.PageLSN)
			if bpm.codec != nil && !bpm.codec.VerifyChecksum(cb.Page.Data) {
				if rerr := bpm.repairCorruptPage(ctx, cb, vol, pid, parentFrame, parentSlot); rerr != nil {
					bpm.index.Remove(key)
					cb.reset()
					bpm.free.Push(cb.FrameIndex())
					return nil, rerr
				}
			}
		} else {
			cb.Page.Header = page.Header{Vol: vol, PageID: pid, Store: store, Tag: tag}
			cb.Page.Header.EncodeHeader(cb.Page.Data)
		}

		cb.Latch.AcquireExclusive()
		if mode != latch.Exclusive {
			cb.Latch.DowngradeExclusiveToShared()
		}
		return &FixHandle{bpm: bpm, cb: cb, mode: mode}, nil
	}
}

// acquireFreeFrame pops a free frame, triggering an eviction round if
// the free list is empty.
func (bpm *BufferPoolManager) acquireFreeFrame(ctx context.Context) (*ControlBlock, error) {
	if frame, ok := bpm.free.Pop(); ok {
		return bpm.frames[frame], nil
	}
	if _, _, err := bpm.EvictBlocks(UrgencyNormal, defaultEvictBatch(bpm.n)); err != nil {
		return nil, err
	}
	if frame, ok := bpm.free.Pop(); ok {
		return bpm.frames[frame], nil
	}
	return nil, storageerr.ErrOutOfBuffer
}

// repairCorruptPage drives SPR for a page whose checksum failed to
// verify on read. The expected EMLSN comes from the parent's child
// slot when one is known; root pages (no parent) fall back to the
// log's current durable LSN as a best-effort replay target, since no
// parent exists to have recorded a tighter bound.
func (bpm *BufferPoolManager) repairCorruptPage(ctx context.Context, cb *ControlBlock, vol page.VolumeID, pid page.PageID, parentFrame uint32, parentSlot int) error {
	bpm.logger.Warn("corrupt page detected, attempting single-page recovery",
		zap.Uint32("vol", uint32(vol)), zap.Uint32("page", uint32(pid)))

	if bpm.recover == nil {
		return fmt.Errorf("%w: no recovery collaborator configured", storageerr.ErrCorruptPage)
	}

	var expectedEMLSN page.LSN
	if parentFrame != NullFrame && parentSlot >= 0 && bpm.codec != nil {
		parentCB := bpm.frames[parentFrame]
		expectedEMLSN = bpm.codec.ReadEMLSN(parentCB.Page.Data, parentSlot)
	} else if bpm.log != nil {
		expectedEMLSN = bpm.log.DurableLSN()
	}

	repaired, err := bpm.recover(ctx, vol, pid, true, cb.Page.Data, expectedEMLSN)
	if err != nil {
		return fmt.Errorf("%w: %v", storageerr.ErrCorruptPage, err)
	}
	copy(cb.Page.Data, repaired)
	cb.Page.Header = page.DecodeHeader(cb.Page.Data)
	cb.setPageLSN(cb.Page.Header.PageLSN)
	return nil
}

// --- refix family ------------------------------------------------------

// PinForRefix takes an extra pin on h's frame that survives Unfix; it
// must later be matched by UnpinForRefix.
func (h *FixHandle) PinForRefix() {
	h.cb.pinCnt.Add(1)
}

// UnpinForRefix releases a pin previously taken by PinForRefix.
func (bpm *BufferPoolManager) UnpinForRefix(frame uint32) {
	bpm.unpin(bpm.frames[frame])
}

// RefixDirect re-fixes a frame previously pinned via PinForRefix.
// It takes no pin of its own: the caller must already hold the extra
// pin from PinForRefix, which the returned handle's Unfix leaves in
// place for UnpinForRefix.
func (bpm *BufferPoolManager) RefixDirect(ctx context.Context, frame uint32, mode latch.Mode) (*FixHandle, error) {
	cb := bpm.frames[frame]
	if err := bpm.latch(ctx, cb, mode, false); err != nil {
		return nil, err
	}
	return &FixHandle{bpm: bpm, cb: cb, mode: mode, refixPin: true}, nil
}

// FixUnsafelyNonRoot fixes a swizzled pointer optimistically in Q mode.
// The caller receives a ticket and must call Validate before trusting
// anything read from the page.
func (bpm *BufferPoolManager) FixUnsafelyNonRoot(shpid page.ChildPointer) (*FixHandle, latch.Ticket, error) {
	if !shpid.IsSwizzled() {
		return nil, latch.Ticket{}, storageerr.ErrLatchQFail
	}
	cb := bpm.frames[shpid.FrameIndex()]
	if !pin(cb) {
		return nil, latch.Ticket{}, storageerr.ErrLatchQFail
	}
	ticket := cb.Latch.AcquireQ()
	return &FixHandle{bpm: bpm, cb: cb, mode: latch.None}, ticket, nil
}

// Validate re-checks a Q ticket obtained via FixUnsafelyNonRoot.
func (h *FixHandle) Validate(t latch.Ticket) bool {
	return h.cb.Latch.Validate(t)
}

// --- dirty tracking and rec-LSN ---------------------------------------

// SetDirty marks h's page dirty; the first dirtying also establishes
// rec_lsn to the current log position if not yet set.
func (bpm *BufferPoolManager) SetDirty(h *FixHandle) {
	cb := h.cb
	if cb.dirty.CompareAndSwap(false, true) {
		lsn := page.InvalidLSN
		if bpm.clock != nil {
			lsn = bpm.clock.CurrentLSN()
		}
		cb.setRecLSN(lsn)
	}
}

// RepairRecLSN bounds rec_lsn <= page_lsn after an unlogged update.
func (bpm *BufferPoolManager) RepairRecLSN(h *FixHandle) {
	cb := h.cb
	if cb.RecLSN() > cb.PageLSN() {
		cb.setRecLSN(cb.PageLSN())
	}
}

// UpdateInitialDirtyLSN lowers rec_lsn toward lsn when lsn predates the
// currently recorded value (used by recovery to reflect the earliest
// dirty point across a crash).
func (bpm *BufferPoolManager) UpdateInitialDirtyLSN(h *FixHandle, lsn page.LSN) {
	cb := h.cb
	for {
		cur := cb.RecLSN()
		if cur != page.InvalidLSN && cur <= lsn {
			return
		}
		cb.setRecLSN(lsn)
		if cb.RecLSN() == lsn {
			return
		}
	}
}

// --- write-order dependencies ------------------------------------------

// RegisterWriteOrderDependency records that h's page must not be
// flushed before dep's page. Both must already be latched by the
// caller. Rejects a registration that would overwrite a still-live
// dependency, or that would close a cycle.
func (bpm *BufferPoolManager) RegisterWriteOrderDependency(h, dep *FixHandle) error {
	if bpm.wouldCycle(h.cb, dep.cb) {
		return storageerr.ErrWODCycle
	}
	h.cb.depMu.Lock()
	defer h.cb.depMu.Unlock()
	if h.cb.dep != nil && h.cb.dep.frame != dep.Frame() {
		return fmt.Errorf("%w: frame %d already has a live dependency on frame %d", storageerr.ErrWODCycle, h.Frame(), h.cb.dep.frame)
	}
	h.cb.dep = &dependency{frame: dep.Frame(), pageID: dep.cb.pageID, pageLSN: dep.cb.PageLSN()}
	return nil
}

// wouldCycle walks the single-outgoing-edge dependency chain starting
// at target looking for from; notes a single edge per frame
// makes this linear in pool size.
func (bpm *BufferPoolManager) wouldCycle(from, target *ControlBlock) bool {
	seen := make(map[uint32]bool)
	cur := target
	for {
		cur.depMu.Lock()
		dep := cur.dep
		cur.depMu.Unlock()
		if dep == nil {
			return false
		}
		if dep.frame == from.FrameIndex() {
			return true
		}
		if seen[dep.frame] {
			return false
		}
		seen[dep.frame] = true
		cur = bpm.frames[dep.frame]
	}
}

// dependencySatisfied reports whether cb may be written back, dropping
// cb's outgoing WOD edge once the dependency's on-disk LSN has caught
// up to the page-LSN recorded at registration time. Called by the
// cleaner before flushing cb and by eviction (rule 6).
func (cb *ControlBlock) dependencySatisfied(onDiskLSN func(frame uint32) page.LSN) bool {
	cb.depMu.Lock()
	defer cb.depMu.Unlock()
	if cb.dep == nil {
		return true
	}
	if onDiskLSN(cb.dep.frame) >= cb.dep.pageLSN {
		cb.dep = nil
		return true
	}
	return false
}

// --- volume mount / unmount --------------------------------------------

// MountVolume allocates a volume descriptor and pre-fixes every named
// store's root page. Stores that do not yet exist on disk are created
// as virgin roots.
func (bpm *BufferPoolManager) MountVolume(ctx context.Context, vol page.VolumeID, stores []page.StoreID, rootPageIDs map[page.StoreID]page.PageID) error {
	vd := &volumeDescriptor{roots: make(map[page.StoreID]uint32)}
	bpm.volMu.Lock()
	bpm.volumes[vol] = vd
	bpm.volMu.Unlock()

	for _, store := range stores {
		rootPID, ok := rootPageIDs[store]
		var h *FixHandle
		var err error
		if ok && rootPID != page.InvalidPageID {
			h, err = bpm.fixByDiskID(ctx, vol, rootPID, 0, -1, latch.Shared, false, false, store, page.TagUnknown)
		} else {
			h, err = bpm.FixVirginRoot(ctx, vol, store)
		}
		if err != nil {
			bpm.volMu.Lock()
			delete(bpm.volumes, vol)
			bpm.volMu.Unlock()
			return err
		}
		vd.mu.Lock()
		vd.roots[store] = h.Frame()
		vd.mu.Unlock()
		h.Unfix(false)
	}
	return nil
}

// UnmountVolume flushes dirty pages for vol and clears its descriptor.
func (bpm *BufferPoolManager) UnmountVolume(ctx context.Context, vol page.VolumeID) error {
	if err := bpm.ForceVolume(ctx, vol); err != nil {
		return err
	}
	bpm.volMu.Lock()
	delete(bpm.volumes, vol)
	bpm.volMu.Unlock()
	return nil
}

// --- page deletion -------------------------------------------------------

// deleteBlock removes a frame's hashtable entry and returns it to the
// free list. Preconditions: used && dirty, pin_cnt==0, not swizzled,
// no concurrent latch holder (caller must hold EX).
func (bpm *BufferPoolManager) deleteBlock(cb *ControlBlock) error {
	if !cb.Used() || !cb.Dirty() {
		return fmt.Errorf("storageerr: _delete_block requires used&&dirty frame %d", cb.FrameIndex())
	}
	if cb.PinCount() != 0 {
		return storageerr.ErrPagePinned
	}
	if cb.Swizzled() {
		return fmt.Errorf("storageerr: _delete_block refuses swizzled frame %d", cb.FrameIndex())
	}
	bpm.index.Remove(cb.Key())
	cb.reset()
	bpm.free.Push(cb.FrameIndex())
	return nil
}
