package bufferpool

import (
	"context"
	"fmt"

	"github.com/gojodb/storagecore/core/storage/latch"
	"github.com/gojodb/storagecore/core/storage/page"
	"github.com/gojodb/storagecore/core/storage/storageerr"
)

// RegisterAndMark creates an in-doubt control block for (vol, pid)
// using a free frame, without triggering eviction: recovery's analysis
// pass must be able to note that a page was touched by the log
// without competing with ordinary fix traffic for a frame an eviction
// round would have to produce. Returns
// ErrOutOfBuffer if the free list is empty, since borrowing a pinned
// frame via eviction here would violate "without evicting".
func (bpm *BufferPoolManager) RegisterAndMark(vol page.VolumeID, pid page.PageID, recLSN page.LSN) (*FixHandle, error) {
	key := page.MakeKey(vol, pid)
	if frame, ok := bpm.index.Lookup(key); ok {
		cb := bpm.frames[frame]
		if !pin(cb) {
			return nil, storageerr.ErrLatchQFail
		}
		cb.Latch.AcquireExclusive()
		return &FixHandle{bpm: bpm, cb: cb, mode: latch.Exclusive}, nil
	}

	frame, ok := bpm.free.Pop()
	if !ok {
		return nil, storageerr.ErrOutOfBuffer
	}
	cb := bpm.frames[frame]

	owner, existed := bpm.index.LookupOrInsert(key, frame)
	if existed {
		bpm.free.Push(frame)
		cb2 := bpm.frames[owner]
		if !pin(cb2) {
			return nil, storageerr.ErrLatchQFail
		}
		cb2.Latch.AcquireExclusive()
		return &FixHandle{bpm: bpm, cb: cb2, mode: latch.Exclusive}, nil
	}

	cb.used.Store(true)
	cb.inDoubt.Store(true)
	cb.vol, cb.pageID = vol, pid
	cb.pinCnt.Store(1)
	cb.setRecLSN(recLSN)
	cb.Latch.AcquireExclusive()
	return &FixHandle{bpm: bpm, cb: cb, mode: latch.Exclusive}, nil
}

// LoadForRedo reads h's page image from disk and clears in_doubt,
// setting dirty: (used,in_doubt) -> (used,dirty,¬in_doubt). h must be
// held exclusively, as returned by RegisterAndMark or LookupInDoubt.
func (bpm *BufferPoolManager) LoadForRedo(ctx context.Context, h *FixHandle) error {
	cb := h.cb
	if !cb.InDoubt() {
		return fmt.Errorf("bufferpool: LoadForRedo called on a frame that is not in_doubt")
	}
	if err := bpm.vol.ReadPage(ctx, cb.vol, cb.pageID, cb.Page.Data); err != nil {
		return fmt.Errorf("%w: %v", storageerr.ErrIO, err)
	}
	cb.Page.Header = page.DecodeHeader(cb.Page.Data)
	cb.setPageLSN(cb.Page.Header.PageLSN)
	cb.inDoubt.Store(false)
	cb.dirty.Store(true)
	return nil
}

// LookupInDoubt finds an in-doubt entry by (vol, pid), latching it
// exclusively if found.
func (bpm *BufferPoolManager) LookupInDoubt(vol page.VolumeID, pid page.PageID) (*FixHandle, bool) {
	frame, ok := bpm.index.Lookup(page.MakeKey(vol, pid))
	if !ok {
		return nil, false
	}
	cb := bpm.frames[frame]
	if !cb.InDoubt() {
		return nil, false
	}
	if !pin(cb) {
		return nil, false
	}
	cb.Latch.AcquireExclusive()
	if !cb.InDoubt() {
		cb.Latch.ReleaseExclusive()
		bpm.unpin(cb)
		return nil, false
	}
	return &FixHandle{bpm: bpm, cb: cb, mode: latch.Exclusive}, true
}

// SetInDoubt and ClearInDoubt are the raw flag transitions exposed
// alongside the higher-level register/load pair, for a recovery
// driver that manages the CB's physical image itself.
func (bpm *BufferPoolManager) SetInDoubt(h *FixHandle)   { h.cb.inDoubt.Store(true) }
func (bpm *BufferPoolManager) ClearInDoubt(h *FixHandle) { h.cb.inDoubt.Store(false) }

// RefreshPageLSN re-decodes h's page header and updates the CB's
// cached page-LSN, for a caller (SPR, recovery's redo pass) that wrote
// a new image into h.Page().Data directly rather than through a
// method that keeps the two in sync.
func (bpm *BufferPoolManager) RefreshPageLSN(h *FixHandle) {
	cb := h.cb
	cb.Page.Header = page.DecodeHeader(cb.Page.Data)
	cb.setPageLSN(cb.Page.Header.PageLSN)
}

// InDoubtToDirty performs the same transition as LoadForRedo without
// re-reading the page, for a caller that has already populated the
// image by some other means (e.g. SPR installing a recovered image
// directly).
func (bpm *BufferPoolManager) InDoubtToDirty(h *FixHandle) {
	h.cb.inDoubt.Store(false)
	h.cb.dirty.Store(true)
}

// GetRecLSN returns the rec_lsn of every used frame whose rec_lsn
// falls in [lo, hi], the dirty-page-table-style scan recovery's
// analysis pass uses to find how far back redo must start.
func (bpm *BufferPoolManager) GetRecLSN(lo, hi page.LSN) []page.LSN {
	var out []page.LSN
	for i := uint32(1); i <= bpm.n; i++ {
		cb := bpm.frames[i]
		if !cb.Used() {
			continue
		}
		lsn := cb.RecLSN()
		if lsn >= lo && lsn <= hi {
			out = append(out, lsn)
		}
	}
	return out
}
