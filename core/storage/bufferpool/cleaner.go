package bufferpool

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gojodb/storagecore/core/storage/page"
)

// cleanerInterval is how often the background Cleaner wakes on its own
// even without an explicit WakeupCleaners call.
const cleanerInterval = 100 * time.Millisecond

// cleanerLoop drains dirty frames subject to WOD, oldest-rec-LSN-first,
// using a ticker plus a wake channel, with a final drain on shutdown.
func (bpm *BufferPoolManager) cleanerLoop() {
	defer close(bpm.cleanerDone)
	ticker := time.NewTicker(cleanerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-bpm.cleanerStop:
			_ = bpm.ForceAll(context.Background())
			return
		case <-ticker.C:
			bpm.cleanPass(context.Background())
		case <-bpm.cleanerWake:
			bpm.cleanPass(context.Background())
		}
	}
}

// WakeupCleaners nudges the background cleaner to run a pass now
// instead of waiting for the next tick.
func (bpm *BufferPoolManager) WakeupCleaners() {
	select {
	case bpm.cleanerWake <- struct{}{}:
	default:
	}
}

// cleanPass flushes every currently-unpinned dirty frame whose WOD edge
// (if any) has cleared, oldest rec_lsn first.
func (bpm *BufferPoolManager) cleanPass(ctx context.Context) {
	candidates := bpm.collectDirty(func(cb *ControlBlock) bool { return true })
	for _, cb := range candidates {
		bpm.flushIfClean(cb)
	}
}

// collectDirty returns every dirty, used frame passing filter, ordered
// by ascending rec_lsn.
func (bpm *BufferPoolManager) collectDirty(filter func(*ControlBlock) bool) []*ControlBlock {
	var out []*ControlBlock
	for frame := uint32(1); frame <= bpm.n; frame++ {
		cb := bpm.frames[frame]
		if cb.Used() && cb.Dirty() && filter(cb) {
			out = append(out, cb)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].RecLSN() > out[j].RecLSN(); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// flushIfClean attempts to latch cb SH and write it back if its WOD
// edge has cleared; skips silently otherwise (a pinned or latched
// frame is simply tried again on the next pass).
func (bpm *BufferPoolManager) flushIfClean(cb *ControlBlock) {
	if !cb.dependencySatisfied(func(frame uint32) page.LSN {
		return page.LSN(bpm.frames[frame].flushedLSN.Load())
	}) {
		return
	}
	if !cb.Latch.TryAcquireShared() {
		return
	}
	defer cb.Latch.ReleaseShared()
	if !cb.Dirty() {
		return
	}
	if err := bpm.flushFrameLocked(cb); err != nil {
		bpm.logger.Error("failed to flush frame", zap.Uint32("frame", cb.FrameIndex()), zap.Error(err))
	}
}

// flushFrameLocked writes cb's page to the volume and clears dirty.
// WAL-sync-before-page-write ordering is kept: the log must be durable
// up to the page's LSN before the page image itself is allowed to hit
// disk, or a crash between the two could leave an on-disk page whose
// LSN the log cannot redo past.
func (bpm *BufferPoolManager) flushFrameLocked(cb *ControlBlock) error {
	if bpm.log != nil {
		for bpm.log.DurableLSN() < cb.PageLSN() {
			if err := bpm.log.Publish(context.Background(), cb.PageLSN()); err != nil {
				break
			}
		}
	}

	cb.Page.Header.PageLSN = cb.PageLSN()
	cb.Page.Header.EncodeHeader(cb.Page.Data)
	if bpm.codec != nil {
		bpm.codec.StampChecksum(cb.Page.Data)
	}

	if err := bpm.vol.WritePage(context.Background(), cb.vol, cb.pageID, cb.Page.Data); err != nil {
		return err
	}
	cb.flushedLSN.Store(uint64(cb.PageLSN()))
	cb.dirty.Store(false)
	return nil
}

// ForceAll flushes every dirty frame in the pool, blocking until done.
func (bpm *BufferPoolManager) ForceAll(ctx context.Context) error {
	for _, cb := range bpm.collectDirty(func(*ControlBlock) bool { return true }) {
		if err := bpm.forceOne(cb); err != nil {
			return err
		}
	}
	return nil
}

// ForceVolume flushes every dirty frame belonging to vol.
func (bpm *BufferPoolManager) ForceVolume(ctx context.Context, vol page.VolumeID) error {
	for _, cb := range bpm.collectDirty(func(cb *ControlBlock) bool { return cb.vol == vol }) {
		if err := bpm.forceOne(cb); err != nil {
			return err
		}
	}
	return nil
}

// ForceUntilLSN flushes every dirty frame whose rec_lsn is <= lsn, the
// usual checkpoint-time call.
func (bpm *BufferPoolManager) ForceUntilLSN(ctx context.Context, lsn page.LSN) error {
	for _, cb := range bpm.collectDirty(func(cb *ControlBlock) bool { return cb.RecLSN() <= lsn }) {
		if err := bpm.forceOne(cb); err != nil {
			return err
		}
	}
	return nil
}

func (bpm *BufferPoolManager) forceOne(cb *ControlBlock) error {
	cb.Latch.AcquireExclusive()
	defer cb.Latch.ReleaseExclusive()
	if !cb.Dirty() {
		return nil
	}
	return bpm.flushFrameLocked(cb)
}
