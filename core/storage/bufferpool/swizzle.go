package bufferpool

import (
	"encoding/binary"

	"github.com/gojodb/storagecore/core/storage/page"
)

// SlotFoster (-1, foster/sibling slot) and SlotNotFound (-2, no match)
// are the sentinel slot codes. There is no separate leftmost code:
// findPageIDSlot reports a match as its byte offset (>=0).
const (
	SlotFoster   = -1
	SlotNotFound = -2
)

// swizzleChild atomically rewrites parent's child-pointer slot at
// slotOffset from a disk page-id to a swizzled frame-index, and marks
// child's control block swizzled. A 32-bit aligned store is assumed
// atomic on every platform Go targets here, so no latch upgrade on the
// parent is required.
func (bpm *BufferPoolManager) swizzleChild(parent *FixHandle, slotOffset int, child *FixHandle) {
	if child.cb.pageTag == page.TagHeader {
		return // never swizzle a root/store-header reference in place
	}
	raw := page.FromFrameIndex(child.Frame())
	data := parent.Page().Data
	binary.LittleEndian.PutUint32(data[slotOffset:slotOffset+4], raw.Raw())

	child.cb.swizzled.Store(true)
	child.cb.SetParent(parent.Frame())
	parent.cb.swizzledPtrCntHint.Add(1)
	bpm.metrics.swizzled()
}

// unswizzleChild reverses swizzleChild under the parent's EX latch: the
// slot is rewritten back to the disk page-id and the child's swizzled
// flag cleared. Caller must already know no one holds the child's
// latch and that it is unpinned (eviction enforces this before calling
// in; see eviction.go).
func unswizzleChild(parentData []byte, slotOffset int, child *ControlBlock) {
	binary.LittleEndian.PutUint32(parentData[slotOffset:slotOffset+4], page.FromDiskID(child.pageID).Raw())
	child.swizzled.Store(false)
}

// normalizeShpid returns the disk page-id referenced by raw: if the
// high bit is set, it resolves the frame's control block to recover
// the original disk id; otherwise raw already is the disk id. The
// caller must hold some latch that prevents the referenced frame from
// being evicted concurrently.
func (bpm *BufferPoolManager) normalizeShpid(raw page.ChildPointer) page.PageID {
	if !raw.IsSwizzled() {
		return raw.DiskPageID()
	}
	cb := bpm.frames[raw.FrameIndex()]
	return cb.pageID
}

// isSwizzled reports whether raw currently carries a swizzled frame
// reference.
func isSwizzled(raw page.ChildPointer) bool { return raw.IsSwizzled() }

// findPageIDSlot scans parent for a child slot referencing targetPID,
// resolving swizzled slots through their control block before
// comparing. Returns the matching slot's byte offset (>=0) or
// SlotNotFound; foster/sibling pointers are not searched, so it never
// returns SlotFoster.
// slots is the set of candidate child-pointer byte offsets in parent's
// page data, as produced by the page codec's ChildSlots.
func (bpm *BufferPoolManager) findPageIDSlot(parentData []byte, slots []int, targetPID page.PageID) int {
	for _, off := range slots {
		raw := page.ChildPointer(binary.LittleEndian.Uint32(parentData[off : off+4]))
		var pid page.PageID
		if raw.IsSwizzled() {
			frame := raw.FrameIndex()
			if frame == 0 || frame > bpm.n {
				continue
			}
			pid = bpm.frames[frame].pageID
		} else {
			pid = raw.DiskPageID()
		}
		if pid == targetPID {
			return off
		}
	}
	return SlotNotFound
}
