// Package page defines the fixed-size database page and the identifiers
// (LSN, PageID, VolumeID) that address it, plus the swizzled/unswizzled
// child pointer encoding shared by the buffer pool and the B-tree layer.
package page

import (
	"encoding/binary"
	"sync"
)

// DefaultPageSize is a typical 8 KiB page.
const DefaultPageSize = 8192

// LSN is a Log Sequence Number: one past a record's byte offset in the
// write-ahead log, so it increases monotonically and no record carries
// InvalidLSN.
type LSN uint64

// InvalidLSN marks "no log record has touched this page yet".
const InvalidLSN LSN = 0

// PageID identifies a page within a single volume. PageID 0 is reserved
// for the volume header.
type PageID uint32

// InvalidPageID is the disk-id sentinel for "no page".
const InvalidPageID PageID = 0

// VolumeID identifies a mounted volume (a single backing file).
type VolumeID uint32

// StoreID identifies one B-tree/index root within a volume.
type StoreID uint32

// PageTag identifies the kind of a page (leaf, inner, header, ...). The
// page codec interprets it; the buffer pool only stores and compares it.
type PageTag uint8

const (
	TagUnknown PageTag = iota
	TagHeader
	TagInner
	TagLeaf
	TagOverflow
)

// Key is the 64-bit hash-index lookup key: (volume-id << 32) | page-id.
type Key uint64

// MakeKey packs a (volume, page-id) pair into a Hash Index key.
func MakeKey(vol VolumeID, pid PageID) Key {
	return Key(uint64(vol)<<32 | uint64(pid))
}

func (k Key) Split() (VolumeID, PageID) {
	return VolumeID(k >> 32), PageID(uint32(k))
}

// Page is the fixed-size in-memory image of one on-disk page, plus the
// small header fields the buffer pool and recovery need without parsing
// the page body. The body itself is opaque to everything except the page
// codec (§6 collaborator).
type Page struct {
	mu sync.RWMutex // protects Header and Data together (physical latch is separate, see latch.Latch)

	Header Header
	Data   []byte
}

// Header is the fixed portion of a page's content, serialized as the
// first bytes of Data by the volume layer when a page is written, and
// parsed back out when it is read. It is distinct from the ControlBlock,
// which is buffer-pool-only, in-memory metadata that never touches disk.
type Header struct {
	Vol     VolumeID
	PageID  PageID
	Store   StoreID
	PageLSN LSN
	Tag     PageTag
	Flags   uint8
}

// New allocates a zeroed page of the given size.
func New(size int) *Page {
	return &Page{Data: make([]byte, size)}
}

func (p *Page) Size() int { return len(p.Data) }

// Reset clears the page for reuse in a new frame.
func (p *Page) Reset() {
	p.Header = Header{}
	for i := range p.Data {
		p.Data[i] = 0
	}
}

// HeaderSize is the fixed on-disk width of an encoded Header, the first
// bytes of every page body. The page codec and the rest of a page's
// body start immediately after it.
const HeaderSize = 24

// EncodeHeader writes h into the first HeaderSize bytes of data. The
// caller (virgin-page allocation, or eviction writeback after a header
// field changes) is responsible for calling this before the page is
// handed to the volume for a write.
func (h Header) EncodeHeader(data []byte) {
	binary.LittleEndian.PutUint32(data[0:4], uint32(h.Vol))
	binary.LittleEndian.PutUint32(data[4:8], uint32(h.PageID))
	binary.LittleEndian.PutUint32(data[8:12], uint32(h.Store))
	binary.LittleEndian.PutUint64(data[12:20], uint64(h.PageLSN))
	data[20] = byte(h.Tag)
	data[21] = h.Flags
	data[22] = 0
	data[23] = 0
}

// DecodeHeader parses the first HeaderSize bytes of data into a Header.
func DecodeHeader(data []byte) Header {
	return Header{
		Vol:     VolumeID(binary.LittleEndian.Uint32(data[0:4])),
		PageID:  PageID(binary.LittleEndian.Uint32(data[4:8])),
		Store:   StoreID(binary.LittleEndian.Uint32(data[8:12])),
		PageLSN: LSN(binary.LittleEndian.Uint64(data[12:20])),
		Tag:     PageTag(data[20]),
		Flags:   data[21],
	}
}

// --- Swizzled / unswizzled child pointer encoding ---

// swizzleBit is bit 31 of a 32-bit child-pointer slot value: the sole
// discriminator between a disk page-id and a swizzled frame-index.
const swizzleBit uint32 = 1 << 31

// ChildPointer wraps the raw 32-bit slot value stored in a parent page's
// child-pointer slot. It never itself decides whether a frame is valid;
// callers must hold a latch that prevents concurrent eviction of the
// referenced frame before trusting FrameIndex.
type ChildPointer uint32

// FromDiskID builds an unswizzled pointer to a disk page-id.
func FromDiskID(id PageID) ChildPointer {
	return ChildPointer(uint32(id))
}

// FromFrameIndex builds a swizzled pointer to a buffer-pool frame.
func FromFrameIndex(frame uint32) ChildPointer {
	return ChildPointer(frame | swizzleBit)
}

// IsSwizzled reports whether the high bit discriminator is set.
func (c ChildPointer) IsSwizzled() bool {
	return uint32(c)&swizzleBit != 0
}

// FrameIndex returns the low bits as a frame index. Only meaningful when
// IsSwizzled is true.
func (c ChildPointer) FrameIndex() uint32 {
	return uint32(c) &^ swizzleBit
}

// DiskPageID returns the low bits as a disk page-id. Only meaningful when
// IsSwizzled is false.
func (c ChildPointer) DiskPageID() PageID {
	return PageID(uint32(c))
}

func (c ChildPointer) Raw() uint32 { return uint32(c) }
