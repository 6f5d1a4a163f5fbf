// Package pagecodec implements a minimal fixed-layout slotted-page
// codec: enumerate child-pointer slots, read and write a child's
// EMLSN, apply one REDO record, and checksum the page. Follows the
// slotted serialize/deserialize format used elsewhere in the corpus
// (flags byte, length-prefixed key/value data, trailing CRC32),
// generalized here to also carry one EMLSN per child slot, which a
// plain B-tree page layout has no need of but single-page recovery
// requires.
package pagecodec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/gojodb/storagecore/core/storage/engine"
	"github.com/gojodb/storagecore/core/storage/page"
)

const checksumSize = 4

// Layout, all offsets relative to the byte immediately after
// page.HeaderSize:
//
//	[0]      flags (bit0 = isLeaf)
//	[1:3]    numEntries (uint16)
//	entries follow:
//	  leaf:   keyLen(uint16) key valLen(uint16) val
//	  inner:  childID(uint32) emlsn(uint64)   -- ChildSlots offsets point here
//
// last checksumSize bytes of the page: CRC32 over everything before it.
const bodyOffset = page.HeaderSize

const (
	flagLeaf = 1 << 0
)

// SlottedPageCodec implements engine.PageCodec.
type SlottedPageCodec struct{}

func numEntries(data []byte) int {
	return int(binary.LittleEndian.Uint16(data[bodyOffset+1 : bodyOffset+3]))
}

func isLeaf(data []byte) bool {
	return data[bodyOffset]&flagLeaf != 0
}

// ChildSlots returns the byte offset of each child-pointer's 4-byte
// slot in an inner page. Leaf pages have none.
func (SlottedPageCodec) ChildSlots(data []byte) []int {
	if isLeaf(data) {
		return nil
	}
	n := numEntries(data)
	slots := make([]int, 0, n)
	off := bodyOffset + 3
	const entrySize = 4 + 8 // childID + emlsn
	for i := 0; i < n; i++ {
		slots = append(slots, off)
		off += entrySize
	}
	return slots
}

// ReadEMLSN reads the 8-byte EMLSN following the child pointer at
// slotOffset.
func (SlottedPageCodec) ReadEMLSN(data []byte, slotOffset int) page.LSN {
	return page.LSN(binary.LittleEndian.Uint64(data[slotOffset+4 : slotOffset+12]))
}

// WriteEMLSN updates the 8-byte EMLSN following the child pointer at
// slotOffset with a plain byte-wise store. The write is not atomic, and
// concurrent writers of the same slot are not serialized here.
func (SlottedPageCodec) WriteEMLSN(data []byte, slotOffset int, lsn page.LSN) {
	binary.LittleEndian.PutUint64(data[slotOffset+4:slotOffset+12], uint64(lsn))
}

// ApplyRedo applies a REDO record produced by this codec's own write
// path: a raw byte-range overwrite at rec.Offset with rec.NewData,
// followed by advancing the page's stored LSN. Idempotent, since
// reapplying the same byte range with the same bytes is a no-op beyond
// the LSN bump, and the LSN bump itself is a monotone set-if-greater.
func (SlottedPageCodec) ApplyRedo(data []byte, rec engine.LogRecord) error {
	end := int(rec.Offset) + len(rec.NewData)
	if end > len(data)-checksumSize {
		return fmt.Errorf("pagecodec: redo record for page %d overruns page body (offset %d, len %d)", rec.PageID, rec.Offset, len(rec.NewData))
	}
	copy(data[rec.Offset:end], rec.NewData)

	hdr := page.DecodeHeader(data)
	if rec.LSN > hdr.PageLSN {
		hdr.PageLSN = rec.LSN
		hdr.EncodeHeader(data)
	}
	return nil
}

// Checksum computes the CRC32 of everything in data before its
// trailing checksum field.
func (SlottedPageCodec) Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data[:len(data)-checksumSize])
}

// StampChecksum writes Checksum(data) into data's trailer.
func (c SlottedPageCodec) StampChecksum(data []byte) {
	binary.LittleEndian.PutUint32(data[len(data)-checksumSize:], c.Checksum(data))
}

// VerifyChecksum reports whether data's trailing checksum matches its
// content.
func (c SlottedPageCodec) VerifyChecksum(data []byte) bool {
	stored := binary.LittleEndian.Uint32(data[len(data)-checksumSize:])
	return stored == c.Checksum(data)
}

// InitLeaf resets data to an empty leaf page body (used by virgin page
// allocation).
func InitLeaf(data []byte) {
	data[bodyOffset] = flagLeaf
	binary.LittleEndian.PutUint16(data[bodyOffset+1:bodyOffset+3], 0)
}

// InitInner resets data to an empty inner page body.
func InitInner(data []byte) {
	data[bodyOffset] = 0
	binary.LittleEndian.PutUint16(data[bodyOffset+1:bodyOffset+3], 0)
}
