package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gojodb/storagecore/core/storage/page"
)

// fileMagic identifies a storage-core volume file.
const fileMagic uint32 = 0x676f6a6f // "gojo"

const fileVersion uint32 = 1

// maxStores bounds the per-store root-page directory that lives in the
// header: one volume can host many stores, each with its own root
// page, instead of a single root page per file.
const maxStores = 64

// headerSize is the fixed on-disk width of Header, kept stable across
// page sizes by padding to a fixed size.
const headerSize = 4 + 4 + 4 + 8 + (maxStores * (4 + 4))

// Header is the first page of a volume file: magic, version, page
// size, and the directory mapping each store id to its root page id
// (0 if that slot is unused).
type Header struct {
	Magic     uint32
	Version   uint32
	PageSize  uint32
	NumPages  uint64
	StoreIDs  [maxStores]page.StoreID
	RootPages [maxStores]page.PageID
}

func newHeader(pageSize int) Header {
	return Header{Magic: fileMagic, Version: fileVersion, PageSize: uint32(pageSize)}
}

func (h Header) encode() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, h.Magic)
	binary.Write(buf, binary.LittleEndian, h.Version)
	binary.Write(buf, binary.LittleEndian, h.PageSize)
	binary.Write(buf, binary.LittleEndian, h.NumPages)
	for i := 0; i < maxStores; i++ {
		binary.Write(buf, binary.LittleEndian, uint32(h.StoreIDs[i]))
	}
	for i := 0; i < maxStores; i++ {
		binary.Write(buf, binary.LittleEndian, uint32(h.RootPages[i]))
	}
	out := buf.Bytes()
	if len(out) < headerSize {
		out = append(out, make([]byte, headerSize-len(out))...)
	}
	return out
}

func decodeHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, fmt.Errorf("volume: header too short: %d bytes", len(data))
	}
	r := bytes.NewReader(data[:headerSize])
	var h Header
	binary.Read(r, binary.LittleEndian, &h.Magic)
	binary.Read(r, binary.LittleEndian, &h.Version)
	binary.Read(r, binary.LittleEndian, &h.PageSize)
	binary.Read(r, binary.LittleEndian, &h.NumPages)
	for i := 0; i < maxStores; i++ {
		var v uint32
		binary.Read(r, binary.LittleEndian, &v)
		h.StoreIDs[i] = page.StoreID(v)
	}
	for i := 0; i < maxStores; i++ {
		var v uint32
		binary.Read(r, binary.LittleEndian, &v)
		h.RootPages[i] = page.PageID(v)
	}
	if h.Magic != fileMagic {
		return Header{}, fmt.Errorf("volume: bad magic 0x%x", h.Magic)
	}
	return h, nil
}

// RootPageID returns the root page id recorded for store, or
// page.InvalidPageID if the store has no directory entry yet.
func (h Header) RootPageID(store page.StoreID) page.PageID {
	for i := 0; i < maxStores; i++ {
		if h.StoreIDs[i] == store && h.RootPages[i] != page.InvalidPageID {
			return h.RootPages[i]
		}
	}
	return page.InvalidPageID
}

// setRootPageID installs or updates store's root page id in the first
// free (or matching) directory slot.
func (h *Header) setRootPageID(store page.StoreID, pid page.PageID) error {
	for i := 0; i < maxStores; i++ {
		if h.StoreIDs[i] == store {
			h.RootPages[i] = pid
			return nil
		}
	}
	for i := 0; i < maxStores; i++ {
		if h.RootPages[i] == page.InvalidPageID && h.StoreIDs[i] == 0 {
			h.StoreIDs[i] = store
			h.RootPages[i] = pid
			return nil
		}
	}
	return fmt.Errorf("volume: store directory full (max %d stores)", maxStores)
}
