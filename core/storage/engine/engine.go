// Package engine declares the collaborator interfaces the storage core
// consumes but does not own: the log manager, the volume/disk layer,
// the backup manager, and the page codec. The buffer pool, eviction
// engine, and SPR are written against these interfaces so that
// swapping a concrete volume or log implementation never touches the
// core.
package engine

import (
	"context"

	"github.com/gojodb/storagecore/core/storage/page"
)

// LogRecord is the minimal shape SPR and the buffer pool need from a
// log entry: enough to replay it against a page image and, for
// multi-page (split) records, to recurse into a sibling page.
type LogRecord struct {
	LSN         page.LSN
	PrevLSN     page.LSN
	TxnID       uint64
	Type        uint16
	PageID      page.PageID
	Offset      uint32
	OldData     []byte
	NewData     []byte
	MultiPage   bool
	SiblingPage page.PageID
}

// LogManager is the collaborator that owns the write-ahead log. The
// buffer pool calls DurableLSN and Publish before writing a page back,
// so the log is durable up to the page's LSN first, and uses
// DurableLSN as the redo bound for a corrupt page with no known parent
// slot; it never calls Reserve and does not consult the log for WOD
// edges. SPR calls ReadPageRedoChain to drive replay.
type LogManager interface {
	// Reserve asks the log for room for a record of the given size and
	// returns the LSN assigned to it plus the buffer region the caller
	// must fill in before calling Publish.
	Reserve(ctx context.Context, size int) (page.LSN, []byte, error)

	// Publish marks a previously reserved LSN as filled in and eligible
	// for the durable-end pointer to advance past it.
	Publish(ctx context.Context, lsn page.LSN) error

	// DurableLSN returns the highest LSN known to be durable on disk.
	DurableLSN() page.LSN

	// ReadPageRedoChain returns, in ascending LSN order, every record
	// touching pid with LSN in (lo, hi].
	ReadPageRedoChain(ctx context.Context, vol page.VolumeID, pid page.PageID, lo, hi page.LSN) ([]LogRecord, error)
}

// Volume is the disk/volume collaborator: fixed-size page I/O plus
// allocation, addressed by volume id.
type Volume interface {
	ReadPage(ctx context.Context, vol page.VolumeID, pid page.PageID, buf []byte) error
	WritePage(ctx context.Context, vol page.VolumeID, pid page.PageID, buf []byte) error
	AllocPage(ctx context.Context, vol page.VolumeID) (page.PageID, error)
	PageSize() int
}

// BackupManager supplies a known-good page image for SPR when the
// current on-disk image is corrupt.
type BackupManager interface {
	FetchPage(ctx context.Context, vol page.VolumeID, pid page.PageID) ([]byte, error)
}

// PageCodec is the page-layout collaborator (normally owned by the
// B-tree layer): enumerate child-pointer slots, read/write a child's
// EMLSN, and apply one REDO record to a page image.
type PageCodec interface {
	// ChildSlots returns the byte offset of every child-pointer slot in
	// an inner page's data.
	ChildSlots(data []byte) []int

	// ReadEMLSN reads the end-mark LSN recorded for the child at the
	// given slot offset.
	ReadEMLSN(data []byte, slotOffset int) page.LSN

	// WriteEMLSN atomically updates the EMLSN recorded for the child at
	// the given slot offset.
	WriteEMLSN(data []byte, slotOffset int, lsn page.LSN)

	// ApplyRedo applies one log record's effect to a page image,
	// advancing its page-LSN. Must be idempotent.
	ApplyRedo(data []byte, rec LogRecord) error

	// Checksum returns a checksum of the page body used to detect
	// corruption on read.
	Checksum(data []byte) uint32

	// StampChecksum computes and writes data's checksum into its
	// trailer before the page is handed to the volume for a write.
	StampChecksum(data []byte)

	// VerifyChecksum reports whether data's stored checksum matches its
	// content.
	VerifyChecksum(data []byte) bool
}
