// Package wal implements engine.LogManager: the write-ahead log the
// buffer pool publishes against before page writeback, and SPR reads
// REDO chains from. One growing active segment file plus an archive
// directory of sealed ones back the log; concurrent append throughput
// comes from carray's consolidated reservation step instead of a
// single buffer mutex.
package wal

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/gojodb/storagecore/core/storage/engine"
	"github.com/gojodb/storagecore/core/storage/page"
)

// record is the on-disk shape of an engine.LogRecord: a fixed header
// followed by two length-prefixed byte ranges.
func encodeRecord(rec engine.LogRecord) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(recordFixedSize + len(rec.OldData) + len(rec.NewData))

	_ = binary.Write(buf, binary.LittleEndian, uint64(rec.LSN))
	_ = binary.Write(buf, binary.LittleEndian, uint64(rec.PrevLSN))
	_ = binary.Write(buf, binary.LittleEndian, rec.TxnID)
	_ = binary.Write(buf, binary.LittleEndian, rec.Type)
	_ = binary.Write(buf, binary.LittleEndian, uint32(rec.PageID))
	_ = binary.Write(buf, binary.LittleEndian, rec.Offset)
	multi := byte(0)
	if rec.MultiPage {
		multi = 1
	}
	buf.WriteByte(multi)
	_ = binary.Write(buf, binary.LittleEndian, uint32(rec.SiblingPage))

	_ = binary.Write(buf, binary.LittleEndian, uint32(len(rec.OldData)))
	buf.Write(rec.OldData)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(rec.NewData)))
	buf.Write(rec.NewData)

	return buf.Bytes()
}

// recordFixedSize is encodeRecord's output length before the two
// variable-length data ranges: LSN+PrevLSN+TxnID (3*8) + Type (2) +
// PageID (4) + Offset (4) + MultiPage (1) + SiblingPage (4) +
// OldLen+NewLen (4+4).
const recordFixedSize = 24 + 2 + 4 + 4 + 1 + 4 + 4 + 4

func recordSize(rec engine.LogRecord) int {
	return recordFixedSize + len(rec.OldData) + len(rec.NewData)
}

// decodeRecord reads one record from r, returning io.EOF if r is
// exhausted before any bytes of a new record are read.
func decodeRecord(r io.Reader) (engine.LogRecord, error) {
	var rec engine.LogRecord

	var lsn, prevLSN uint64
	if err := binary.Read(r, binary.LittleEndian, &lsn); err != nil {
		return rec, err
	}
	if err := binary.Read(r, binary.LittleEndian, &prevLSN); err != nil {
		return rec, unexpectedEOF(err)
	}
	rec.LSN, rec.PrevLSN = page.LSN(lsn), page.LSN(prevLSN)

	if err := binary.Read(r, binary.LittleEndian, &rec.TxnID); err != nil {
		return rec, unexpectedEOF(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &rec.Type); err != nil {
		return rec, unexpectedEOF(err)
	}
	var pid uint32
	if err := binary.Read(r, binary.LittleEndian, &pid); err != nil {
		return rec, unexpectedEOF(err)
	}
	rec.PageID = page.PageID(pid)
	if err := binary.Read(r, binary.LittleEndian, &rec.Offset); err != nil {
		return rec, unexpectedEOF(err)
	}
	var multi [1]byte
	if _, err := io.ReadFull(r, multi[:]); err != nil {
		return rec, unexpectedEOF(err)
	}
	rec.MultiPage = multi[0] != 0
	var sib uint32
	if err := binary.Read(r, binary.LittleEndian, &sib); err != nil {
		return rec, unexpectedEOF(err)
	}
	rec.SiblingPage = page.PageID(sib)

	var oldLen, newLen uint32
	if err := binary.Read(r, binary.LittleEndian, &oldLen); err != nil {
		return rec, unexpectedEOF(err)
	}
	rec.OldData = make([]byte, oldLen)
	if _, err := io.ReadFull(r, rec.OldData); err != nil {
		return rec, unexpectedEOF(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &newLen); err != nil {
		return rec, unexpectedEOF(err)
	}
	rec.NewData = make([]byte, newLen)
	if _, err := io.ReadFull(r, rec.NewData); err != nil {
		return rec, unexpectedEOF(err)
	}
	return rec, nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
