package wal

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gojodb/storagecore/core/storage/carray"
	"github.com/gojodb/storagecore/core/storage/engine"
	"github.com/gojodb/storagecore/core/storage/page"
	"github.com/gojodb/storagecore/core/storage/storageerr"
)

const flushInterval = 100 * time.Millisecond

// segState is one log segment: a file plus the global-LSN range it
// covers. base and cap are fixed at creation; length only grows, under
// the consolidation array's serialized reservation step.
type segState struct {
	id     uint64
	base   int64
	cap    int64
	length int64
	file   *os.File

	outstanding atomic.Int64 // bytes reserved but not yet published
	sealed      atomic.Bool  // no longer the active segment
}

// Manager implements engine.LogManager on top of a carray.CArray for
// the reservation/exposure step and a directory of rotating segment
// files for storage, with a log_dir/archive_dir split instead of a
// single global buffer mutex.
type Manager struct {
	logDir     string
	archiveDir string
	segCap     int64

	segMu   sync.RWMutex
	current *segState
	sealedS []*segState // closed segments still open for reading until archived

	pendMu sync.Mutex
	pend   map[page.LSN]*pendingWrite

	carr       *carray.CArray
	syncedLSN  atomic.Int64
	logger     *zap.Logger
	stopCh     chan struct{}
	flusherDone chan struct{}
}

type pendingWrite struct {
	buf      []byte
	seg      *segState
	localOff int64
	group    *carray.Group
}

// New builds a Manager. segmentSizeLimit bounds a single segment file;
// joinWindow is passed through to the underlying carray.New and
// controls how long a reservation's leader waits for followers before
// closing the batch.
func New(logDir, archiveDir string, segmentSizeLimit int64, joinWindow time.Duration, logger *zap.Logger) (*Manager, error) {
	if segmentSizeLimit <= 0 {
		return nil, fmt.Errorf("wal: segment size limit must be positive")
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", storageerr.ErrIO, err)
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", storageerr.ErrIO, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		logDir:      logDir,
		archiveDir:  archiveDir,
		segCap:      segmentSizeLimit,
		pend:        make(map[page.LSN]*pendingWrite),
		logger:      logger,
		stopCh:      make(chan struct{}),
		flusherDone: make(chan struct{}),
	}

	base, id, err := resumeTail(logDir, archiveDir)
	if err != nil {
		return nil, err
	}
	seg, err := m.openSegment(id, base, segmentSizeLimit)
	if err != nil {
		return nil, err
	}
	m.current = seg

	m.carr = carray.New(m.reserve, joinWindow)

	go m.flusher()
	return m, nil
}

// resumeTail scans existing segments to find the next segment id and
// the global LSN at which a freshly started Manager should resume
// appending, by summing segment sizes in order.
func resumeTail(logDir, archiveDir string) (base int64, id uint64, err error) {
	segs, err := listSegments(logDir, archiveDir)
	if err != nil {
		return 0, 0, err
	}
	if len(segs) == 0 {
		return 0, 1, nil
	}
	last := segs[len(segs)-1]
	return last.start + last.size, last.id + 1, nil
}

func (m *Manager) openSegment(id uint64, base, cap int64) (*segState, error) {
	f, err := os.OpenFile(segmentPath(m.logDir, id), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening segment %d: %v", storageerr.ErrIO, id, err)
	}
	return &segState{id: id, base: base, cap: cap, file: f}, nil
}

// reserve is the carray.ReserveFunc: it is only ever called with the
// array's primary queue lock held, so mutating segment state here
// needs no further synchronization against other reservations, only
// against concurrent readers (segMu).
func (m *Manager) reserve(totalBytes int64) (startPos, newEnd, newBase, oldEnd int64, err error) {
	m.segMu.Lock()
	defer m.segMu.Unlock()

	cur := m.current
	if cur.length+totalBytes > cur.cap {
		if totalBytes > cur.cap {
			return 0, 0, 0, 0, fmt.Errorf("%w: record of %d bytes exceeds segment capacity %d", storageerr.ErrOutOfLogSpace, totalBytes, cur.cap)
		}
		cur.sealed.Store(true)
		oldEnd = cur.base + cur.length
		m.sealedS = append(m.sealedS, cur)
		next, err := m.openSegment(cur.id+1, oldEnd, m.segCap)
		if err != nil {
			return 0, 0, 0, 0, err
		}
		m.current = next
		cur = next
		newBase = cur.base
	} else {
		newBase = cur.base
	}

	startPos = cur.base + cur.length
	cur.length += totalBytes
	cur.outstanding.Add(totalBytes)
	newEnd = startPos + totalBytes
	return startPos, newEnd, newBase, oldEnd, nil
}

func (m *Manager) segmentFor(pos int64) *segState {
	m.segMu.RLock()
	defer m.segMu.RUnlock()
	if m.current.base <= pos && pos < m.current.base+m.current.cap {
		return m.current
	}
	for _, s := range m.sealedS {
		if s.base <= pos && pos < s.base+s.cap {
			return s
		}
	}
	return m.current
}

// Reserve implements engine.LogManager.
func (m *Manager) Reserve(ctx context.Context, size int) (page.LSN, []byte, error) {
	g, err := m.carr.Join(int64(size))
	if err != nil {
		return page.InvalidLSN, nil, err
	}
	start, _, err := g.Position()
	if err != nil {
		return page.InvalidLSN, nil, err
	}
	seg := m.segmentFor(start)
	buf := make([]byte, size)
	// A record's LSN is its byte offset plus one, so the record at
	// offset 0 does not carry InvalidLSN and falls inside an
	// (InvalidLSN, hi] redo range.
	lsn := page.LSN(start + 1)

	m.pendMu.Lock()
	m.pend[lsn] = &pendingWrite{buf: buf, seg: seg, localOff: start - seg.base, group: g}
	m.pendMu.Unlock()
	return lsn, buf, nil
}

// Publish implements engine.LogManager: writes the reserved bytes to
// their segment, exposes the LSN range as part of the array's ordered
// watermark, and archives the segment when this publish brings its
// outstanding byte count to zero after it has been sealed. A segment
// sealed after its last publish has completed is not archived and
// stays in the log directory.
func (m *Manager) Publish(ctx context.Context, lsn page.LSN) error {
	m.pendMu.Lock()
	p, ok := m.pend[lsn]
	if ok {
		delete(m.pend, lsn)
	}
	m.pendMu.Unlock()
	if !ok {
		return fmt.Errorf("wal: publish of unknown or already-published LSN %d", lsn)
	}

	if _, err := p.seg.file.WriteAt(p.buf, p.localOff); err != nil {
		return fmt.Errorf("%w: writing log record at LSN %d: %v", storageerr.ErrIO, lsn, err)
	}
	if err := p.group.Expose(); err != nil {
		return err
	}

	if p.seg.outstanding.Add(-int64(len(p.buf))) == 0 && p.seg.sealed.Load() {
		m.archive(p.seg)
	}
	return nil
}

// Append is a convenience wrapper around Reserve+Publish for callers
// that build a structured engine.LogRecord rather than raw bytes.
func (m *Manager) Append(ctx context.Context, rec engine.LogRecord) (page.LSN, error) {
	size := recordSize(rec)
	lsn, buf, err := m.Reserve(ctx, size)
	if err != nil {
		return page.InvalidLSN, err
	}
	rec.LSN = lsn
	copy(buf, encodeRecord(rec))
	if err := m.Publish(ctx, lsn); err != nil {
		return page.InvalidLSN, err
	}
	return lsn, nil
}

// DurableLSN implements engine.LogManager, returning the highest LSN
// known to have been fsync'd, not merely exposed in order.
func (m *Manager) DurableLSN() page.LSN {
	return page.LSN(m.syncedLSN.Load())
}

func (m *Manager) flusher() {
	defer close(m.flusherDone)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			m.syncAll()
			return
		case <-ticker.C:
			m.syncAll()
		}
	}
}

func (m *Manager) syncAll() {
	exposed := m.carr.DurableEnd()

	m.segMu.RLock()
	files := make([]*os.File, 0, len(m.sealedS)+1)
	files = append(files, m.current.file)
	for _, s := range m.sealedS {
		files = append(files, s.file)
	}
	m.segMu.RUnlock()

	for _, f := range files {
		if err := f.Sync(); err != nil {
			m.logger.Warn("wal: segment sync failed", zap.Error(err))
			return
		}
	}

	for {
		cur := m.syncedLSN.Load()
		if exposed <= cur {
			return
		}
		if m.syncedLSN.CompareAndSwap(cur, exposed) {
			return
		}
	}
}

// archive closes and moves a sealed, fully-published segment file
// into the archive directory.
func (m *Manager) archive(seg *segState) {
	if err := seg.file.Sync(); err != nil {
		m.logger.Warn("wal: sync before archive failed", zap.Error(err))
	}
	path := seg.file.Name()
	if err := seg.file.Close(); err != nil {
		m.logger.Warn("wal: close before archive failed", zap.Error(err))
	}
	dst := archivePathFor(m.archiveDir, seg.id)
	if err := os.Rename(path, dst); err != nil {
		m.logger.Warn("wal: archive rename failed", zap.Error(err))
		return
	}

	m.segMu.Lock()
	for i, s := range m.sealedS {
		if s == seg {
			m.sealedS = append(m.sealedS[:i], m.sealedS[i+1:]...)
			break
		}
	}
	m.segMu.Unlock()
}

func archivePathFor(archiveDir string, id uint64) string {
	return segmentPath(archiveDir, id)
}

// ReadPageRedoChain implements engine.LogManager by scanning every
// segment (archived, sealed-but-not-yet-archived, and active) in
// order and returning the records touching pid whose LSN falls in
// (lo, hi]. Callers must only request ranges already covered by
// DurableLSN, since an in-flight reservation can leave a temporary gap
// a sequential decode cannot step over.
func (m *Manager) ReadPageRedoChain(ctx context.Context, vol page.VolumeID, pid page.PageID, lo, hi page.LSN) ([]engine.LogRecord, error) {
	segs, err := listSegments(m.logDir, m.archiveDir)
	if err != nil {
		return nil, err
	}

	var out []engine.LogRecord
	for _, s := range segs {
		if int64(hi) < s.start || int64(lo) >= s.start+s.size {
			continue
		}
		recs, err := scanSegment(s.path, s.start, pid, lo, hi)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func scanSegment(path string, base int64, pid page.PageID, lo, hi page.LSN) ([]engine.LogRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s for redo scan: %v", storageerr.ErrIO, path, err)
	}
	defer f.Close()

	var out []engine.LogRecord
	for {
		rec, err := decodeRecord(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: decoding record in %s: %v", storageerr.ErrIO, path, err)
		}
		if rec.PageID == pid && rec.LSN > lo && rec.LSN <= hi {
			out = append(out, rec)
		}
		if rec.SiblingPage == pid && rec.MultiPage && rec.LSN > lo && rec.LSN <= hi {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ScanAll decodes every record across all segments in LSN order,
// regardless of page id. Used by the recovery analysis pass, which
// needs the whole log rather than one page's slice of it; not part of
// engine.LogManager since no other caller needs an unfiltered scan.
func (m *Manager) ScanAll(ctx context.Context) ([]engine.LogRecord, error) {
	segs, err := listSegments(m.logDir, m.archiveDir)
	if err != nil {
		return nil, err
	}
	var out []engine.LogRecord
	for _, s := range segs {
		f, err := os.Open(s.path)
		if err != nil {
			return nil, fmt.Errorf("%w: opening %s for scan: %v", storageerr.ErrIO, s.path, err)
		}
		for {
			rec, err := decodeRecord(f)
			if err == io.EOF {
				break
			}
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("%w: decoding record in %s: %v", storageerr.ErrIO, s.path, err)
			}
			out = append(out, rec)
		}
		f.Close()
	}
	return out, nil
}

// Close stops the background syncer and closes every open segment
// file without archiving the active one.
func (m *Manager) Close() error {
	close(m.stopCh)
	<-m.flusherDone

	m.segMu.Lock()
	defer m.segMu.Unlock()
	var firstErr error
	for _, s := range append(append([]*segState{}, m.sealedS...), m.current) {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
