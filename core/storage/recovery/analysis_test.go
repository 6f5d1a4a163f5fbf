package recovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gojodb/storagecore/core/storage/backup"
	"github.com/gojodb/storagecore/core/storage/bufferpool"
	"github.com/gojodb/storagecore/core/storage/engine"
	"github.com/gojodb/storagecore/core/storage/latch"
	"github.com/gojodb/storagecore/core/storage/page"
	"github.com/gojodb/storagecore/core/storage/pagecodec"
	"github.com/gojodb/storagecore/core/storage/wal"
	"github.com/gojodb/storagecore/core/transaction"
)

// fakeVolume is a minimal engine.Volume fixture for driving recovery
// against a page image without a real on-disk file.
type fakeVolume struct {
	pageSize int
	pages    map[page.PageID][]byte
}

func newFakeVolume(pageSize int) *fakeVolume {
	return &fakeVolume{pageSize: pageSize, pages: make(map[page.PageID][]byte)}
}

func (v *fakeVolume) ReadPage(ctx context.Context, vol page.VolumeID, pid page.PageID, buf []byte) error {
	copy(buf, v.pages[pid])
	return nil
}

func (v *fakeVolume) WritePage(ctx context.Context, vol page.VolumeID, pid page.PageID, buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	v.pages[pid] = cp
	return nil
}

func (v *fakeVolume) AllocPage(ctx context.Context, vol page.VolumeID) (page.PageID, error) {
	return page.PageID(len(v.pages) + 1), nil
}

func (v *fakeVolume) PageSize() int { return v.pageSize }

func TestDriver_Run_RedoesEveryTouchedPageAfterCrash(t *testing.T) {
	ctx := context.Background()
	codec := pagecodec.SlottedPageCodec{}

	vol := newFakeVolume(page.DefaultPageSize)
	initial := make([]byte, page.DefaultPageSize)
	pagecodec.InitLeaf(initial)
	hdr := page.Header{Vol: 1, PageID: 10, Tag: page.TagLeaf}
	hdr.EncodeHeader(initial)
	codec.StampChecksum(initial)
	vol.pages[10] = initial

	dir := t.TempDir()
	log, err := wal.New(filepath.Join(dir, "wal"), filepath.Join(dir, "wal", "archive"), 1<<20, 0, nil)
	require.NoError(t, err)
	defer log.Close()

	var lastLSN page.LSN
	for i := 0; i < 3; i++ {
		lsn, err := log.Append(ctx, engine.LogRecord{
			PageID:  10,
			Offset:  uint32(page.HeaderSize),
			NewData: []byte{byte('x' + i)},
		})
		require.NoError(t, err)
		lastLSN = lsn
	}

	backupMgr, err := backup.New(filepath.Join(dir, "backup"))
	require.NoError(t, err)

	bpm := bufferpool.NewBufferPoolManager(bufferpool.Config{
		NumFrames: 8,
		PageSize:  page.DefaultPageSize,
		Volume:    vol,
		Log:       log,
		Backup:    backupMgr,
		Codec:     codec,
		Clock:     transaction.StaticClock{Source: log.DurableLSN},
	})
	defer bpm.Close()

	spr := NewSPR(bpm, log, backupMgr, codec, nil)
	bpm.SetRecover(spr.Recover)

	driver := &Driver{BPM: bpm, Log: log, SPR: spr}
	require.NoError(t, driver.Run(ctx, page.VolumeID(1), log))

	h, err := bpm.FixDirect(ctx, page.VolumeID(1), page.FromDiskID(10), latch.Shared, false)
	require.NoError(t, err)
	defer h.Unfix(false)

	gotHdr := page.DecodeHeader(h.Page().Data)
	require.Equal(t, lastLSN, gotHdr.PageLSN)
	require.Equal(t, byte('x'+2), h.Page().Data[page.HeaderSize])
}

func TestDriver_Run_NoOpOnEmptyLog(t *testing.T) {
	ctx := context.Background()
	codec := pagecodec.SlottedPageCodec{}
	vol := newFakeVolume(page.DefaultPageSize)

	dir := t.TempDir()
	log, err := wal.New(filepath.Join(dir, "wal"), filepath.Join(dir, "wal", "archive"), 1<<20, 0, nil)
	require.NoError(t, err)
	defer log.Close()

	backupMgr, err := backup.New(filepath.Join(dir, "backup"))
	require.NoError(t, err)

	bpm := bufferpool.NewBufferPoolManager(bufferpool.Config{
		NumFrames: 4,
		PageSize:  page.DefaultPageSize,
		Volume:    vol,
		Log:       log,
		Backup:    backupMgr,
		Codec:     codec,
		Clock:     transaction.StaticClock{Source: log.DurableLSN},
	})
	defer bpm.Close()

	spr := NewSPR(bpm, log, backupMgr, codec, nil)
	bpm.SetRecover(spr.Recover)

	driver := &Driver{BPM: bpm, Log: log, SPR: spr}
	require.NoError(t, driver.Run(ctx, page.VolumeID(1), log))
}

var _ engine.Volume = (*fakeVolume)(nil)
