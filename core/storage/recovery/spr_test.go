package recovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gojodb/storagecore/core/storage/backup"
	"github.com/gojodb/storagecore/core/storage/engine"
	"github.com/gojodb/storagecore/core/storage/page"
	"github.com/gojodb/storagecore/core/storage/pagecodec"
	"github.com/gojodb/storagecore/core/storage/wal"
)

func newTestLog(t *testing.T) *wal.Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := wal.New(filepath.Join(dir, "wal"), filepath.Join(dir, "wal", "archive"), 1<<20, 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func freshLeaf() []byte {
	buf := make([]byte, page.DefaultPageSize)
	pagecodec.InitLeaf(buf)
	hdr := page.Header{Vol: 1, PageID: 10, Tag: page.TagLeaf}
	hdr.EncodeHeader(buf)
	codec := pagecodec.SlottedPageCodec{}
	codec.StampChecksum(buf)
	return buf
}

func TestSPR_ReplaysChainUpToEMLSN(t *testing.T) {
	log := newTestLog(t)
	backupMgr, err := backup.New(t.TempDir())
	require.NoError(t, err)
	codec := pagecodec.SlottedPageCodec{}

	ctx := context.Background()
	img := freshLeaf()

	var lastLSN page.LSN
	for i := 0; i < 3; i++ {
		lsn, err := log.Append(ctx, engine.LogRecord{
			PageID:  10,
			Offset:  uint32(page.HeaderSize),
			NewData: []byte{byte('a' + i)},
		})
		require.NoError(t, err)
		lastLSN = lsn
	}

	spr := &SPR{Log: log, Backup: backupMgr, Codec: codec}
	repaired, err := spr.Recover(ctx, 1, 10, false, img, lastLSN)
	require.NoError(t, err)

	gotHdr := page.DecodeHeader(repaired)
	require.Equal(t, lastLSN, gotHdr.PageLSN)
	require.True(t, codec.VerifyChecksum(repaired))
	require.Equal(t, byte('a'+2), repaired[page.HeaderSize])
}

func TestSPR_AlreadyCaughtUpSkipsReplay(t *testing.T) {
	log := newTestLog(t)
	backupMgr, err := backup.New(t.TempDir())
	require.NoError(t, err)
	codec := pagecodec.SlottedPageCodec{}

	img := freshLeaf()
	hdr := page.DecodeHeader(img)
	hdr.PageLSN = 500
	hdr.EncodeHeader(img)

	spr := &SPR{Log: log, Backup: backupMgr, Codec: codec}
	repaired, err := spr.Recover(context.Background(), 1, 10, false, img, 100)
	require.NoError(t, err)
	require.Equal(t, page.LSN(500), page.DecodeHeader(repaired).PageLSN, "no replay needed, the page-LSN must be unchanged")
}

func TestSPR_CorruptedImageFetchesFromBackup(t *testing.T) {
	log := newTestLog(t)
	backupMgr, err := backup.New(t.TempDir())
	require.NoError(t, err)
	codec := pagecodec.SlottedPageCodec{}
	ctx := context.Background()

	backupImg := freshLeaf()
	require.NoError(t, backupMgr.Snapshot(ctx, 1, 10, backupImg))

	lsn, err := log.Append(ctx, engine.LogRecord{PageID: 10, Offset: uint32(page.HeaderSize), NewData: []byte{'z'}})
	require.NoError(t, err)

	spr := &SPR{Log: log, Backup: backupMgr, Codec: codec}
	// The passed-in image is deliberately garbage; corrupted=true means
	// it must be ignored in favor of the backup's image.
	repaired, err := spr.Recover(ctx, 1, 10, true, []byte("garbage-not-a-real-page"), lsn)
	require.NoError(t, err)
	require.Equal(t, byte('z'), repaired[page.HeaderSize])
}

func TestSPR_MissingBackupImagePropagatesError(t *testing.T) {
	log := newTestLog(t)
	backupMgr, err := backup.New(t.TempDir())
	require.NoError(t, err)
	codec := pagecodec.SlottedPageCodec{}

	spr := &SPR{Log: log, Backup: backupMgr, Codec: codec}
	_, err = spr.Recover(context.Background(), 1, 99, true, nil, 10)
	require.Error(t, err)
}

func TestSPR_MultiPageRecordWithoutSiblingCollaboratorFails(t *testing.T) {
	log := newTestLog(t)
	backupMgr, err := backup.New(t.TempDir())
	require.NoError(t, err)
	codec := pagecodec.SlottedPageCodec{}
	ctx := context.Background()

	img := freshLeaf()
	lsn, err := log.Append(ctx, engine.LogRecord{
		PageID:      10,
		Offset:      uint32(page.HeaderSize),
		NewData:     []byte{'s'},
		MultiPage:   true,
		SiblingPage: 11,
	})
	require.NoError(t, err)

	spr := &SPR{Log: log, Backup: backupMgr, Codec: codec} // Sibling left nil
	_, err = spr.Recover(ctx, 1, 10, false, img, lsn)
	require.Error(t, err)
}
