package bufferpool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gojodb/storagecore/core/storage/engine"
	"github.com/gojodb/storagecore/core/storage/page"
	"github.com/gojodb/storagecore/core/transaction"
)

var errPageNotFound = errors.New("bufferpool_test: page not found")

// memVolume is a minimal engine.Volume backed by an in-memory map, just
// enough to exercise RegisterAndMark/LoadForRedo without a real file.
type memVolume struct {
	pageSize int
	pages    map[page.PageID][]byte
	nextID   uint32
}

func newMemVolume(pageSize int) *memVolume {
	return &memVolume{pageSize: pageSize, pages: make(map[page.PageID][]byte), nextID: 1}
}

func (v *memVolume) ReadPage(ctx context.Context, vol page.VolumeID, pid page.PageID, buf []byte) error {
	data, ok := v.pages[pid]
	if !ok {
		return errPageNotFound
	}
	copy(buf, data)
	return nil
}

func (v *memVolume) WritePage(ctx context.Context, vol page.VolumeID, pid page.PageID, buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	v.pages[pid] = cp
	return nil
}

func (v *memVolume) AllocPage(ctx context.Context, vol page.VolumeID) (page.PageID, error) {
	id := page.PageID(v.nextID)
	v.nextID++
	return id, nil
}

func (v *memVolume) PageSize() int { return v.pageSize }

func newTestPool(t *testing.T, numFrames uint32) (*BufferPoolManager, *memVolume) {
	t.Helper()
	vol := newMemVolume(page.DefaultPageSize)
	bpm := NewBufferPoolManager(Config{
		NumFrames: numFrames,
		PageSize:  page.DefaultPageSize,
		Volume:    vol,
		Clock:     transaction.StaticClock{Source: func() page.LSN { return page.InvalidLSN }},
	})
	t.Cleanup(bpm.Close)
	return bpm, vol
}

func TestRegisterAndMark_NewPageIsInDoubt(t *testing.T) {
	bpm, _ := newTestPool(t, 4)

	h, err := bpm.RegisterAndMark(1, 10, 42)
	require.NoError(t, err)
	require.True(t, h.CB().Used())
	require.True(t, h.CB().InDoubt())
	require.False(t, h.CB().Dirty())
	require.Equal(t, page.LSN(42), h.CB().RecLSN())
	h.Unfix(false)
}

func TestRegisterAndMark_SecondCallFindsSameFrame(t *testing.T) {
	bpm, _ := newTestPool(t, 4)

	h1, err := bpm.RegisterAndMark(1, 10, 42)
	require.NoError(t, err)
	frame1 := h1.Frame()
	h1.Unfix(false)

	h2, err := bpm.RegisterAndMark(1, 10, 99)
	require.NoError(t, err)
	require.Equal(t, frame1, h2.Frame())
	h2.Unfix(false)
}

func TestLoadForRedo_ClearsInDoubtAndSetsDirty(t *testing.T) {
	bpm, vol := newTestPool(t, 4)

	buf := make([]byte, vol.PageSize())
	hdr := page.Header{Vol: 1, PageID: 10, PageLSN: 7}
	hdr.EncodeHeader(buf)
	vol.pages[10] = buf

	h, err := bpm.RegisterAndMark(1, 10, 7)
	require.NoError(t, err)

	require.NoError(t, bpm.LoadForRedo(context.Background(), h))
	require.False(t, h.CB().InDoubt())
	require.True(t, h.CB().Dirty())
	require.Equal(t, page.LSN(7), h.CB().PageLSN())
	h.Unfix(true)
}

func TestLoadForRedo_RejectsFrameNotInDoubt(t *testing.T) {
	bpm, vol := newTestPool(t, 4)
	vol.pages[10] = make([]byte, vol.PageSize())

	h, err := bpm.RegisterAndMark(1, 10, 7)
	require.NoError(t, err)
	require.NoError(t, bpm.LoadForRedo(context.Background(), h))

	err = bpm.LoadForRedo(context.Background(), h)
	require.Error(t, err, "a second LoadForRedo on an already-redone frame must fail")
	h.Unfix(true)
}

func TestLookupInDoubt_FindsAndMissesCorrectly(t *testing.T) {
	bpm, _ := newTestPool(t, 4)

	_, found := bpm.LookupInDoubt(1, 10)
	require.False(t, found, "no frame registered yet")

	h, err := bpm.RegisterAndMark(1, 10, 42)
	require.NoError(t, err)
	h.Unfix(false)

	found2, ok := bpm.LookupInDoubt(1, 10)
	require.True(t, ok)
	require.True(t, found2.CB().InDoubt())
	found2.Unfix(false)
}

func TestInDoubtToDirty_SkipsReReadingPage(t *testing.T) {
	bpm, _ := newTestPool(t, 4)

	h, err := bpm.RegisterAndMark(1, 10, 5)
	require.NoError(t, err)

	// Simulate a caller (SPR) writing a recovered image directly, then
	// transitioning the CB without going through LoadForRedo's read.
	hdr := page.Header{Vol: 1, PageID: 10, PageLSN: 99}
	hdr.EncodeHeader(h.Page().Data)

	bpm.InDoubtToDirty(h)
	require.False(t, h.CB().InDoubt())
	require.True(t, h.CB().Dirty())

	bpm.RefreshPageLSN(h)
	require.Equal(t, page.LSN(99), h.CB().PageLSN())
	h.Unfix(true)
}

func TestGetRecLSN_FiltersByRange(t *testing.T) {
	bpm, _ := newTestPool(t, 4)

	h1, err := bpm.RegisterAndMark(1, 10, 5)
	require.NoError(t, err)
	h1.Unfix(false)
	h2, err := bpm.RegisterAndMark(1, 11, 50)
	require.NoError(t, err)
	h2.Unfix(false)
	h3, err := bpm.RegisterAndMark(1, 12, 500)
	require.NoError(t, err)
	h3.Unfix(false)

	out := bpm.GetRecLSN(10, 100)
	require.Equal(t, []page.LSN{50}, out)
}

func TestRegisterAndMark_OutOfBufferWhenFreeListExhausted(t *testing.T) {
	bpm, _ := newTestPool(t, 1)

	h, err := bpm.RegisterAndMark(1, 10, 1)
	require.NoError(t, err)
	defer h.Unfix(false)

	_, err = bpm.RegisterAndMark(1, 11, 1)
	require.Error(t, err)
}

var _ engine.Volume = (*memVolume)(nil)
