package recovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gojodb/storagecore/core/storage/bufferpool"
	"github.com/gojodb/storagecore/core/storage/engine"
	"github.com/gojodb/storagecore/core/storage/page"
)

// Driver runs the crash-recovery analysis and redo passes over a
// single volume's log, registering every page the log touches as
// in-doubt and then redoing it through SPR. Log records carry no
// volume id of their own (one Manager owns the log for exactly one
// mounted volume in this design), so the volume to recover is passed
// in rather than read per-record.
type Driver struct {
	BPM    *bufferpool.BufferPoolManager
	Log    engine.LogManager
	SPR    *SPR
	Logger *zap.Logger
}

// scanner is satisfied by *wal.Manager; kept narrow so recovery does
// not need to import wal directly.
type scanner interface {
	ScanAll(ctx context.Context) ([]engine.LogRecord, error)
}

// Run performs the analysis pass (find every page touched by the log
// and its earliest touching LSN) followed by the redo pass (load each
// page and replay its chain up to the highest LSN that touches it).
func (d *Driver) Run(ctx context.Context, vol page.VolumeID, log scanner) error {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	recs, err := log.ScanAll(ctx)
	if err != nil {
		return fmt.Errorf("recovery: scanning log: %w", err)
	}

	recLSN := make(map[page.PageID]page.LSN)
	highLSN := make(map[page.PageID]page.LSN)
	touch := func(pid page.PageID, lsn page.LSN) {
		if _, ok := recLSN[pid]; !ok {
			recLSN[pid] = lsn
		}
		if lsn > highLSN[pid] {
			highLSN[pid] = lsn
		}
	}
	for _, rec := range recs {
		touch(rec.PageID, rec.LSN)
		if rec.MultiPage {
			touch(rec.SiblingPage, rec.LSN)
		}
	}
	logger.Info("recovery analysis complete", zap.Int("pages_touched", len(recLSN)))

	for pid, rlsn := range recLSN {
		if err := d.redoOne(ctx, vol, pid, rlsn, highLSN[pid]); err != nil {
			return fmt.Errorf("recovery: redoing page %d: %w", pid, err)
		}
	}
	logger.Info("recovery redo complete", zap.Int("pages_redone", len(recLSN)))
	return nil
}

func (d *Driver) redoOne(ctx context.Context, vol page.VolumeID, pid page.PageID, recLSN, emlsn page.LSN) error {
	h, err := d.BPM.RegisterAndMark(vol, pid, recLSN)
	if err != nil {
		return err
	}
	defer h.Unfix(true)

	if err := d.BPM.LoadForRedo(ctx, h); err != nil {
		return err
	}

	repaired, err := d.SPR.Recover(ctx, vol, pid, false, h.Page().Data, emlsn)
	if err != nil {
		return err
	}
	copy(h.Page().Data, repaired)
	d.BPM.RefreshPageLSN(h)
	return nil
}

func maxLSN(a, b page.LSN) page.LSN {
	if a > b {
		return a
	}
	return b
}
