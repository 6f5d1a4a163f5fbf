// Package recovery implements single-page recovery and the log
// analysis pass that drives it after a crash.
// It depends on core/storage/bufferpool and core/storage/engine but
// is never imported by either: the buffer pool instead takes an SPR
// function value through bufferpool.Config.Recover, so a corrupt page
// encountered mid-read can call back into recovery without a cycle.
package recovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gojodb/storagecore/core/storage/bufferpool"
	"github.com/gojodb/storagecore/core/storage/engine"
	"github.com/gojodb/storagecore/core/storage/latch"
	"github.com/gojodb/storagecore/core/storage/page"
)

// NewSPR builds an SPR wired to fetch sibling pages through bpm, the
// usual construction for the function handed to
// bufferpool.Config.Recover.
func NewSPR(bpm *bufferpool.BufferPoolManager, log engine.LogManager, backup engine.BackupManager, codec engine.PageCodec, logger *zap.Logger) *SPR {
	s := &SPR{Log: log, Backup: backup, Codec: codec, Logger: logger}
	s.Sibling = siblingVia(bpm)
	return s
}

// SPR drives single-page recovery: given a possibly-corrupt page
// image and the EMLSN it must reach, it replays the page's REDO chain
// from the log and returns the repaired image. Its method value
// matches bufferpool.RecoverFunc and is meant to be passed directly
// as bufferpool.Config.Recover.
type SPR struct {
	Log    engine.LogManager
	Backup engine.BackupManager
	Codec  engine.PageCodec
	Logger *zap.Logger

	// Sibling fetches and, if necessary, recovers the sibling page
	// referenced by a multi-page (split) log record, returning its
	// current image. Wired to the owning buffer pool's FixDirect path
	// once the pool exists, since SPR cannot construct a buffer pool
	// fix on its own without risking the same cycle Config.Recover
	// exists to avoid.
	Sibling func(ctx context.Context, vol page.VolumeID, pid page.PageID) ([]byte, error)
}

// Recover implements bufferpool.RecoverFunc.
func (s *SPR) Recover(ctx context.Context, vol page.VolumeID, pid page.PageID, corrupted bool, image []byte, expectedEMLSN page.LSN) ([]byte, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	img := image
	if corrupted {
		fetched, err := s.Backup.FetchPage(ctx, vol, pid)
		if err != nil {
			return nil, fmt.Errorf("recovery: fetching backup image for page %d: %w", pid, err)
		}
		img = fetched
	}

	startLSN := page.DecodeHeader(img).PageLSN
	if startLSN >= expectedEMLSN {
		return img, nil
	}

	chain, err := s.Log.ReadPageRedoChain(ctx, vol, pid, startLSN, expectedEMLSN)
	if err != nil {
		return nil, fmt.Errorf("recovery: reading redo chain for page %d: %w", pid, err)
	}

	for _, rec := range chain {
		if rec.MultiPage && rec.SiblingPage != pid {
			if s.Sibling == nil {
				return nil, fmt.Errorf("recovery: page %d redo at lsn %d needs sibling %d but no sibling collaborator is wired", pid, rec.LSN, rec.SiblingPage)
			}
			if _, err := s.Sibling(ctx, vol, rec.SiblingPage); err != nil {
				return nil, fmt.Errorf("recovery: recovering sibling %d of page %d: %w", rec.SiblingPage, pid, err)
			}
		}
		if err := s.Codec.ApplyRedo(img, rec); err != nil {
			return nil, fmt.Errorf("recovery: applying redo lsn %d to page %d: %w", rec.LSN, pid, err)
		}
	}

	final := page.DecodeHeader(img).PageLSN
	if final != expectedEMLSN {
		return nil, fmt.Errorf("recovery: page %d replay ended at lsn %d, want %d", pid, final, expectedEMLSN)
	}
	s.Codec.StampChecksum(img)
	logger.Info("single-page recovery complete",
		zap.Uint32("vol", uint32(vol)), zap.Uint32("page", uint32(pid)),
		zap.Uint64("from_lsn", uint64(startLSN)), zap.Uint64("to_lsn", uint64(expectedEMLSN)),
		zap.Int("records_applied", len(chain)))
	return img, nil
}

// siblingVia returns an SPR.Sibling implementation that fetches a
// sibling page through bpm, recovering it first if the fix path
// itself reports corruption (repairCorruptPage calls back into the
// same SPR, so this can legitimately recurse a small, bounded number
// of times for a chain of splits).
func siblingVia(bpm *bufferpool.BufferPoolManager) func(ctx context.Context, vol page.VolumeID, pid page.PageID) ([]byte, error) {
	return func(ctx context.Context, vol page.VolumeID, pid page.PageID) ([]byte, error) {
		h, err := bpm.FixDirect(ctx, vol, page.FromDiskID(pid), latch.Shared, false)
		if err != nil {
			return nil, err
		}
		defer h.Unfix(false)
		return h.Page().Data, nil
	}
}
