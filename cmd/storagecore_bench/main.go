// Command storagecore_bench wires together the storage core's
// collaborators (volume, WAL, backup, buffer pool, recovery) against a
// single data directory, runs crash recovery if the log has unapplied
// records, and drives a concurrent fix/write/unfix workload against the
// resulting pool to exercise and report on it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gojodb/storagecore/core/config"
	"github.com/gojodb/storagecore/core/storage/backup"
	"github.com/gojodb/storagecore/core/storage/bufferpool"
	"github.com/gojodb/storagecore/core/storage/engine"
	"github.com/gojodb/storagecore/core/storage/latch"
	"github.com/gojodb/storagecore/core/storage/page"
	"github.com/gojodb/storagecore/core/storage/pagecodec"
	"github.com/gojodb/storagecore/core/storage/recovery"
	"github.com/gojodb/storagecore/core/storage/volume"
	"github.com/gojodb/storagecore/core/storage/wal"
	"github.com/gojodb/storagecore/core/transaction"
	"github.com/gojodb/storagecore/pkg/logger"
	"github.com/gojodb/storagecore/pkg/telemetry"

	"go.uber.org/zap"
)

var (
	configPath  = flag.String("config", "", "path to a YAML config file (defaults used for anything it omits or if unset)")
	dataDir     = flag.String("data_dir", "data", "root directory for volume/wal/backup subdirectories")
	volumeID    = flag.Uint("volume_id", 1, "volume id to mount and benchmark against")
	storeID     = flag.Uint("store_id", 1, "store id within the volume to pre-fix a root page for")
	workers     = flag.Int("workers", 8, "number of concurrent workload goroutines")
	opsPerWorker = flag.Int("ops", 10000, "number of fix/write/unfix operations run per worker")
	leafPages   = flag.Int("leaf_pages", 64, "number of leaf pages the workload allocates and contends over")
)

// storageCore bundles every collaborator initStorageCore opens, instead
// of keeping them as package-level globals, so a benchmark run can close them all
// in reverse order without relying on process exit.
type storageCore struct {
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	shutdown  telemetry.ShutdownFunc

	vol    *volume.FileVolume
	log    *wal.Manager
	backup *backup.DirBackup
	codec  pagecodec.SlottedPageCodec
	bpm    *bufferpool.BufferPoolManager
	spr    *recovery.SPR
}

func initStorageCore(ctx context.Context, cfg config.Config) (*storageCore, error) {
	zlogger, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("storagecore_bench: building logger: %w", err)
	}

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("storagecore_bench: building telemetry: %w", err)
	}

	vol, err := volume.New(cfg.Volume.Dir, cfg.Volume.PageSize)
	if err != nil {
		return nil, fmt.Errorf("storagecore_bench: opening volume directory: %w", err)
	}

	logMgr, err := wal.New(cfg.WAL.LogDir, cfg.WAL.ArchiveDir, cfg.WAL.SegmentSizeBytes,
		time.Duration(cfg.CArray.JoinWindowMicros)*time.Microsecond, zlogger)
	if err != nil {
		return nil, fmt.Errorf("storagecore_bench: opening WAL: %w", err)
	}

	backupMgr, err := backup.New(cfg.Backup.Dir)
	if err != nil {
		return nil, fmt.Errorf("storagecore_bench: opening backup directory: %w", err)
	}

	codec := pagecodec.SlottedPageCodec{}

	bpm := bufferpool.NewBufferPoolManager(bufferpool.Config{
		NumFrames:        cfg.BufferPool.FrameCount,
		PageSize:         cfg.BufferPool.PageSize,
		Volume:           vol,
		Log:              logMgr,
		Backup:           backupMgr,
		Codec:            codec,
		Clock:            transaction.StaticClock{Source: logMgr.DurableLSN},
		Logger:           zlogger,
		Meter:            tel.Meter,
		SwizzlingEnabled: cfg.BufferPool.SwizzlingEnabled,
	})

	spr := recovery.NewSPR(bpm, logMgr, backupMgr, codec, zlogger)
	bpm.SetRecover(spr.Recover)

	return &storageCore{
		logger:    zlogger,
		telemetry: tel,
		shutdown:  shutdown,
		vol:       vol,
		log:       logMgr,
		backup:    backupMgr,
		codec:     codec,
		bpm:       bpm,
		spr:       spr,
	}, nil
}

// mount opens vol's on-disk file (creating it if new) and runs crash
// recovery against its log before the pool pre-fixes any store roots,
// so in-doubt pages are redone before the workload can see them.
func (sc *storageCore) mount(ctx context.Context, vol page.VolumeID, stores []page.StoreID) error {
	if err := sc.vol.Mount(vol); err != nil {
		return fmt.Errorf("storagecore_bench: mounting volume %d: %w", vol, err)
	}

	driver := &recovery.Driver{BPM: sc.bpm, Log: sc.log, SPR: sc.spr, Logger: sc.logger}
	if err := driver.Run(ctx, vol, sc.log); err != nil {
		return fmt.Errorf("storagecore_bench: recovery pass for volume %d: %w", vol, err)
	}

	roots := make(map[page.StoreID]page.PageID)
	for _, s := range stores {
		if pid, ok := sc.vol.RootPageID(vol, s); ok {
			roots[s] = pid
		}
	}
	if err := sc.bpm.MountVolume(ctx, vol, stores, roots); err != nil {
		return fmt.Errorf("storagecore_bench: mounting volume %d into pool: %w", vol, err)
	}

	// MountVolume allocates a virgin root for any store absent from
	// roots but does not itself persist the new page id back to the
	// volume header; do that here so a restart finds it.
	for _, s := range stores {
		if _, already := roots[s]; already {
			continue
		}
		h, err := sc.bpm.FixRoot(ctx, vol, s, latch.Shared, false)
		if err != nil {
			return fmt.Errorf("storagecore_bench: reading new root for store %d: %w", s, err)
		}
		pid := h.Page().Header.PageID
		h.Unfix(false)
		if err := sc.vol.SetRootPageID(vol, s, pid); err != nil {
			return fmt.Errorf("storagecore_bench: persisting root page id for store %d: %w", s, err)
		}
	}
	return nil
}

func (sc *storageCore) close(ctx context.Context, vol page.VolumeID) {
	if err := sc.bpm.UnmountVolume(ctx, vol); err != nil {
		sc.logger.Warn("unmounting volume", zap.Error(err))
	}
	sc.bpm.Close()
	if err := sc.vol.Unmount(vol); err != nil {
		sc.logger.Warn("unmounting volume file", zap.Error(err))
	}
	if err := sc.log.Close(); err != nil {
		sc.logger.Warn("closing WAL", zap.Error(err))
	}
	if err := sc.shutdown(ctx); err != nil {
		sc.logger.Warn("shutting down telemetry", zap.Error(err))
	}
	sc.logger.Sync()
}

// allocateLeaves pre-allocates n fresh leaf pages for the workload to
// contend over, initializing each as an empty slotted leaf body.
func (sc *storageCore) allocateLeaves(ctx context.Context, vol page.VolumeID, n int) ([]page.PageID, error) {
	pids := make([]page.PageID, 0, n)
	for i := 0; i < n; i++ {
		pid, err := sc.vol.AllocPage(ctx, vol)
		if err != nil {
			return nil, fmt.Errorf("allocating leaf page %d: %w", i, err)
		}
		buf := make([]byte, sc.vol.PageSize())
		hdr := page.Header{Vol: vol, PageID: pid, Tag: page.TagLeaf}
		hdr.EncodeHeader(buf)
		pagecodec.InitLeaf(buf)
		sc.codec.StampChecksum(buf)
		if err := sc.vol.WritePage(ctx, vol, pid, buf); err != nil {
			return nil, fmt.Errorf("initializing leaf page %d: %w", pid, err)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// runWorkload fixes a random leaf exclusively, appends a log record for
// a fabricated write to it, applies the same write to the in-memory
// page, and unfixes it dirty, repeating ops times. It returns the
// number of operations that completed successfully.
func runWorkload(ctx context.Context, sc *storageCore, vol page.VolumeID, pids []page.PageID, ops int, rng *rand.Rand) (int64, error) {
	var completed int64
	for i := 0; i < ops; i++ {
		pid := pids[rng.Intn(len(pids))]

		h, err := sc.bpm.FixDirect(ctx, vol, page.FromDiskID(pid), latch.Exclusive, false)
		if err != nil {
			return completed, fmt.Errorf("fixing page %d: %w", pid, err)
		}

		payload := []byte(fmt.Sprintf("v%d", rng.Int63()))
		rec := engine.LogRecord{
			PageID:  pid,
			Offset:  uint32(page.HeaderSize),
			NewData: payload,
		}
		lsn, err := sc.log.Append(ctx, rec)
		if err != nil {
			h.Unfix(false)
			return completed, fmt.Errorf("appending log record: %w", err)
		}
		rec.LSN = lsn

		if err := sc.codec.ApplyRedo(h.Page().Data, rec); err != nil {
			h.Unfix(false)
			return completed, fmt.Errorf("applying write to page %d: %w", pid, err)
		}
		sc.bpm.SetDirty(h)
		h.Unfix(true)
		completed++
	}
	return completed, nil
}

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}
	cfg.Volume.Dir = filepath.Join(*dataDir, "volumes")
	cfg.WAL.LogDir = filepath.Join(*dataDir, "wal")
	cfg.WAL.ArchiveDir = filepath.Join(*dataDir, "wal", "archive")
	cfg.Backup.Dir = filepath.Join(*dataDir, "backup")

	ctx := context.Background()

	sc, err := initStorageCore(ctx, cfg)
	if err != nil {
		log.Fatalf("initializing storage core: %v", err)
	}

	vol := page.VolumeID(*volumeID)
	store := page.StoreID(*storeID)

	if err := sc.mount(ctx, vol, []page.StoreID{store}); err != nil {
		log.Fatalf("mounting volume: %v", err)
	}

	pids, err := sc.allocateLeaves(ctx, vol, *leafPages)
	if err != nil {
		sc.close(ctx, vol)
		log.Fatalf("allocating leaf pages: %v", err)
	}

	sc.logger.Info("workload starting",
		zap.Int("workers", *workers), zap.Int("ops_per_worker", *opsPerWorker), zap.Int("leaf_pages", len(pids)))

	var total int64
	var wg sync.WaitGroup
	start := time.Now()
	errCh := make(chan error, *workers)
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			n, err := runWorkload(ctx, sc, vol, pids, *opsPerWorker, rng)
			atomic.AddInt64(&total, n)
			if err != nil {
				errCh <- err
			}
		}(int64(w) + 1)
	}
	wg.Wait()
	close(errCh)
	elapsed := time.Since(start)

	for err := range errCh {
		sc.logger.Warn("workload goroutine reported an error", zap.Error(err))
	}

	fmt.Fprintf(os.Stdout, "completed %d operations in %s (%.0f ops/sec)\n",
		total, elapsed, float64(total)/elapsed.Seconds())

	sc.close(ctx, vol)
}
