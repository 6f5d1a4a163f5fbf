package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("log_%05d.log", id))
}

type segmentInfo struct {
	path  string
	id    uint64
	start int64 // global LSN at the first byte of this segment
	size  int64
}

// listSegments scans both the active and archive directories and
// returns every segment in ascending id order with its global LSN
// range computed by summing sizes in order.
func listSegments(logDir, archiveDir string) ([]segmentInfo, error) {
	type raw struct {
		path string
		id   uint64
		size int64
	}
	var all []raw
	for _, dir := range []string{logDir, archiveDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("wal: reading %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasPrefix(e.Name(), "log_") || !strings.HasSuffix(e.Name(), ".log") {
				continue
			}
			idStr := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "log_"), ".log")
			id, err := strconv.ParseUint(idStr, 10, 64)
			if err != nil {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			all = append(all, raw{filepath.Join(dir, e.Name()), id, info.Size()})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })

	segs := make([]segmentInfo, 0, len(all))
	var pos int64
	for _, r := range all {
		segs = append(segs, segmentInfo{path: r.path, id: r.id, start: pos, size: r.size})
		pos += r.size
	}
	return segs, nil
}
