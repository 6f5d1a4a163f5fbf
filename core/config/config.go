// Package config loads the storage core's YAML configuration: pool
// sizing, the log consolidation array, WAL segment layout, and the
// ambient logging/telemetry config.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gojodb/storagecore/pkg/logger"
	"github.com/gojodb/storagecore/pkg/telemetry"
)

// BufferPoolConfig sizes the frame cache and its eviction behavior.
type BufferPoolConfig struct {
	FrameCount       uint32  `yaml:"frame_count"`
	PageSize         int     `yaml:"page_size"`
	SwizzlingEnabled bool    `yaml:"swizzling_enabled"`
	EvictBatchRatio  float64 `yaml:"evict_batch_ratio"`
	EvictRoundCap    int     `yaml:"evict_round_cap"`
}

// CArrayConfig sizes the log consolidation array.
type CArrayConfig struct {
	JoinWindowMicros int64 `yaml:"join_window_micros"`
}

// WALConfig lays out the write-ahead log's segment files.
type WALConfig struct {
	LogDir           string `yaml:"log_dir"`
	ArchiveDir       string `yaml:"archive_dir"`
	SegmentSizeBytes int64  `yaml:"segment_size_bytes"`
}

// BackupConfig locates the per-page snapshot directory SPR falls back
// to when a page's on-disk image is corrupt.
type BackupConfig struct {
	Dir string `yaml:"dir"`
}

// VolumeConfig locates the volume files the buffer pool mounts.
type VolumeConfig struct {
	Dir      string `yaml:"dir"`
	PageSize int    `yaml:"page_size"`
}

// Config is the top-level YAML document.
type Config struct {
	BufferPool BufferPoolConfig `yaml:"buffer_pool"`
	CArray     CArrayConfig     `yaml:"carray"`
	WAL        WALConfig        `yaml:"wal"`
	Backup     BackupConfig     `yaml:"backup"`
	Volume     VolumeConfig     `yaml:"volume"`
	Logger     logger.Config    `yaml:"logger"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
}

// Default returns a Config with the values used when a field is left
// out of the YAML document.
func Default() Config {
	return Config{
		BufferPool: BufferPoolConfig{
			FrameCount:       4096,
			PageSize:         8192,
			SwizzlingEnabled: true,
			EvictBatchRatio:  0.05,
			EvictRoundCap:    64,
		},
		CArray: CArrayConfig{JoinWindowMicros: 0},
		WAL: WALConfig{
			LogDir:           "data/wal",
			ArchiveDir:       "data/wal/archive",
			SegmentSizeBytes: 64 << 20,
		},
		Backup: BackupConfig{Dir: "data/backup"},
		Volume: VolumeConfig{Dir: "data/volumes", PageSize: 8192},
		Logger: logger.Config{Level: "info", Format: "json", OutputFile: "stdout"},
	}
}

// Load reads and parses a YAML config file at path, filling in
// Default() for anything the document omits.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
