package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_IsSelfConsistent(t *testing.T) {
	cfg := Default()
	require.Equal(t, uint32(4096), cfg.BufferPool.FrameCount)
	require.True(t, cfg.BufferPool.SwizzlingEnabled)
	require.Equal(t, "data/wal", cfg.WAL.LogDir)
	require.Equal(t, "info", cfg.Logger.Level)
}

func TestLoad_OverlaysOnlyFieldsPresentInFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
buffer_pool:
  frame_count: 128
wal:
  log_dir: /var/lib/storagecore/wal
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, uint32(128), cfg.BufferPool.FrameCount)
	require.Equal(t, "/var/lib/storagecore/wal", cfg.WAL.LogDir)

	// Fields absent from the document keep Default()'s values.
	require.True(t, cfg.BufferPool.SwizzlingEnabled)
	require.Equal(t, 8192, cfg.BufferPool.PageSize)
	require.Equal(t, "data/wal/archive", cfg.WAL.ArchiveDir)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
