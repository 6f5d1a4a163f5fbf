// Package volume implements the file-backed Volume collaborator: one
// OS file per mounted volume id, with a per-store root page directory
// carried in the volume header.
package volume

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gojodb/storagecore/core/storage/page"
	"github.com/gojodb/storagecore/core/storage/storageerr"
)

type volFile struct {
	mu       sync.Mutex
	f        *os.File
	header   Header
	numPages uint64
}

// FileVolume implements engine.Volume over a directory of files, one
// per mounted page.VolumeID.
type FileVolume struct {
	mu       sync.RWMutex
	dir      string
	pageSize int
	files    map[page.VolumeID]*volFile
}

// New constructs a FileVolume rooted at dir (created if absent).
func New(dir string, pageSize int) (*FileVolume, error) {
	if pageSize <= 0 {
		pageSize = page.DefaultPageSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", storageerr.ErrIO, err)
	}
	return &FileVolume{dir: dir, pageSize: pageSize, files: make(map[page.VolumeID]*volFile)}, nil
}

func (fv *FileVolume) path(vol page.VolumeID) string {
	return filepath.Join(fv.dir, fmt.Sprintf("vol-%d.gojodb", uint32(vol)))
}

// Mount opens vol's file, creating and initializing it if it does not
// yet exist.
func (fv *FileVolume) Mount(vol page.VolumeID) error {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	if _, ok := fv.files[vol]; ok {
		return nil
	}

	p := fv.path(vol)
	_, statErr := os.Stat(p)
	create := os.IsNotExist(statErr)

	var f *os.File
	var err error
	var header Header

	if create {
		f, err = os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return fmt.Errorf("%w: creating volume file %s: %v", storageerr.ErrIO, p, err)
		}
		header = newHeader(fv.pageSize)
		header.NumPages = 1
		if err := writeHeaderPage(f, header, fv.pageSize); err != nil {
			f.Close()
			os.Remove(p)
			return err
		}
	} else {
		f, err = os.OpenFile(p, os.O_RDWR, 0o644)
		if err != nil {
			return fmt.Errorf("%w: opening volume file %s: %v", storageerr.ErrIO, p, err)
		}
		buf := make([]byte, fv.pageSize)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return fmt.Errorf("%w: reading header of %s: %v", storageerr.ErrIO, p, err)
		}
		header, err = decodeHeader(buf)
		if err != nil {
			f.Close()
			return err
		}
		if header.PageSize != uint32(fv.pageSize) {
			f.Close()
			return fmt.Errorf("volume: %s page size %d does not match configured %d", p, header.PageSize, fv.pageSize)
		}
	}

	fv.files[vol] = &volFile{f: f, header: header, numPages: header.NumPages}
	return nil
}

func writeHeaderPage(f *os.File, h Header, pageSize int) error {
	page := make([]byte, pageSize)
	copy(page, h.encode())
	if _, err := f.WriteAt(page, 0); err != nil {
		return fmt.Errorf("%w: writing header: %v", storageerr.ErrIO, err)
	}
	return f.Sync()
}

func (fv *FileVolume) get(vol page.VolumeID) (*volFile, error) {
	fv.mu.RLock()
	defer fv.mu.RUnlock()
	vf, ok := fv.files[vol]
	if !ok {
		return nil, storageerr.ErrVolumeNotMounted
	}
	return vf, nil
}

// ReadPage implements engine.Volume.
func (fv *FileVolume) ReadPage(ctx context.Context, vol page.VolumeID, pid page.PageID, buf []byte) error {
	vf, err := fv.get(vol)
	if err != nil {
		return err
	}
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if len(buf) != fv.pageSize {
		return fmt.Errorf("volume: buffer size %d != page size %d", len(buf), fv.pageSize)
	}
	offset := int64(pid) * int64(fv.pageSize)
	n, err := vf.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: reading page %d: %v", storageerr.ErrIO, pid, err)
	}
	if n != fv.pageSize {
		return fmt.Errorf("%w: short read for page %d (%d/%d bytes)", storageerr.ErrIO, pid, n, fv.pageSize)
	}
	return nil
}

// WritePage implements engine.Volume.
func (fv *FileVolume) WritePage(ctx context.Context, vol page.VolumeID, pid page.PageID, buf []byte) error {
	vf, err := fv.get(vol)
	if err != nil {
		return err
	}
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if len(buf) != fv.pageSize {
		return fmt.Errorf("volume: buffer size %d != page size %d", len(buf), fv.pageSize)
	}
	offset := int64(pid) * int64(fv.pageSize)
	if _, err := vf.f.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("%w: writing page %d: %v", storageerr.ErrIO, pid, err)
	}
	return nil
}

// AllocPage implements engine.Volume by extending the file by one page.
func (fv *FileVolume) AllocPage(ctx context.Context, vol page.VolumeID) (page.PageID, error) {
	vf, err := fv.get(vol)
	if err != nil {
		return page.InvalidPageID, err
	}
	vf.mu.Lock()
	defer vf.mu.Unlock()

	pid := page.PageID(vf.numPages)
	empty := make([]byte, fv.pageSize)
	offset := int64(pid) * int64(fv.pageSize)
	if _, err := vf.f.WriteAt(empty, offset); err != nil {
		return page.InvalidPageID, fmt.Errorf("%w: extending volume for page %d: %v", storageerr.ErrIO, pid, err)
	}
	vf.numPages++
	vf.header.NumPages = vf.numPages
	return pid, nil
}

// PageSize implements engine.Volume.
func (fv *FileVolume) PageSize() int { return fv.pageSize }

// RootPageID returns the store's recorded root page id, if any.
func (fv *FileVolume) RootPageID(vol page.VolumeID, store page.StoreID) (page.PageID, bool) {
	vf, err := fv.get(vol)
	if err != nil {
		return page.InvalidPageID, false
	}
	vf.mu.Lock()
	defer vf.mu.Unlock()
	pid := vf.header.RootPageID(store)
	return pid, pid != page.InvalidPageID
}

// SetRootPageID persists store's root page id into vol's header.
func (fv *FileVolume) SetRootPageID(vol page.VolumeID, store page.StoreID, pid page.PageID) error {
	vf, err := fv.get(vol)
	if err != nil {
		return err
	}
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if err := vf.header.setRootPageID(store, pid); err != nil {
		return err
	}
	return writeHeaderPage(vf.f, vf.header, fv.pageSize)
}

// Sync flushes vol's file to stable storage.
func (fv *FileVolume) Sync(vol page.VolumeID) error {
	vf, err := fv.get(vol)
	if err != nil {
		return err
	}
	vf.mu.Lock()
	defer vf.mu.Unlock()
	return vf.f.Sync()
}

// Unmount closes vol's file after syncing it.
func (fv *FileVolume) Unmount(vol page.VolumeID) error {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	vf, ok := fv.files[vol]
	if !ok {
		return nil
	}
	err := vf.f.Sync()
	closeErr := vf.f.Close()
	delete(fv.files, vol)
	if err != nil {
		return err
	}
	return closeErr
}
