package carray

import (
	"sync"
	"sync/atomic"
)

// AllSlotCount and ActiveSlotCount size the slot bank and the window
// of slots open to new joiners at any time, respectively.
const (
	AllSlotCount    = 256
	ActiveSlotCount = 5
)

// Status sentinels.
// Any non-negative value is a live, accumulating slot packed as
// (thread_count<<32 | total_bytes); the sentinels below are always
// negative and so are unambiguous against any legitimate packed value.
const (
	statusAvailable    int64 = 0
	statusUnused       int64 = -1
	statusPending      int64 = -2
	statusFinishedBase int64 = -4
)

func packJoin(count, bytes int64) int64 {
	return count<<32 | (bytes & 0xffffffff)
}

func unpack(status int64) (count, bytes int64) {
	return status >> 32, status & 0xffffffff
}

// Slot is one C-Array slot record. 256 are preallocated;
// at most ActiveSlotCount are open to new joiners at any time.
type Slot struct {
	status atomic.Int64

	lsn      atomic.Int64
	startPos atomic.Int64
	pos      atomic.Int64 // next unclaimed byte offset within [startPos, newEnd)
	newEnd   atomic.Int64
	newBase  atomic.Int64
	oldEnd   atomic.Int64

	remaining atomic.Int64 // members that have not yet left (by Expose or by returning an error)

	errMu sync.Mutex
	err   error

	pubCh atomic.Pointer[chan struct{}]
}

func newSlot() *Slot {
	s := &Slot{}
	s.status.Store(statusUnused)
	ch := make(chan struct{})
	close(ch)
	s.pubCh.Store(&ch)
	return s
}

// activate resets a retired/unused slot back to AVAILABLE with a fresh
// publish channel for the next group's lifecycle.
func (s *Slot) activate() {
	ch := make(chan struct{})
	s.pubCh.Store(&ch)
	s.lsn.Store(0)
	s.startPos.Store(0)
	s.pos.Store(0)
	s.newEnd.Store(0)
	s.newBase.Store(0)
	s.oldEnd.Store(0)
	s.remaining.Store(0)
	s.errMu.Lock()
	s.err = nil
	s.errMu.Unlock()
	s.status.Store(statusAvailable)
}

func (s *Slot) waitPublished() {
	ch := s.pubCh.Load()
	<-*ch
}

func (s *Slot) publish() {
	ch := s.pubCh.Load()
	close(*ch)
}

func (s *Slot) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

func (s *Slot) getErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}
