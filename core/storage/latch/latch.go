// Package latch implements the per-frame multi-mode latch: Shared
// (SH), Exclusive (EX), and the optimistic Q mode validated by a
// ticket. This is a physical, page-granularity lock, distinct from
// the transaction layer's record locks.
package latch

import (
	"sync"
	"sync/atomic"
)

// Mode names the latch mode a caller wants or holds.
type Mode int

const (
	None Mode = iota
	Shared
	Exclusive
)

// Ticket is the version token handed out by AcquireQ. Validate compares
// it against the latch's current epoch: any intervening exclusive
// acquisition bumps the epoch, so a ticket taken before that acquisition
// is invalidated even if the writer has already released by the time the
// reader checks.
type Ticket struct {
	epoch uint64
}

// Latch is a reader/writer latch with an additional lock-free optimistic
// read mode. SH allows unlimited concurrent holders and blocks EX. EX is
// exclusive and bumps the epoch counter on both acquire and release so Q
// tickets spanning either edge are invalidated. Q never blocks: it hands
// out a snapshot of the epoch and the caller must Validate after use.
type Latch struct {
	mu    sync.RWMutex
	epoch atomic.Uint64 // bumped on every EX Acquire and every EX Release
}

// AcquireShared blocks until a shared latch is held.
func (l *Latch) AcquireShared() {
	l.mu.RLock()
}

// TryAcquireShared attempts a non-blocking shared acquire.
func (l *Latch) TryAcquireShared() bool {
	return l.mu.TryRLock()
}

// ReleaseShared releases a previously acquired shared latch.
func (l *Latch) ReleaseShared() {
	l.mu.RUnlock()
}

// AcquireExclusive blocks until an exclusive latch is held.
func (l *Latch) AcquireExclusive() {
	l.mu.Lock()
	l.bumpEpoch()
}

// TryAcquireExclusive attempts a non-blocking exclusive acquire.
func (l *Latch) TryAcquireExclusive() bool {
	if !l.mu.TryLock() {
		return false
	}
	l.bumpEpoch()
	return true
}

// ReleaseExclusive releases a previously acquired exclusive latch. The
// epoch is bumped again so a Q ticket taken *during* the EX section (by a
// thread that raced in via AcquireQ, which never blocks) is also
// invalidated once the writer lets go.
func (l *Latch) ReleaseExclusive() {
	l.bumpEpoch()
	l.mu.Unlock()
}

// UpgradeSharedToExclusive is conditional-only: it never blocks. On
// success the caller now holds EX instead of SH. On failure the
// caller still holds SH.
func (l *Latch) UpgradeSharedToExclusive() bool {
	l.mu.RUnlock()
	if l.mu.TryLock() {
		l.bumpEpoch()
		return true
	}
	l.mu.RLock()
	return false
}

// DowngradeExclusiveToShared is unconditional and always succeeds.
func (l *Latch) DowngradeExclusiveToShared() {
	l.bumpEpoch()
	l.mu.Unlock()
	l.mu.RLock()
}

// AcquireQ hands out an optimistic-read ticket. It never blocks and never
// conflicts with anyone; the caller must call Validate after reading the
// page data and before trusting what it read.
func (l *Latch) AcquireQ() Ticket {
	return Ticket{epoch: l.currentEpoch()}
}

// Validate reports whether no exclusive acquisition has started or ended
// since the ticket was issued.
func (l *Latch) Validate(t Ticket) bool {
	return l.currentEpoch() == t.epoch
}

func (l *Latch) currentEpoch() uint64 {
	return l.epoch.Load()
}

func (l *Latch) bumpEpoch() {
	l.epoch.Add(1)
}
