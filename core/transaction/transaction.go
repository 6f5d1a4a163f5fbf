// Package transaction keeps the transaction-state surface the storage
// core needs: the state enum of the transaction a dirtying update
// belongs to, and the Clock collaborator that supplies the current LSN
// when a page is first dirtied. The full two-phase commit/rollback
// protocol is out of this core's scope and is not reimplemented here; this
// package keeps only what set_dirty and WOD registration need from it.
package transaction

import "github.com/gojodb/storagecore/core/storage/page"

// TransactionState is the in-memory state of a transaction on a
// participant, kept from the full transaction manager this core does
// not otherwise implement.
type TransactionState int

const (
	StateRunning   TransactionState = iota // active, operations are being applied
	StatePrepared                          // voted COMMIT, waiting for a global decision
	StateCommitted                         // received COMMIT decision
	StateAborted                           // received ABORT decision or decided to abort locally
)

// Clock is the transaction-layer collaborator the buffer pool consults
// when a page is first dirtied.
type Clock interface {
	// CurrentLSN returns the LSN that should be recorded as a page's
	// rec_lsn when it transitions from clean to dirty.
	CurrentLSN() page.LSN
}

// StaticClock adapts a bare LSN-returning function to Clock, for a
// standalone engine instance where the log manager itself is the
// authority on "current" (no distributed coordinator above it).
type StaticClock struct {
	Source func() page.LSN
}

func (c StaticClock) CurrentLSN() page.LSN {
	if c.Source == nil {
		return page.InvalidLSN
	}
	return c.Source()
}
