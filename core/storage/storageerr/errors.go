// Package storageerr collects the sentinel errors shared across the
// storage core as a single flat list of package-level error values
// rather than a typed hierarchy.
package storageerr

import "errors"

var (
	// ErrLatchQFail is returned when a Q-mode validation fails and the
	// caller must retry with a blocking latch instead.
	ErrLatchQFail = errors.New("storageerr: optimistic latch validation failed")

	// ErrParentLatchQFail is returned when the parent's Q ticket used to
	// reach a child failed validation, meaning the descent must restart
	// from the root.
	ErrParentLatchQFail = errors.New("storageerr: parent optimistic latch validation failed")

	// ErrDirectFixSwizzled is returned when fix_direct is called with a
	// swizzled child pointer, which it cannot resolve without a parent
	// latch.
	ErrDirectFixSwizzled = errors.New("storageerr: fix_direct cannot resolve a swizzled child pointer")

	// ErrOutOfBuffer is returned when the buffer pool cannot find a
	// victim frame to evict (all frames pinned or dependent).
	ErrOutOfBuffer = errors.New("storageerr: buffer pool exhausted, no evictable frame")

	// ErrOutOfLogSpace is returned when the log cannot reserve space for
	// a consolidation-array group (the group is larger than a whole
	// segment); every member of that group receives it.
	ErrOutOfLogSpace = errors.New("storageerr: log cannot reserve space for the record group")

	// ErrWODCycle is returned when registering a write-order dependency
	// would close a cycle.
	ErrWODCycle = errors.New("storageerr: write-order dependency would form a cycle")

	// ErrCorruptPage is returned when a page fails its checksum or
	// header validation on read.
	ErrCorruptPage = errors.New("storageerr: page failed checksum or header validation")

	// ErrIO is returned for any underlying volume I/O failure; callers
	// should unwrap with errors.Unwrap for the cause.
	ErrIO = errors.New("storageerr: volume I/O failure")

	// ErrPageNotFound is returned when a requested page-id does not
	// exist on the volume (distinct from ErrCorruptPage).
	ErrPageNotFound = errors.New("storageerr: page not found")

	// ErrPagePinned is returned when an operation that requires an
	// unpinned frame (e.g. deleteBlock) finds it still pinned.
	ErrPagePinned = errors.New("storageerr: page is pinned")

	// ErrFrameNotPinned is returned when Unpin is called on a frame the
	// caller does not currently hold a pin on.
	ErrFrameNotPinned = errors.New("storageerr: frame is not pinned by caller")

	// ErrVolumeNotMounted is returned when an operation names a volume
	// id the pool has not mounted.
	ErrVolumeNotMounted = errors.New("storageerr: volume not mounted")

	// ErrNoBackupImage is returned when single-page recovery needs a
	// backup image and the backup manager has none for the page.
	ErrNoBackupImage = errors.New("storageerr: no backup image available for page")

	// ErrRecoveryRequired is returned when an access is attempted on a
	// page still marked in-doubt by log analysis.
	ErrRecoveryRequired = errors.New("storageerr: page is in-doubt pending recovery")

	// ErrWouldBlock is returned by a conditional fix or latch operation
	// that would otherwise have to block.
	ErrWouldBlock = errors.New("storageerr: operation would block")
)
