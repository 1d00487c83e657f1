// Package errors defines sentinel errors shared by the storesync components.
package errors

import "errors"

var (
	// ErrLockNotAcquired is returned by RunExclusive when the lock could not
	// be obtained within the wait budget. Proceeding without the lock would
	// break the caller's exclusivity assumption, so this is surfaced rather
	// than swallowed.
	ErrLockNotAcquired = errors.New("lock not acquired")
)
