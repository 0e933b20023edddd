package core

import "github.com/pkg/errors"

// Error taxonomy shared by the scheduler, the buses and the storage layer.
// Callers match with errors.Is; the strings are stable and may be logged or
// compared by host tooling.
var (
	// Blocking operations
	ErrTimeout            = errors.New("timeout")
	ErrCriticalUnbalanced = errors.New("critical_unbalanced")

	// Fixed-capacity tables and the heap budget
	ErrResourceExhausted = errors.New("resource_exhausted")
	ErrStaleHandle       = errors.New("stale_handle")
	ErrDoubleFree        = errors.New("double_free")

	// Buses
	ErrTransactionFailed    = errors.New("transaction_failed")
	ErrInvalidConfiguration = errors.New("invalid_configuration")
	ErrModeConflict         = errors.New("mode_conflict")

	// Persistent data
	ErrChecksumMismatch = errors.New("checksum_mismatch")
	ErrNoStorage        = errors.New("no_storage")
)

// errorf attaches context to one of the sentinels above while keeping it
// matchable with errors.Is.
func errorf(sentinel error, format string, args ...interface{}) error {
	return errors.Wrapf(sentinel, format, args...)
}
