package conjcache

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps every transport/server failure of the store.
	// It is never retried here.
	ErrStoreUnavailable = errors.New("conjcache: store unavailable")

	// ErrRetryBudgetExceeded means invalidation did not converge. Caches of the
	// entity type may still hold stale entries.
	ErrRetryBudgetExceeded = errors.New("conjcache: invalidation retry budget exceeded")

	// ErrTxConflict marks a watch conflict. It only surfaces wrapped together
	// with ErrRetryBudgetExceeded.
	ErrTxConflict = errors.New("conjcache: transaction conflict")

	ErrEmptyEntityType = errors.New("conjcache: empty entity type")
	ErrCorruptVersion  = errors.New("conjcache: corrupt scheme version")
)

// StoreError is a failed store round-trip.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("conjcache: store %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("conjcache: store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

func storeErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Err: err}
}

// InvalidateError reports an invalidation that ran out of attempts.
type InvalidateError struct {
	EntityType string
	Attempts   int // scheme-version attempts made
	Conflicts  int // watch conflicts absorbed along the way
	Err        error
}

func (e *InvalidateError) Error() string {
	return fmt.Sprintf("invalidate %q: gave up after %d attempts (%d conflicts): %v",
		e.EntityType, e.Attempts, e.Conflicts, e.Err)
}

func (e *InvalidateError) Unwrap() error { return e.Err }
