package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the scope is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrNotFound is returned when a board, section or task does not exist
	// for the requesting user.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks a request the service refuses to apply.
	ErrValidation = errors.New("invalid request")
)

// PartialWriteError reports a batched position write that committed some
// chunks before failing. The scope is displayable but may hold duplicate or
// missing positions until it is reindexed again.
type PartialWriteError struct {
	Committed int
	Total     int
	Err       error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("position write committed %d of %d rows: %v", e.Committed, e.Total, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
