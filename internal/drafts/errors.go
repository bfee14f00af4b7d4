package drafts

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoaded is returned by Queue mutations before Load has succeeded.
	ErrNotLoaded = errors.New("draft queue not loaded")

	// ErrUnknownPlaceholder is returned when a write targets a negative id
	// that no queued create handed out.
	ErrUnknownPlaceholder = errors.New("unknown draft placeholder id")

	// ErrOperationNotFound is returned by ApplyOne for an id not in the queue.
	ErrOperationNotFound = errors.New("draft operation not found")
)

// IdentityConflictError is returned by Load when the persisted queue
// belongs to a different server identity and still has pending drafts.
// Load again with Force to discard them.
type IdentityConflictError struct {
	Pending int
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("draft queue belongs to a different Redmine server or API key and has %d pending draft(s)", e.Pending)
}

// IsIdentityConflict reports whether err is an IdentityConflictError and
// returns it.
func IsIdentityConflict(err error) (*IdentityConflictError, bool) {
	var conflict *IdentityConflictError
	ok := errors.As(err, &conflict)
	return conflict, ok
}

// PersistError reports a queue change that was applied in memory but could
// not be saved. The queue stays usable; the next successful write saves it.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return "failed to save draft queue: " + e.Err.Error()
}

func (e *PersistError) Unwrap() error { return e.Err }
