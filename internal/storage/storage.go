// Package storage defines the byte-document persistence collaborator used
// by the draft queue. Implementations live in the fsdoc (file on disk) and
// memory (tests) sub-packages.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when no document has been written yet.
var ErrNotFound = errors.New("not found")

// Document stores a single opaque document. Write replaces it atomically:
// a reader sees either the previous document or the new one, never a mix.
type Document interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}
