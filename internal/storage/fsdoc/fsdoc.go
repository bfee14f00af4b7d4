// Package fsdoc stores a document as a single file. Writes go to a temp
// file in the same directory and are renamed over the target, and both
// reads and writes hold a flock on a sibling ".lock" file so that two rd
// processes never interleave.
package fsdoc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/steveyegge/redmine-drafts/internal/debug"
	"github.com/steveyegge/redmine-drafts/internal/storage"
	"github.com/steveyegge/redmine-drafts/internal/utils"
)

const (
	// LockTimeout bounds how long a read or write waits for another process.
	LockTimeout = 10 * time.Second

	lockPollInterval = 50 * time.Millisecond
)

// Store is a file-backed storage.Document.
type Store struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
}

var _ storage.Document = (*Store)(nil)

// New returns a Store for path. The file and its directory are created on
// the first Write.
func New(path string) *Store {
	return &Store{
		path:        path,
		lockPath:    path + ".lock",
		lockTimeout: LockTimeout,
	}
}

// Path returns the document path.
func (s *Store) Path() string { return s.path }

// Read returns the document, or storage.ErrNotFound if it does not exist.
func (s *Store) Read(ctx context.Context) ([]byte, error) {
	if _, err := os.Stat(filepath.Dir(s.path)); errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	unlock, err := s.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return data, nil
}

// Write atomically replaces the document with data.
func (s *Store) Write(ctx context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	unlock, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	return utils.WriteFileAtomic(s.path, data, 0o600)
}

func (s *Store) acquire(ctx context.Context, exclusive bool) (func(), error) {
	// A fresh Flock per acquisition: a shared *flock.Flock reports an
	// already-held lock as acquired, which would let goroutines overlap.
	lock := flock.New(s.lockPath)
	mode := "shared"
	try := lock.TryRLockContext
	if exclusive {
		mode = "exclusive"
		try = lock.TryLockContext
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	start := time.Now()
	locked, err := try(lockCtx, lockPollInterval)
	if err != nil || !locked {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("timeout waiting for %s lock on %s after %v (another rd process may be writing drafts)",
			mode, s.path, time.Since(start).Round(time.Millisecond))
	}
	debug.Logf("acquired %s lock: %s\n", mode, lock.Path())
	return func() {
		if err := lock.Unlock(); err != nil {
			debug.Logf("failed to release lock %s: %v\n", lock.Path(), err)
		}
	}, nil
}
