// Package memory is an in-process storage.Document for tests. It records
// every write, can be told to fail, and can hold writes until released so
// tests can observe write ordering.
package memory

import (
	"context"
	"sync"

	"github.com/steveyegge/redmine-drafts/internal/storage"
)

// Store is an in-memory storage.Document.
type Store struct {
	mu       sync.Mutex
	data     []byte
	exists   bool
	writes   [][]byte
	inFlight int
	maxIn    int

	readErr    error
	writeErr   error
	failWrites int

	gate chan struct{}
}

var _ storage.Document = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Seed sets the stored document without recording a write.
func (s *Store) Seed(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	s.exists = true
}

// Read returns the stored document or storage.ErrNotFound.
func (s *Store) Read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	if !s.exists {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), s.data...), nil
}

// Write stores data. When writes are held it blocks until Release or ctx
// is done.
func (s *Store) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxIn {
		s.maxIn = s.inFlight
	}
	gate := s.gate
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites > 0 {
		s.failWrites--
		return s.writeErr
	}
	s.data = append([]byte(nil), data...)
	s.exists = true
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

// Hold makes subsequent writes block until Release is called.
func (s *Store) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
}

// Release unblocks held writes.
func (s *Store) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// FailWrites makes the next n writes return err without storing anything.
func (s *Store) FailWrites(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
	s.writeErr = err
}

// FailReads makes Read return err until called again with nil.
func (s *Store) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// Data returns the current document.
func (s *Store) Data() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

// Writes returns every successful write in completion order.
func (s *Store) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

// InFlight returns the number of writes currently inside Write.
func (s *Store) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// MaxInFlight returns the highest number of concurrent writes observed.
func (s *Store) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxIn
}
