package fsdoc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/redmine-drafts/internal/storage"
)

func TestReadMissing(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nested", "drafts.json"))
	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	s = New(filepath.Join(t.TempDir(), "drafts.json"))
	_, err = s.Read(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWriteCreatesDirectoryAndReplaces(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "drafts.json")
	s := New(path)

	require.NoError(t, s.Write(ctx, []byte(`{"version":1}`)))
	require.NoError(t, s.Write(ctx, []byte(`{"version":1,"operations":[]}`)))

	data, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1,"operations":[]}`, string(data))

	// Only the document and its lock file remain.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"drafts.json", "drafts.json.lock"}, names)
}

func TestConcurrentWritersNeverTear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "drafts.json")
	s := New(path)

	docs := []string{"aaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbbbbbb", "cccc"}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(doc string) {
			defer wg.Done()
			assert.NoError(t, s.Write(ctx, []byte(doc)))
		}(docs[i%len(docs)])
	}
	wg.Wait()

	data, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, docs, string(data))
}

func TestWriteTimesOutWhileAnotherProcessHoldsLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "drafts.json")
	s := New(path)
	require.NoError(t, s.Write(ctx, []byte("first")))

	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	s.lockTimeout = 100 * time.Millisecond
	err = s.Write(ctx, []byte("second"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting for exclusive lock")

	require.NoError(t, other.Unlock())
	data, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}
