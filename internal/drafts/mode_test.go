package drafts

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeInitializeRestoresWithoutNotifying(t *testing.T) {
	state := newMemState()
	state.values[ModeStateKey] = true
	flag := &recordingFlag{}
	m := NewMode(state, flag)

	notified := 0
	m.OnDidChange(func(bool) { notified++ })
	require.NoError(t, m.Initialize())

	assert.True(t, m.Enabled())
	assert.Equal(t, []bool{true}, flag.Calls())
	assert.Equal(t, 0, notified)
}

func TestModeTransitions(t *testing.T) {
	state := newMemState()
	flag := &recordingFlag{}
	m := NewMode(state, flag)
	require.NoError(t, m.Initialize())

	var seen []bool
	m.OnDidChange(func(v bool) { seen = append(seen, v) })

	require.NoError(t, m.Enable())
	require.NoError(t, m.Enable())
	assert.True(t, m.Enabled())
	assert.True(t, state.values[ModeStateKey])

	next, err := m.Toggle()
	require.NoError(t, err)
	assert.False(t, next)
	require.NoError(t, m.Disable())

	next, err = m.Toggle()
	require.NoError(t, err)
	assert.True(t, next)

	assert.Equal(t, []bool{true, false, true}, seen)
	assert.Equal(t, []bool{false, true, false, true}, flag.Calls())
}

func TestModeSaveFailureStillSwitches(t *testing.T) {
	state := newMemState()
	state.err = errors.New("read-only file system")
	m := NewMode(state, nil)

	var seen []bool
	m.OnDidChange(func(v bool) { seen = append(seen, v) })

	err := m.Enable()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only file system")
	assert.True(t, m.Enabled())
	assert.Equal(t, []bool{true}, seen)
}

func TestModeDispose(t *testing.T) {
	m := NewMode(newMemState(), nil)
	notified := 0
	m.OnDidChange(func(bool) { notified++ })
	m.OnDidChange(func(bool) { panic("listener gone") })

	require.NoError(t, m.Enable())
	m.Dispose()
	require.NoError(t, m.Disable())

	assert.Equal(t, 1, notified)
	assert.False(t, m.Enabled())
}

func TestModeConcurrentTogglesEachTransition(t *testing.T) {
	m := NewMode(newMemState(), &recordingFlag{})
	require.NoError(t, m.Initialize())

	var notified atomic.Int32
	m.OnDidChange(func(bool) { notified.Add(1) })

	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		enabled int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := m.Toggle()
			assert.NoError(t, err)
			if next {
				mu.Lock()
				enabled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, n/2, enabled)
	assert.Equal(t, int32(n), notified.Load())
	assert.False(t, m.Enabled())
}
