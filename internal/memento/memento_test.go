package memento

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileMissingReadsEmpty(t *testing.T) {
	f := Open(filepath.Join(t.TempDir(), "nested", FileName))
	v, err := f.GetBool("drafts.enabled")
	require.NoError(t, err)
	assert.False(t, v)

	s, err := f.GetString("last.apply")
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	f := Open(path)

	require.NoError(t, f.SetBool("drafts.enabled", true))
	require.NoError(t, f.SetString("last.apply", "2026-10-15T09:00:00Z"))

	reopened := Open(path)
	v, err := reopened.GetBool("drafts.enabled")
	require.NoError(t, err)
	assert.True(t, v)
	s, err := reopened.GetString("last.apply")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-15T09:00:00Z", s)

	require.NoError(t, reopened.SetString("last.apply", ""))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "last.apply")
	v, err = Open(path).GetBool("drafts.enabled")
	require.NoError(t, err)
	assert.True(t, v)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("flags = [[["), 0o600))

	_, err := Open(path).GetBool("drafts.enabled")
	assert.Error(t, err)
	assert.Error(t, Open(path).SetBool("drafts.enabled", true))
}

func TestMarkers(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "flags")
	m := NewMarkers(dir)

	assert.False(t, m.IsSet("rd.draftMode"))
	require.NoError(t, m.SetContext("rd.draftMode", false))

	require.NoError(t, m.SetContext("rd.draftMode", true))
	assert.True(t, m.IsSet("rd.draftMode"))
	assert.FileExists(t, filepath.Join(dir, "rd.draftMode.on"))

	require.NoError(t, m.SetContext("rd.draftMode", true))
	require.NoError(t, m.SetContext("rd.draftMode", false))
	assert.False(t, m.IsSet("rd.draftMode"))
}
