package memento

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MarkerSuffix is appended to a key to form its marker file name.
const MarkerSuffix = ".on"

// Markers publishes boolean flags as empty files in a directory, so shell
// prompts and editor integrations can test for them without running rd.
// A flag is set while "<dir>/<key>.on" exists.
type Markers struct {
	dir string
}

// NewMarkers returns Markers rooted at dir.
func NewMarkers(dir string) *Markers {
	return &Markers{dir: dir}
}

// MarkerPath returns the marker file for key.
func (m *Markers) MarkerPath(key string) string {
	name := strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(key)
	return filepath.Join(m.dir, name+MarkerSuffix)
}

// SetContext creates or removes the marker file for key.
func (m *Markers) SetContext(key string, value bool) error {
	path := m.MarkerPath(key)
	if !value {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
		return nil
	}
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", m.dir, err)
	}
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// IsSet reports whether the marker for key exists.
func (m *Markers) IsSet(key string) bool {
	_, err := os.Stat(m.MarkerPath(key))
	return err == nil
}
