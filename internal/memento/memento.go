// Package memento persists small pieces of rd state between runs, such as
// whether draft mode is on, in a TOML file next to the config.
package memento

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/steveyegge/redmine-drafts/internal/utils"
)

// FileName is the default state file name inside the rd home directory.
const FileName = "state.toml"

type document struct {
	Flags   map[string]bool   `toml:"flags,omitempty"`
	Strings map[string]string `toml:"strings,omitempty"`
}

// File is a key/value store backed by a TOML file. Every Set rewrites the
// whole file; a missing file reads as empty.
type File struct {
	path string
	mu   sync.Mutex
}

// Open returns a File for path. Nothing is read until the first Get.
func Open(path string) *File {
	return &File{path: path}
}

// Path returns the state file path.
func (f *File) Path() string { return f.path }

func (f *File) load() (document, error) {
	var doc document
	data, err := os.ReadFile(f.path) // #nosec G304 -- path comes from config
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", filepath.Base(f.path), err)
	}
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", filepath.Base(f.path), err)
	}
	return doc, nil
}

func (f *File) save(doc document) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return utils.WriteFileAtomic(f.path, buf.Bytes(), 0o600)
}

// GetBool returns the flag stored under key, or false if it is not set.
func (f *File) GetBool(key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return false, err
	}
	return doc.Flags[key], nil
}

// SetBool stores a flag.
func (f *File) SetBool(key string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	if doc.Flags == nil {
		doc.Flags = make(map[string]bool)
	}
	doc.Flags[key] = value
	return f.save(doc)
}

// GetString returns the string stored under key, or "".
func (f *File) GetString(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return "", err
	}
	return doc.Strings[key], nil
}

// SetString stores a string. An empty value deletes the key.
func (f *File) SetString(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	if value == "" {
		delete(doc.Strings, key)
	} else {
		if doc.Strings == nil {
			doc.Strings = make(map[string]string)
		}
		doc.Strings[key] = value
	}
	return f.save(doc)
}
