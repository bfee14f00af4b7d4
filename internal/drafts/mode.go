package drafts

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/steveyegge/redmine-drafts/internal/debug"
)

const (
	// ModeStateKey is the state key holding the persisted draft mode flag.
	ModeStateKey = "drafts.enabled"
	// ModeContextKey is the host-visible flag mirrored from draft mode.
	ModeContextKey = "rd.draftMode"
)

// StateStore persists small values across runs.
type StateStore interface {
	// GetBool returns false with a nil error for a missing key.
	GetBool(key string) (bool, error)
	SetBool(key string, value bool) error
}

// HostFlag publishes a boolean to the surrounding environment, such as a
// marker file a shell prompt can test for.
type HostFlag interface {
	SetContext(key string, value bool) error
}

// Switch reports whether drafting is on.
type Switch interface {
	Enabled() bool
}

// Mode is the draft mode switch. Each transition persists the new value,
// updates the host flag, and notifies subscribers.
type Mode struct {
	state StateStore
	flag  HostFlag

	mu      sync.Mutex
	enabled bool

	changes *emitter[bool]
}

var _ Switch = (*Mode)(nil)

// NewMode returns a disabled Mode. flag may be nil.
func NewMode(state StateStore, flag HostFlag) *Mode {
	return &Mode{
		state:   state,
		flag:    flag,
		changes: newEmitter[bool]("mode", debug.Named("drafts.mode")),
	}
}

// Initialize restores the persisted value and publishes it to the host
// flag. Subscribers are not notified.
func (m *Mode) Initialize() error {
	enabled, err := m.state.GetBool(ModeStateKey)
	if err != nil {
		return fmt.Errorf("failed to restore draft mode: %w", err)
	}
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
	return m.setFlag(enabled)
}

// Enabled reports whether draft mode is on.
func (m *Mode) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Enable turns draft mode on. It does nothing if already on.
func (m *Mode) Enable() error {
	return m.set(true)
}

// Disable turns draft mode off. It does nothing if already off.
func (m *Mode) Disable() error {
	return m.set(false)
}

// Toggle flips draft mode and returns the new value.
func (m *Mode) Toggle() (bool, error) {
	m.mu.Lock()
	next := !m.enabled
	m.enabled = next
	m.mu.Unlock()
	return next, m.publish(next)
}

func (m *Mode) set(enabled bool) error {
	m.mu.Lock()
	if m.enabled == enabled {
		m.mu.Unlock()
		return nil
	}
	m.enabled = enabled
	m.mu.Unlock()
	return m.publish(enabled)
}

// publish persists a transition that has already been made in memory and
// notifies subscribers.
func (m *Mode) publish(enabled bool) error {
	var errs []error
	if err := m.state.SetBool(ModeStateKey, enabled); err != nil {
		errs = append(errs, fmt.Errorf("failed to save draft mode: %w", err))
	}
	if err := m.setFlag(enabled); err != nil {
		errs = append(errs, err)
	}
	debug.Named("drafts.mode").Debug("draft mode changed", zap.Bool("enabled", enabled))
	m.changes.emit(enabled)
	return errors.Join(errs...)
}

func (m *Mode) setFlag(enabled bool) error {
	if m.flag == nil {
		return nil
	}
	if err := m.flag.SetContext(ModeContextKey, enabled); err != nil {
		return fmt.Errorf("failed to publish draft mode: %w", err)
	}
	return nil
}

// OnDidChange subscribes h to transitions; h receives the new value. The
// returned func unsubscribes.
func (m *Mode) OnDidChange(h func(enabled bool)) func() {
	return m.changes.subscribe(h)
}

// Dispose drops every subscriber. The persisted value is not touched.
func (m *Mode) Dispose() {
	m.changes.reset()
}
