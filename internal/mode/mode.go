// Package mode tracks the operator-controlled execution mode and the panic
// stop. The process always starts DISARMED with panic off; nothing is
// persisted, so a restart is itself a disarm.
package mode

import (
	"sync"
	"time"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

// ChangeFunc observes every mode or panic transition, for the audit ledger.
type ChangeFunc func(mode types.ExecMode, panicStop bool, at time.Time)

// Manager holds the current execution mode and panic flag. Panic forces the
// mode to DISARMED; leaving panic requires an explicit mode transition.
type Manager struct {
	mu        sync.RWMutex
	mode      types.ExecMode
	panicStop bool
	onChange  ChangeFunc
}

// NewManager creates a manager starting DISARMED, panic off.
func NewManager(onChange ChangeFunc) *Manager {
	return &Manager{mode: types.ModeDisarmed, onChange: onChange}
}

// Mode returns the current execution mode.
func (m *Manager) Mode() types.ExecMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// PanicStop reports whether the panic stop is active.
func (m *Manager) PanicStop() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.panicStop
}

// Snapshot returns the mode and panic flag as one consistent read.
func (m *Manager) Snapshot() (types.ExecMode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode, m.panicStop
}

// MayExecute reports whether a paper execution is currently permitted:
// armed in either mode and panic off.
func (m *Manager) MayExecute() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.panicStop && m.mode != types.ModeDisarmed
}

// IsAutoExecute reports whether queued plans execute without confirmation.
func (m *Manager) IsAutoExecute() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.panicStop && m.mode == types.ModeArmedAuto
}

// IsConfirmMode reports whether execution requires an explicit /confirm.
func (m *Manager) IsConfirmMode() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.panicStop && m.mode == types.ModeArmedConfirm
}

// Set transitions to the given mode. Any explicit transition leaves the
// panic state: panic is only entered via Panic.
func (m *Manager) Set(mode types.ExecMode, at time.Time) {
	m.mu.Lock()
	m.mode = mode
	m.panicStop = false
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil {
		cb(mode, false, at)
	}
}

// Panic raises the panic stop and disarms. Idempotent.
func (m *Manager) Panic(at time.Time) {
	m.mu.Lock()
	m.mode = types.ModeDisarmed
	m.panicStop = true
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil {
		cb(types.ModeDisarmed, true, at)
	}
}
