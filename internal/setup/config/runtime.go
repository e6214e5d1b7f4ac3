package config

import "sync"

// ModerationState is an immutable snapshot of the runtime toggles.
type ModerationState struct {
	AutoKickEnabled    bool
	AllowBots          bool
	SendWelcomeMessage bool
	AnnounceKicks      bool
	SilentMode         bool
	NotifyAdminOnly    bool
	TestMode           bool
}

// RuntimeSettings holds the moderation toggles that commands may flip
// while the process runs. Event handlers execute on separate goroutines,
// so access goes through a lock. Changes live only for the process
// lifetime and are never written back to the config file.
type RuntimeSettings struct {
	mu    sync.RWMutex
	state ModerationState
}

// NewRuntimeSettings seeds the runtime toggles from the loaded config.
// If silent mode is configured on, welcome and announce start suppressed.
func NewRuntimeSettings(m *Moderation) *RuntimeSettings {
	s := &RuntimeSettings{
		state: ModerationState{
			AutoKickEnabled:    m.AutoKickEnabled,
			AllowBots:          m.AllowBots,
			SendWelcomeMessage: m.SendWelcomeMessage,
			AnnounceKicks:      m.AnnounceKicks,
			NotifyAdminOnly:    m.NotifyAdminOnly,
		},
	}
	if m.SilentMode {
		s.SetSilentMode(true)
	}

	return s
}

// Snapshot returns a copy of the current toggle state.
func (s *RuntimeSettings) Snapshot() ModerationState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// SetSilentMode enables or disables silent mode. Enabling also forces
// welcome messages and kick announcements off; disabling does not
// restore them, they stay off until re-enabled by hand.
func (s *RuntimeSettings) SetSilentMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.SilentMode = on
	if on {
		s.state.SendWelcomeMessage = false
		s.state.AnnounceKicks = false
	}
}

// SilentMode reports whether silent mode is active.
func (s *RuntimeSettings) SilentMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.SilentMode
}

// SetTestMode enables or disables the diagnostic lookup logging.
func (s *RuntimeSettings) SetTestMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.TestMode = on
}

// TestMode reports whether test mode is active.
func (s *RuntimeSettings) TestMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.TestMode
}
