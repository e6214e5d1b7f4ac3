package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gatewarden/gatewarden/internal/setup/config"
)

func TestSilentModeForcesMessagingOff(t *testing.T) {
	t.Parallel()

	settings := config.NewRuntimeSettings(&config.Moderation{
		SendWelcomeMessage: true,
		AnnounceKicks:      true,
	})

	settings.SetSilentMode(true)

	st := settings.Snapshot()
	assert.True(t, st.SilentMode)
	assert.False(t, st.SendWelcomeMessage)
	assert.False(t, st.AnnounceKicks)
}

func TestSilentModeOffDoesNotRestoreToggles(t *testing.T) {
	t.Parallel()

	settings := config.NewRuntimeSettings(&config.Moderation{
		SendWelcomeMessage: true,
		AnnounceKicks:      true,
	})

	settings.SetSilentMode(true)
	settings.SetSilentMode(false)

	st := settings.Snapshot()
	assert.False(t, st.SilentMode)
	assert.False(t, st.SendWelcomeMessage, "disabling silent mode must not restore welcome messages")
	assert.False(t, st.AnnounceKicks, "disabling silent mode must not restore announcements")
}

func TestConfiguredSilentModeStartsSuppressed(t *testing.T) {
	t.Parallel()

	settings := config.NewRuntimeSettings(&config.Moderation{
		SendWelcomeMessage: true,
		AnnounceKicks:      true,
		SilentMode:         true,
	})

	st := settings.Snapshot()
	assert.True(t, st.SilentMode)
	assert.False(t, st.SendWelcomeMessage)
	assert.False(t, st.AnnounceKicks)
}

func TestTestModeToggle(t *testing.T) {
	t.Parallel()

	settings := config.NewRuntimeSettings(&config.Moderation{})

	assert.False(t, settings.TestMode())
	settings.SetTestMode(true)
	assert.True(t, settings.TestMode())
	settings.SetTestMode(false)
	assert.False(t, settings.TestMode())
}
