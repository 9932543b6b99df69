package gps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shaunagostinho/meshgps/internal/config"
)

func TestRoleDefaults(t *testing.T) {
	router := config.Preferences{Role: config.RoleRouter}
	assert.Equal(t, 300000*time.Millisecond, WakeTime(router))
	assert.Equal(t, 86400000*time.Millisecond, SleepTime(router))

	for _, role := range []config.Role{config.RoleClient, config.RoleClientMute, config.RoleRouterClient, ""} {
		p := config.Preferences{Role: role}
		assert.Equal(t, 900000*time.Millisecond, WakeTime(p), "role %q", role)
		assert.Equal(t, 120000*time.Millisecond, SleepTime(p), "role %q", role)
	}
}

func TestConfiguredDurations(t *testing.T) {
	p := config.Preferences{GPSAttemptTime: 1, GPSUpdateInterval: 30, Role: config.RoleRouter}
	assert.Equal(t, time.Second, WakeTime(p))
	assert.Equal(t, 30*time.Second, SleepTime(p))
}

func TestInfiniteSentinel(t *testing.T) {
	p := config.Preferences{GPSAttemptTime: config.Infinite, GPSUpdateInterval: config.Infinite}
	assert.Equal(t, Forever, WakeTime(p))
	assert.Equal(t, Forever, SleepTime(p))

	// One below the sentinel is a real duration.
	p.GPSUpdateInterval = config.Infinite - 1
	assert.NotEqual(t, Forever, SleepTime(p))
}

func TestDisabledForcesInfiniteSleep(t *testing.T) {
	p := config.Preferences{GPSUpdateInterval: 30, GPSDisabled: true}
	assert.Equal(t, Forever, SleepTime(p))

	p = config.Preferences{GPSUpdateInterval: 30, LocationShareDisabled: true}
	assert.Equal(t, Forever, SleepTime(p))

	// The attempt time is unaffected.
	p = config.Preferences{GPSAttemptTime: 10, GPSDisabled: true}
	assert.Equal(t, 10*time.Second, WakeTime(p))
}
