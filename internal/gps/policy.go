package gps

import (
	"math"
	"time"

	"github.com/shaunagostinho/meshgps/internal/config"
)

// Forever disables the timer it is returned for. Compare by equality.
const Forever = time.Duration(math.MaxInt64)

const (
	// AwakeInterval is the tick period while acquiring. At 9600 baud the
	// receiver produces about a byte per millisecond, so polling faster than
	// this buys nothing.
	AwakeInterval = 200 * time.Millisecond
	// AsleepInterval is the tick period while the receiver is off.
	AsleepInterval = 5 * time.Second
	// ActivePollInterval bounds how often Backend.PollActive runs.
	ActivePollInterval = 5 * time.Second
)

const (
	routerAttemptSecs  = 5 * 60
	clientAttemptSecs  = 15 * 60
	routerIntervalSecs = 24 * 60 * 60
	clientIntervalSecs = 2 * 60
)

// PrefsSource supplies the current preferences. *config.Config implements it.
type PrefsSource interface {
	Preferences() config.Preferences
}

// WakeTime returns how long a single acquisition attempt may keep the
// receiver powered.
func WakeTime(p config.Preferences) time.Duration {
	t := p.GPSAttemptTime
	if t == config.Infinite {
		return Forever
	}
	if t == 0 {
		if p.Role == config.RoleRouter {
			t = routerAttemptSecs
		} else {
			t = clientAttemptSecs
		}
	}
	return time.Duration(t) * time.Second
}

// SleepTime returns the minimum time between acquisition attempts.
func SleepTime(p config.Preferences) time.Duration {
	t := p.GPSUpdateInterval
	if p.GPSDisabled || p.LocationShareDisabled {
		t = config.Infinite
	}
	if t == config.Infinite {
		return Forever
	}
	if t == 0 {
		if p.Role == config.RoleRouter {
			t = routerIntervalSecs
		} else {
			t = clientIntervalSecs
		}
	}
	return time.Duration(t) * time.Second
}
