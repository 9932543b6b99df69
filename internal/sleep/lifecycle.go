// Package sleep carries the node-wide notifications sent just before the
// node enters light or deep sleep.
package sleep

import "github.com/shaunagostinho/meshgps/internal/observer"

// Mode identifies which sleep the node is about to enter.
type Mode string

const (
	Light Mode = "light"
	Deep  Mode = "deep"
)

// Lifecycle holds the two pre-sleep hook lists. Hooks run synchronously on
// the notifying goroutine and block sleep entry until they return.
type Lifecycle struct {
	light observer.Subject[Mode]
	deep  observer.Subject[Mode]
}

// NewLifecycle returns an empty Lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// OnLightSleep registers fn to run before light sleep.
func (l *Lifecycle) OnLightSleep(fn func()) *observer.Subscription {
	return l.light.Observe(func(Mode) { fn() })
}

// OnDeepSleep registers fn to run before deep sleep.
func (l *Lifecycle) OnDeepSleep(fn func()) *observer.Subscription {
	return l.deep.Observe(func(Mode) { fn() })
}

// NotifyLightSleep runs every light-sleep hook.
func (l *Lifecycle) NotifyLightSleep() {
	l.light.Notify(Light)
}

// NotifyDeepSleep runs every deep-sleep hook.
func (l *Lifecycle) NotifyDeepSleep() {
	l.deep.Notify(Deep)
}

// Notify dispatches by mode. Unknown modes are ignored and reported false.
func (l *Lifecycle) Notify(m Mode) bool {
	switch m {
	case Light:
		l.NotifyLightSleep()
	case Deep:
		l.NotifyDeepSleep()
	default:
		return false
	}
	return true
}

// Hooks returns the number of registered light and deep sleep hooks.
func (l *Lifecycle) Hooks() (light, deep int) {
	return l.light.Len(), l.deep.Len()
}
