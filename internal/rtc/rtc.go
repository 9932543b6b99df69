// Package rtc keeps the node's notion of wall-clock time together with where
// that time came from. A better source may overwrite a worse one; nothing may
// lower the recorded quality.
package rtc

import (
	"sync"
	"time"
)

// Quality ranks time sources from worst to best.
type Quality int

const (
	QualityNone Quality = iota
	QualityDevice
	QualityFromNet
	QualityGPS
)

func (q Quality) String() string {
	switch q {
	case QualityDevice:
		return "device"
	case QualityFromNet:
		return "net"
	case QualityGPS:
		return "gps"
	default:
		return "none"
	}
}

// Clock is an offset applied to the host clock.
type Clock struct {
	mu      sync.RWMutex
	quality Quality
	offset  time.Duration
	now     func() time.Time
}

// New returns a clock with no trusted time.
func New() *Clock {
	return &Clock{now: time.Now}
}

// NewWithSource uses now instead of time.Now as the host clock.
func NewWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Set adopts t if q is strictly better than the current quality and reports
// whether it did.
func (c *Clock) Set(q Quality, t time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q <= c.quality {
		return false
	}
	c.offset = t.Sub(c.now())
	c.quality = q
	return true
}

// Quality returns the provenance of the current time.
func (c *Clock) Quality() Quality {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quality
}

// Now returns the corrected current time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Add(c.offset)
}
