package gps

import (
	"math"
	"sync"
	"time"

	"github.com/shaunagostinho/meshgps/internal/rtc"
)

// DemoGPS generates simulated GPS data for testing.
type DemoGPS struct {
	mu       sync.Mutex
	t        float64
	polls    int
	lockAt   int
	clock    *rtc.Clock
	now      func() time.Time
	lastSent bool
}

// NewDemoGPS returns a receiver that reports a fix on the lockAfter-th
// location poll and on every poll after that.
func NewDemoGPS(lockAfter int, clock *rtc.Clock) *DemoGPS {
	if clock == nil {
		clock = rtc.New()
	}
	return &DemoGPS{lockAt: lockAfter, clock: clock, now: time.Now}
}

func (d *DemoGPS) Name() string   { return "Demo GPS (Simulated)" }
func (d *DemoGPS) Setup() error   { return nil }
func (d *DemoGPS) Close() error   { return nil }
func (d *DemoGPS) PollIdle() bool { return true }
func (d *DemoGPS) PollActive()    {}

func (d *DemoGPS) TryGetTime() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.polls < d.lockAt {
		return false
	}
	d.clock.Set(rtc.QualityGPS, d.now().UTC())
	return true
}

func (d *DemoGPS) TryGetLocation() (Position, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls++
	if d.polls < d.lockAt {
		d.lastSent = false
		return Position{}, false
	}
	d.t += 0.1
	d.lastSent = true

	// Simulate walking in a circle around a point
	centerLat := 43.6532 // Toronto
	centerLon := -79.3832
	radius := 0.005 // ~500m

	return Position{
		Time:       uint32(d.now().Unix()),
		Latitude:   centerLat + radius*math.Sin(d.t*0.1),
		Longitude:  centerLon + radius*math.Cos(d.t*0.1),
		Altitude:   76,
		FixQuality: 1,
		Satellites: 12,
	}, true
}

func (d *DemoGPS) Satellites() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastSent {
		return 12
	}
	return uint32(min(d.polls, 3))
}
