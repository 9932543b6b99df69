package gps

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/shaunagostinho/meshgps/internal/config"
	"github.com/shaunagostinho/meshgps/internal/metrics"
	"github.com/shaunagostinho/meshgps/internal/observer"
	"github.com/shaunagostinho/meshgps/internal/rtc"
	"github.com/shaunagostinho/meshgps/internal/sleep"
)

const (
	StateAsleep = "asleep"
	StateAwake  = "awake"

	eventWake  = "wake"
	eventSleep = "sleep"
)

// Power switches the receiver between acquiring and low power.
type Power interface {
	On()
	Off()
}

// Clock is the monotonic time source used for all timeouts.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type noPower struct{}

func (noPower) On()  {}
func (noPower) Off() {}

// Deps are the collaborators of an Acquirer. Zero values are replaced by
// harmless defaults, except Prefs which is required.
type Deps struct {
	Prefs     PrefsSource
	Power     Power
	Clock     Clock
	RTC       *rtc.Clock
	Lifecycle *sleep.Lifecycle
	Metrics   *metrics.Metrics
	Log       *zap.SugaredLogger
	Open      PortOpener
}

func (d Deps) withDefaults() Deps {
	if d.Power == nil {
		d.Power = noPower{}
	}
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	if d.RTC == nil {
		d.RTC = rtc.New()
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	if d.Open == nil {
		d.Open = OpenSerial
	}
	return d
}

// Acquirer duty-cycles the receiver: it wakes it periodically, waits for a
// time and position fix within the attempt window, publishes the result and
// puts the receiver back to sleep.
//
// All state is guarded by mu. Observers are notified after mu is released,
// so they may call back into the Acquirer.
type Acquirer struct {
	mu      sync.Mutex
	backend Backend
	deps    Deps
	log     *zap.SugaredLogger
	machine *fsm.FSM

	wakeAllowed      bool
	wakeRequested    bool
	hasReceiver      bool
	hasValidLocation bool
	numSatellites    uint32
	position         Position

	lastWakeStart  time.Time
	lastSleepStart time.Time
	lastActivePoll time.Time

	shouldPublish bool

	status   observer.Subject[Status]
	lightSub *observer.Subscription
	deepSub  *observer.Subscription
	closed   bool
}

// New builds an Acquirer around an already set-up backend. It starts asleep
// with wake allowed.
func New(backend Backend, deps Deps) *Acquirer {
	deps = deps.withDefaults()
	a := &Acquirer{
		backend:     backend,
		deps:        deps,
		log:         deps.Log,
		wakeAllowed: true,
	}
	a.lastSleepStart = deps.Clock.Now()

	a.machine = fsm.NewFSM(
		StateAsleep,
		fsm.Events{
			{Name: eventWake, Src: []string{StateAsleep}, Dst: StateAwake},
			{Name: eventSleep, Src: []string{StateAwake}, Dst: StateAsleep},
		},
		fsm.Callbacks{
			"enter_" + StateAwake: func(_ context.Context, _ *fsm.Event) {
				a.lastWakeStart = a.deps.Clock.Now()
				a.deps.Power.On()
				a.deps.Metrics.Woke()
			},
			"enter_" + StateAsleep: func(_ context.Context, _ *fsm.Event) {
				a.lastSleepStart = a.deps.Clock.Now()
				a.deps.Power.Off()
				a.deps.Metrics.Slept()
			},
		},
	)
	return a
}

// Setup registers the sleep hooks and starts the first attempt window.
func (a *Acquirer) Setup() error {
	if a.backend == nil {
		return ErrNoBackend
	}
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if lc := a.deps.Lifecycle; lc != nil {
		a.lightSub = lc.OnLightSleep(a.PrepareSleep)
		a.deepSub = lc.OnDeepSleep(a.PrepareDeepSleep)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.setAwake(true)
	return nil
}

// Close unregisters the sleep hooks, powers the receiver down and closes
// the backend. Further calls are no-ops.
func (a *Acquirer) Close() error {
	a.lightSub.Close()
	a.deepSub.Close()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.setAwake(false)
	a.deps.Power.Off()
	if a.backend == nil {
		return nil
	}
	return a.backend.Close()
}

// Backend returns the receiver driver in use.
func (a *Acquirer) Backend() Backend {
	return a.backend
}

// Observe registers fn for status snapshots.
func (a *Acquirer) Observe(fn func(Status)) *observer.Subscription {
	return a.status.Observe(fn)
}

// HasLock reports whether a valid location is held.
func (a *Acquirer) HasLock() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasValidLocation
}

// IsAwake reports whether the receiver is powered for acquisition.
func (a *Acquirer) IsAwake() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isAwake()
}

// Status returns the current snapshot without publishing it.
func (a *Acquirer) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

// ForceWake overrides the wake veto. With on, the next tick starts an
// attempt regardless of how long the receiver has slept; an attempt already
// running serves the request instead. Without it, no new attempt starts and
// an attempt already running is left to finish or time out.
func (a *Acquirer) ForceWake(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if on {
		a.log.Debug("allowing gps lock")
		a.wakeAllowed = true
		a.wakeRequested = !a.isAwake()
		return
	}
	a.wakeAllowed = false
	a.wakeRequested = false
}

// PrepareSleep is the light-sleep hook. It only revokes permission to wake.
func (a *Acquirer) PrepareSleep() {
	a.log.Debug("gps prepare sleep")
	a.ForceWake(false)
}

// PrepareDeepSleep is the deep-sleep hook. It abandons any attempt in
// progress without declaring the lock lost.
func (a *Acquirer) PrepareDeepSleep() {
	a.log.Debug("gps deep sleep")
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setAwake(false)
}

// RunOnce is one tick of the duty cycle. It returns the delay before the
// next tick.
func (a *Acquirer) RunOnce() time.Duration {
	a.mu.Lock()

	if a.backend.PollIdle() {
		a.setConnected()
	}

	prefs := a.deps.Prefs.Preferences()
	now := a.deps.Clock.Now()

	if !a.isAwake() && a.wakeAllowed {
		sleepTime := SleepTime(prefs)
		overdue := sleepTime != Forever && now.Sub(a.lastSleepStart) > sleepTime
		if a.wakeRequested || overdue {
			a.wakeRequested = false
			a.setAwake(true)
		}
	}

	if a.isAwake() {
		a.whileAwake(prefs)
	}

	interval := AsleepInterval
	if a.isAwake() {
		interval = AwakeInterval
	}

	st, publish := a.takeUpdate()
	a.mu.Unlock()

	if publish {
		a.status.Notify(st)
	}
	return interval
}

func (a *Acquirer) whileAwake(prefs config.Preferences) {
	now := a.deps.Clock.Now()
	if now.Sub(a.lastActivePoll) >= ActivePollInterval {
		a.lastActivePoll = now
		a.backend.PollActive()
	}

	// Once the RTC holds GPS time the backend is not asked again, so a
	// later read can never overwrite it with something worse.
	gotTime := a.deps.RTC.Quality() >= rtc.QualityGPS
	if !gotTime && a.backend.TryGetTime() {
		gotTime = true
		a.shouldPublish = true
	}

	pos, gotLoc := a.backend.TryGetLocation()
	if gotLoc {
		a.position = pos
		if !a.hasValidLocation {
			a.log.Infof("hasValidLocation rising edge (%.5f, %.5f)", pos.Latitude, pos.Longitude)
			a.hasValidLocation = true
			a.shouldPublish = true
			a.deps.Metrics.Locked()
		}
	}
	a.setNumSatellites(a.backend.Satellites())

	now = a.deps.Clock.Now()
	wakeTime := WakeTime(prefs)
	tooLong := wakeTime != Forever && now.Sub(a.lastWakeStart) > wakeTime

	if (gotLoc && gotTime) || tooLong {
		if tooLong {
			a.deps.Metrics.TimedOut()
			if !gotLoc {
				if a.hasValidLocation {
					a.log.Infof("hasValidLocation falling edge")
					a.deps.Metrics.Unlocked()
				}
				a.position = Position{}
				a.hasValidLocation = false
			}
		}
		a.setAwake(false)
		a.wakeRequested = false
		// Always publish at the end of an attempt window.
		a.shouldPublish = true
	}
}

// setAwake moves the state machine. A wake is refused while the veto is
// active; going to sleep is always allowed.
func (a *Acquirer) setAwake(on bool) {
	if on && !a.wakeAllowed {
		a.log.Debug("inhibiting wake because wake not allowed")
		on = false
	}
	if a.isAwake() == on {
		return
	}

	ev := eventSleep
	if on {
		ev = eventWake
	}
	a.log.Debugf("want gps=%v", on)
	if err := a.machine.Event(context.Background(), ev); err != nil {
		a.log.Warnf("state transition %s failed: %v", ev, err)
	}
}

func (a *Acquirer) isAwake() bool {
	return a.machine.Is(StateAwake)
}

func (a *Acquirer) setConnected() {
	if !a.hasReceiver {
		a.hasReceiver = true
		a.shouldPublish = true
	}
}

func (a *Acquirer) setNumSatellites(n uint32) {
	if n != a.numSatellites {
		a.numSatellites = n
		a.shouldPublish = true
		a.deps.Metrics.SetSatellites(n)
	}
}

func (a *Acquirer) snapshot() Status {
	return Status{
		HasValidLocation: a.hasValidLocation,
		IsConnected:      a.hasReceiver,
		Position:         a.position,
		NumSatellites:    a.numSatellites,
	}
}

// takeUpdate clears the dirty flag and returns the snapshot to deliver.
func (a *Acquirer) takeUpdate() (Status, bool) {
	if !a.shouldPublish {
		return Status{}, false
	}
	a.shouldPublish = false
	a.deps.Metrics.Published()
	st := a.snapshot()
	a.log.Debugf("publishing pos@%x hasVal=%v connected=%v sats=%d",
		st.Position.Time, st.HasValidLocation, st.IsConnected, st.NumSatellites)
	return st, true
}
