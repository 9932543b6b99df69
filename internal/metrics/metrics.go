// Package metrics exposes the acquisition duty cycle to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "meshgps"
	subsystem = "gps"
)

// Metrics groups the duty-cycle instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	WakeCycles      prometheus.Counter
	AttemptTimeouts prometheus.Counter
	LockAcquired    prometheus.Counter
	LockLost        prometheus.Counter
	Publishes       prometheus.Counter
	Awake           prometheus.Gauge
	HasLock         prometheus.Gauge
	Satellites      prometheus.Gauge
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WakeCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "wake_cycles_total",
			Help:      "Number of times the receiver was powered up for an acquisition attempt",
		}),
		AttemptTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attempt_timeouts_total",
			Help:      "Attempt windows closed because the wake time ran out",
		}),
		LockAcquired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lock_acquired_total",
			Help:      "Rising edges of the valid-location flag",
		}),
		LockLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lock_lost_total",
			Help:      "Falling edges of the valid-location flag",
		}),
		Publishes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "publishes_total",
			Help:      "Status snapshots delivered to observers",
		}),
		Awake: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "awake",
			Help:      "1 while the receiver is powered for acquisition",
		}),
		HasLock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "has_lock",
			Help:      "1 while a valid location is held",
		}),
		Satellites: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "satellites",
			Help:      "Satellites last reported by the receiver",
		}),
	}
}

func (m *Metrics) Woke() {
	if m == nil {
		return
	}
	m.WakeCycles.Inc()
	m.Awake.Set(1)
}

func (m *Metrics) Slept() {
	if m == nil {
		return
	}
	m.Awake.Set(0)
}

func (m *Metrics) TimedOut() {
	if m == nil {
		return
	}
	m.AttemptTimeouts.Inc()
}

func (m *Metrics) Locked() {
	if m == nil {
		return
	}
	m.LockAcquired.Inc()
	m.HasLock.Set(1)
}

func (m *Metrics) Unlocked() {
	if m == nil {
		return
	}
	m.LockLost.Inc()
	m.HasLock.Set(0)
}

func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.Publishes.Inc()
}

func (m *Metrics) SetSatellites(n uint32) {
	if m == nil {
		return
	}
	m.Satellites.Set(float64(n))
}
