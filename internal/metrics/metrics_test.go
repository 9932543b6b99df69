package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAndGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Woke()
	m.Woke()
	m.Locked()
	m.Unlocked()
	m.TimedOut()
	m.Published()
	m.SetSatellites(7)
	m.Slept()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WakeCycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockAcquired))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockLost))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptTimeouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Publishes))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.Satellites))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Awake))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HasLock))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Woke()
		m.Slept()
		m.Locked()
		m.Unlocked()
		m.TimedOut()
		m.Published()
		m.SetSatellites(3)
	})
}
