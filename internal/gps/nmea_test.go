package gps

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shaunagostinho/meshgps/internal/rtc"
)

// sentence wraps body in $...*CS with a correct checksum.
func sentence(body string) string {
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X\r\n", body, cs)
}

const (
	rmcValid   = "GPRMC,123519.00,A,4807.038,N,01131.000,E,0.0,0.0,191026,,"
	rmcVoid    = "GPRMC,123519.00,V,4807.038,N,01131.000,E,0.0,0.0,191026,,"
	ggaFix     = "GPGGA,123519.00,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"
	ggaNoFix   = "GPGGA,123519.00,4807.038,N,01131.000,E,0,03,9.9,0.0,M,0.0,M,,"
	ggaBadBody = "GPGGA,garbage"
)

func newTestNMEA(t *testing.T) (*NMEAProvider, *rtc.Clock) {
	clock := rtc.New()
	return NewNMEA(NMEAConfig{PortPath: "/dev/null", Clock: clock, Log: zaptest.NewLogger(t).Sugar()}), clock
}

func TestNMEAFixFromGGA(t *testing.T) {
	n, _ := newTestNMEA(t)

	n.feed([]byte(sentence(rmcValid) + sentence(ggaFix)))

	pos, ok := n.TryGetLocation()
	require.True(t, ok)
	assert.InDelta(t, 48.1173, pos.Latitude, 1e-4)
	assert.InDelta(t, 11.516666, pos.Longitude, 1e-4)
	assert.Equal(t, int32(545), pos.Altitude)
	assert.Equal(t, 1, pos.FixQuality)
	assert.Equal(t, uint32(8), pos.Satellites)
	assert.Equal(t, uint32(time.Date(2026, 10, 19, 12, 35, 19, 0, time.UTC).Unix()), pos.Time)
	assert.Equal(t, uint32(8), n.Satellites())

	// only newly available fixes are returned
	_, ok = n.TryGetLocation()
	assert.False(t, ok)
}

func TestNMEANoFixQuality(t *testing.T) {
	n, _ := newTestNMEA(t)
	n.feed([]byte(sentence(ggaNoFix)))

	_, ok := n.TryGetLocation()
	assert.False(t, ok)
	assert.Equal(t, uint32(3), n.Satellites())
	assert.True(t, n.PollIdle())
}

func TestNMEATimeFromValidRMC(t *testing.T) {
	n, clock := newTestNMEA(t)

	assert.False(t, n.TryGetTime())

	n.feed([]byte(sentence(rmcVoid)))
	assert.False(t, n.TryGetTime())
	assert.Equal(t, rtc.QualityNone, clock.Quality())

	n.feed([]byte(sentence(rmcValid)))
	assert.True(t, n.TryGetTime())
	assert.Equal(t, rtc.QualityGPS, clock.Quality())
}

func TestNMEASplitAcrossReads(t *testing.T) {
	n, _ := newTestNMEA(t)
	s := sentence(ggaFix)

	n.feed([]byte(s[:10]))
	_, ok := n.TryGetLocation()
	require.False(t, ok)

	n.feed([]byte(s[10:]))
	_, ok = n.TryGetLocation()
	assert.True(t, ok)
}

func TestNMEAPollIdleOnlyForValidSentences(t *testing.T) {
	n, _ := newTestNMEA(t)
	assert.False(t, n.PollIdle())

	n.feed([]byte("noise\r\n" + sentence(ggaBadBody) + "$GPGGA,1,2*00\r\n"))
	assert.False(t, n.PollIdle())

	n.feed([]byte(sentence(rmcVoid)))
	assert.True(t, n.PollIdle())
	assert.False(t, n.PollIdle(), "flag is consumed")
}

func TestNMEASetupFailsWithoutPort(t *testing.T) {
	n := NewNMEA(NMEAConfig{
		PortPath: "/dev/ttyMissing",
		Open: func(string, int) (io.ReadWriteCloser, error) {
			return nil, errors.New("no such device")
		},
		Log: zaptest.NewLogger(t).Sugar(),
	})
	assert.Error(t, n.Setup())
	assert.NoError(t, n.Close())
}

func TestNMEAReadsFromPort(t *testing.T) {
	port := newFakePort()
	n := NewNMEA(NMEAConfig{
		PortPath: "/dev/ttyGPS",
		Open:     port.opener(),
		Log:      zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, n.Setup())
	defer n.Close()

	port.emit(t, []byte(sentence(rmcValid)+sentence(ggaFix)))

	assert.Eventually(t, func() bool {
		_, ok := n.TryGetLocation()
		return ok
	}, time.Second, 5*time.Millisecond)
}
