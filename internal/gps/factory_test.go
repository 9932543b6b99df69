package gps

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shaunagostinho/meshgps/internal/config"
	"github.com/shaunagostinho/meshgps/internal/rtc"
	"github.com/shaunagostinho/meshgps/internal/sleep"
)

func TestSelectFirstWorking(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	bad := &fakeBackend{setupErr: ErrNoReceiver}
	good := &fakeBackend{}
	spare := &fakeBackend{}

	got := Select(log, bad, good, spare)
	assert.Same(t, good, got)
	assert.Equal(t, 1, bad.closed)
	assert.Zero(t, good.closed)
	assert.Zero(t, spare.setupCalls, "later candidates are never built up")
}

func TestSelectExhausted(t *testing.T) {
	bad := &fakeBackend{setupErr: ErrNoReceiver}
	assert.Nil(t, Select(nil, bad))
	assert.Nil(t, Select(nil))
}

func TestCandidatesOrder(t *testing.T) {
	names := func(bs []Backend) []string {
		var out []string
		for _, b := range bs {
			out = append(out, b.Name())
		}
		return out
	}

	cfg := config.GPS{Type: "auto", TXCapable: true}
	assert.Equal(t, []string{"u-blox GPS", "NMEA GPS"}, names(Candidates(cfg, Deps{})))

	cfg.TXCapable = false
	assert.Equal(t, []string{"NMEA GPS"}, names(Candidates(cfg, Deps{})))

	cfg.Type = "ublox"
	assert.Equal(t, []string{"u-blox GPS"}, names(Candidates(cfg, Deps{})))

	cfg.Type = "demo"
	assert.Equal(t, []string{"Demo GPS (Simulated)"}, names(Candidates(cfg, Deps{})))

	cfg.Type = "disabled"
	assert.Empty(t, Candidates(cfg, Deps{}))
}

func TestCandidatesUnknownTypeWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	deps := Deps{Log: zap.New(core).Sugar()}

	got := Candidates(config.GPS{Type: "nmae"}, deps)
	require.Len(t, got, 1)
	assert.Equal(t, "NMEA GPS", got[0].Name())
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, `unknown gps type "nmae"`)

	Candidates(config.GPS{Type: "auto"}, deps)
	Candidates(config.GPS{}, deps)
	assert.Equal(t, 1, logs.Len())
}

type bringUpPower struct {
	recordingPower
}

func (p *bringUpPower) Enable() { p.calls = append(p.calls, "enable") }
func (p *bringUpPower) Reset()  { p.calls = append(p.calls, "reset") }

func TestCreateDisabled(t *testing.T) {
	p := &bringUpPower{}
	deps := Deps{Prefs: &staticPrefs{}, Power: p, Log: zaptest.NewLogger(t).Sugar()}

	assert.Nil(t, Create(config.GPS{Type: "demo"}, config.Preferences{GPSDisabled: true}, deps))
	assert.Nil(t, Create(config.GPS{Type: "disabled"}, config.Preferences{}, deps))
	assert.Empty(t, p.calls, "no bring-up when disabled")
}

func TestCreateNoReceiver(t *testing.T) {
	p := &bringUpPower{}
	deps := Deps{
		Prefs: &staticPrefs{},
		Power: p,
		Log:   zaptest.NewLogger(t).Sugar(),
		Open: func(string, int) (io.ReadWriteCloser, error) {
			return nil, errors.New("no such device")
		},
	}
	a := Create(config.GPS{Type: "auto", TXCapable: true}, config.Preferences{}, deps)
	assert.Nil(t, a)
	assert.Equal(t, []string{"enable", "reset", "on", "off"}, p.calls)
}

func TestCreateDemo(t *testing.T) {
	p := &bringUpPower{}
	lc := sleep.NewLifecycle()
	clock := rtc.New()
	deps := Deps{
		Prefs:     &staticPrefs{},
		Power:     p,
		RTC:       clock,
		Lifecycle: lc,
		Log:       zaptest.NewLogger(t).Sugar(),
	}
	a := Create(config.GPS{Type: "demo"}, config.Preferences{}, deps)
	require.NotNil(t, a)
	defer a.Close()

	assert.Equal(t, "Demo GPS (Simulated)", a.Backend().Name())
	assert.True(t, a.IsAwake())
	assert.Equal(t, []string{"enable", "reset", "on", "on"}, p.calls)

	light, deep := lc.Hooks()
	assert.Equal(t, 1, light)
	assert.Equal(t, 1, deep)

	for i := 0; i < demoLockAfter+1 && a.IsAwake(); i++ {
		a.RunOnce()
	}
	assert.True(t, a.HasLock())
	assert.False(t, a.IsAwake())
	assert.Equal(t, rtc.QualityGPS, clock.Quality())
}
