package gps

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shaunagostinho/meshgps/internal/rtc"
)

// fakePort is a serial port whose receive side is fed by the test.
type fakePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	onWrite func([]byte)
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, w: w}
}

func (p *fakePort) opener() PortOpener {
	return func(string, int) (io.ReadWriteCloser, error) { return p, nil }
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.written.Write(b)
	fn := p.onWrite
	p.mu.Unlock()
	if fn != nil {
		fn(append([]byte(nil), b...))
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.w.Close()
	return p.r.Close()
}

func (p *fakePort) emit(t *testing.T, b []byte) {
	t.Helper()
	_, err := p.w.Write(b)
	require.NoError(t, err)
}

func (p *fakePort) sent() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

type pvtFields struct {
	year                       uint16
	month, day, hour, min, sec byte
	valid                      byte
	fixType, flags, numSV      byte
	lat, lon                   int32
	hMSL                       int32
}

func navPVTPayload(f pvtFields) []byte {
	p := make([]byte, navPVTLen)
	le := binary.LittleEndian
	le.PutUint16(p[4:], f.year)
	p[6], p[7], p[8], p[9], p[10] = f.month, f.day, f.hour, f.min, f.sec
	p[11] = f.valid
	p[20], p[21], p[23] = f.fixType, f.flags, f.numSV
	le.PutUint32(p[24:], uint32(f.lon))
	le.PutUint32(p[28:], uint32(f.lat))
	le.PutUint32(p[36:], uint32(f.hMSL))
	return p
}

var goodPVT = pvtFields{
	year: 2026, month: 10, day: 19, hour: 12, min: 35, sec: 19,
	valid: 0x07, fixType: fix3D, flags: 0x01, numSV: 9,
	lat: 436532000, lon: -793832000, hMSL: 76400,
}

func TestEncodeUBXKnownFrames(t *testing.T) {
	assert.Equal(t, []byte{0xB5, 0x62, 0x0A, 0x04, 0x00, 0x00, 0x0E, 0x34},
		encodeUBX(ubxClassMON, ubxMonVer, nil))
	assert.Equal(t, []byte{0xB5, 0x62, 0x06, 0x01, 0x03, 0x00, 0x01, 0x07, 0x01, 0x13, 0x51},
		encodeUBX(ubxClassCFG, ubxCfgMsg, []byte{ubxClassNAV, ubxNavPVT, 0x01}))
}

func TestUBXScannerResyncs(t *testing.T) {
	var s ubxScanner
	frame := encodeUBX(ubxClassACK, ubxAckAck, []byte{ubxClassCFG, ubxCfgMsg})
	corrupt := encodeUBX(ubxClassNAV, ubxNavPVT, []byte{1, 2, 3})
	corrupt[len(corrupt)-1] ^= 0xFF

	stream := append([]byte("$GPGGA,noise\r\n"), corrupt...)
	stream = append(stream, frame...)

	// byte at a time
	var got []ubxFrame
	for _, b := range stream {
		got = append(got, s.push([]byte{b})...)
	}
	require.Len(t, got, 1)
	assert.Equal(t, byte(ubxClassACK), got[0].class)
	assert.Equal(t, byte(ubxAckAck), got[0].id)
	assert.Equal(t, []byte{ubxClassCFG, ubxCfgMsg}, got[0].payload)
}

func TestUBXScannerMultipleFramesOneRead(t *testing.T) {
	var s ubxScanner
	a := encodeUBX(ubxClassMON, ubxMonVer, []byte("ROM CORE"))
	b := encodeUBX(ubxClassNAV, ubxNavPVT, navPVTPayload(goodPVT))
	got := s.push(append(a, b...))
	require.Len(t, got, 2)
	assert.Equal(t, byte(ubxClassNAV), got[1].class)
	assert.Len(t, got[1].payload, navPVTLen)
}

func TestDecodeNavPVT(t *testing.T) {
	v, ok := decodeNavPVT(navPVTPayload(goodPVT))
	require.True(t, ok)
	assert.True(t, v.timeValid)
	assert.Equal(t, time.Date(2026, 10, 19, 12, 35, 19, 0, time.UTC), v.utc)
	assert.True(t, v.hasPosition)
	assert.InDelta(t, 43.6532, v.lat, 1e-7)
	assert.InDelta(t, -79.3832, v.lon, 1e-7)
	assert.Equal(t, int32(76400), v.heightMSL)
	assert.Equal(t, byte(9), v.numSV)

	_, ok = decodeNavPVT(make([]byte, 10))
	assert.False(t, ok)
}

func TestDecodeNavPVTRequiresFullyResolvedTimeAndFix(t *testing.T) {
	f := goodPVT
	f.valid = 0x03 // date and time, not fully resolved
	f.flags = 0
	v, ok := decodeNavPVT(navPVTPayload(f))
	require.True(t, ok)
	assert.False(t, v.timeValid)
	assert.False(t, v.hasPosition)

	f = goodPVT
	f.fixType = 5 // time only
	v, _ = decodeNavPVT(navPVTPayload(f))
	assert.False(t, v.hasPosition)
}

func newTestUBlox(t *testing.T, port *fakePort) (*UBloxProvider, *rtc.Clock) {
	clock := rtc.New()
	return NewUBlox(UBloxConfig{
		PortPath:     "/dev/ttyGPS",
		ProbeTimeout: 200 * time.Millisecond,
		Open:         port.opener(),
		Clock:        clock,
		Log:          zaptest.NewLogger(t).Sugar(),
	}), clock
}

func TestUBloxProbeAnswered(t *testing.T) {
	port := newFakePort()
	port.onWrite = func(b []byte) {
		if bytes.Equal(b, encodeUBX(ubxClassMON, ubxMonVer, nil)) {
			go port.w.Write(encodeUBX(ubxClassMON, ubxMonVer, []byte("ROM CORE 3.01")))
		}
	}
	u, _ := newTestUBlox(t, port)
	require.NoError(t, u.Setup())
	defer u.Close()

	cfg := encodeUBX(ubxClassCFG, ubxCfgMsg, []byte{ubxClassNAV, ubxNavPVT, 0x01})
	assert.True(t, bytes.Contains(port.sent(), cfg))
	assert.True(t, u.PollIdle())
}

func TestUBloxProbeTimesOut(t *testing.T) {
	port := newFakePort()
	u, _ := newTestUBlox(t, port)
	err := u.Setup()
	assert.ErrorIs(t, err, ErrNoReceiver)
	assert.NoError(t, u.Close())
}

func TestUBloxConfigResentUntilAck(t *testing.T) {
	port := newFakePort()
	port.onWrite = func(b []byte) {
		if bytes.Equal(b, encodeUBX(ubxClassMON, ubxMonVer, nil)) {
			go port.w.Write(encodeUBX(ubxClassMON, ubxMonVer, nil))
		}
	}
	u, _ := newTestUBlox(t, port)
	require.NoError(t, u.Setup())
	defer u.Close()

	cfg := encodeUBX(ubxClassCFG, ubxCfgMsg, []byte{ubxClassNAV, ubxNavPVT, 0x01})
	u.PollActive()
	assert.Equal(t, 2, bytes.Count(port.sent(), cfg))

	port.emit(t, encodeUBX(ubxClassACK, ubxAckAck, []byte{ubxClassCFG, ubxCfgMsg}))
	require.Eventually(t, func() bool {
		u.mu.Lock()
		defer u.mu.Unlock()
		return u.configured
	}, time.Second, 5*time.Millisecond)

	u.PollActive()
	assert.Equal(t, 2, bytes.Count(port.sent(), cfg))
}

func TestUBloxTimeAndLocationFromNavPVT(t *testing.T) {
	port := newFakePort()
	port.onWrite = func(b []byte) {
		if bytes.Equal(b, encodeUBX(ubxClassMON, ubxMonVer, nil)) {
			go port.w.Write(encodeUBX(ubxClassMON, ubxMonVer, nil))
		}
	}
	u, clock := newTestUBlox(t, port)
	require.NoError(t, u.Setup())
	defer u.Close()

	port.emit(t, encodeUBX(ubxClassNAV, ubxNavPVT, navPVTPayload(goodPVT)))

	var pos Position
	require.Eventually(t, func() bool {
		var ok bool
		pos, ok = u.TryGetLocation()
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.InDelta(t, 43.6532, pos.Latitude, 1e-7)
	assert.Equal(t, int32(76), pos.Altitude)
	assert.Equal(t, fix3D, pos.FixQuality)
	assert.Equal(t, uint32(9), u.Satellites())

	assert.True(t, u.TryGetTime())
	assert.Equal(t, rtc.QualityGPS, clock.Quality())
}
