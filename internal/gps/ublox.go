package gps

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shaunagostinho/meshgps/internal/rtc"
)

// UBloxProvider speaks the u-blox UBX binary protocol. It needs a wired RX
// line on the receiver, since it polls for version and enables NAV-PVT
// itself.
type UBloxProvider struct {
	portPath     string
	baudRate     int
	probeTimeout time.Duration
	open         PortOpener
	clock        *rtc.Clock
	log          *zap.SugaredLogger

	rd *reader

	mu         sync.Mutex
	scanner    ubxScanner
	gotFrame   chan struct{} // closed on the first valid frame
	frameSeen  bool
	seen       bool // a frame arrived since the last PollIdle
	configured bool // NAV-PVT enable was acknowledged
	utc        time.Time
	utcValid   bool
	last       Position
	fresh      bool
	satellites uint32
}

// UBloxConfig holds configuration for the u-blox provider.
type UBloxConfig struct {
	PortPath     string
	BaudRate     int
	ProbeTimeout time.Duration
	Open         PortOpener
	Clock        *rtc.Clock
	Log          *zap.SugaredLogger
}

// NewUBlox creates a new u-blox provider.
func NewUBlox(cfg UBloxConfig) *UBloxProvider {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = time.Second
	}
	if cfg.Open == nil {
		cfg.Open = OpenSerial
	}
	if cfg.Clock == nil {
		cfg.Clock = rtc.New()
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	return &UBloxProvider{
		portPath:     cfg.PortPath,
		baudRate:     cfg.BaudRate,
		probeTimeout: cfg.ProbeTimeout,
		open:         cfg.Open,
		clock:        cfg.Clock,
		log:          cfg.Log,
		gotFrame:     make(chan struct{}),
	}
}

func (u *UBloxProvider) Name() string { return "u-blox GPS" }

// Setup opens the port and polls MON-VER. Any valid UBX frame within the
// probe timeout counts as an answer.
func (u *UBloxProvider) Setup() error {
	port, err := u.open(u.portPath, u.baudRate)
	if err != nil {
		return err
	}
	u.rd = startReader(port, "ublox", u.log, u.feed)

	if err := u.rd.write(encodeUBX(ubxClassMON, ubxMonVer, nil)); err != nil {
		return fmt.Errorf("ublox: probe write: %w", err)
	}

	select {
	case <-u.gotFrame:
	case <-time.After(u.probeTimeout):
		return fmt.Errorf("ublox on %s: %w", u.portPath, ErrNoReceiver)
	}

	u.log.Infof("ublox connected to %s at %d baud", u.portPath, u.baudRate)
	u.sendConfig()
	return nil
}

func (u *UBloxProvider) Close() error {
	if u.rd != nil {
		return u.rd.close()
	}
	return nil
}

// sendConfig enables NAV-PVT at one per navigation solution on the current
// port.
func (u *UBloxProvider) sendConfig() {
	msg := encodeUBX(ubxClassCFG, ubxCfgMsg, []byte{ubxClassNAV, ubxNavPVT, 0x01})
	if err := u.rd.write(msg); err != nil {
		u.log.Warnf("ublox config write: %v", err)
	}
}

func (u *UBloxProvider) feed(p []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, f := range u.scanner.push(p) {
		u.handleFrame(f)
	}
}

func (u *UBloxProvider) handleFrame(f ubxFrame) {
	u.seen = true
	if !u.frameSeen {
		u.frameSeen = true
		close(u.gotFrame)
	}

	switch {
	case f.class == ubxClassACK && len(f.payload) >= 2 &&
		f.payload[0] == ubxClassCFG && f.payload[1] == ubxCfgMsg:
		if f.id == ubxAckAck && !u.configured {
			u.log.Debug("ublox nav-pvt enabled")
			u.configured = true
		} else if f.id == ubxAckNak {
			u.log.Warn("ublox rejected nav-pvt config")
		}
	case f.class == ubxClassNAV && f.id == ubxNavPVT:
		pvt, ok := decodeNavPVT(f.payload)
		if !ok {
			return
		}
		u.satellites = uint32(pvt.numSV)
		if pvt.timeValid {
			u.utc = pvt.utc
			u.utcValid = true
		}
		if !pvt.hasPosition {
			return
		}
		var ts uint32
		if pvt.timeValid {
			ts = uint32(pvt.utc.Unix())
		}
		u.last = Position{
			Time:       ts,
			Latitude:   pvt.lat,
			Longitude:  pvt.lon,
			Altitude:   int32(math.Round(float64(pvt.heightMSL) / 1000)),
			FixQuality: int(pvt.fixType),
			Satellites: u.satellites,
		}
		u.fresh = true
	}
}

func (u *UBloxProvider) PollIdle() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	seen := u.seen
	u.seen = false
	return seen
}

// PollActive re-sends the NAV-PVT enable until the receiver acknowledges
// it. A power-cycled receiver may have dropped the setting.
func (u *UBloxProvider) PollActive() {
	u.mu.Lock()
	configured := u.configured
	u.mu.Unlock()
	if !configured && u.rd != nil {
		u.sendConfig()
	}
}

func (u *UBloxProvider) TryGetTime() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.utcValid {
		return false
	}
	if u.clock.Set(rtc.QualityGPS, u.utc) {
		u.log.Infof("rtc set from gps: %s", u.utc.Format(time.RFC3339))
	}
	return true
}

func (u *UBloxProvider) TryGetLocation() (Position, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.fresh {
		return Position{}, false
	}
	u.fresh = false
	return u.last, true
}

func (u *UBloxProvider) Satellites() uint32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.satellites
}
