package gps

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"go.uber.org/zap"

	"github.com/shaunagostinho/meshgps/internal/rtc"
)

// maxSentence bounds a buffered line; NMEA 0183 allows 82 characters.
const maxSentence = 256

// NMEAProvider reads standard NMEA 0183 sentences from a UART GPS.
// It is receive-only, so it works on boards that only wire the receiver's
// TX line, and is always the last backend tried.
type NMEAProvider struct {
	portPath string
	baudRate int
	open     PortOpener
	clock    *rtc.Clock
	log      *zap.SugaredLogger

	rd *reader

	mu         sync.Mutex
	line       []byte
	seen       bool // a valid sentence arrived since the last PollIdle
	utc        time.Time
	utcValid   bool
	last       Position
	fresh      bool // last holds a fix not yet handed out
	satellites uint32
}

// NMEAConfig holds configuration for the NMEA GPS provider.
type NMEAConfig struct {
	PortPath string
	BaudRate int
	Open     PortOpener
	Clock    *rtc.Clock
	Log      *zap.SugaredLogger
}

// NewNMEA creates a new NMEA GPS provider.
func NewNMEA(cfg NMEAConfig) *NMEAProvider {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600 // Standard NMEA default
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
	return &NMEAProvider{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		open:     cfg.Open,
		clock:    cfg.Clock,
		log:      cfg.Log,
	}
}

func (n *NMEAProvider) Name() string { return "NMEA GPS" }

// Setup opens the port. There is nothing to handshake with, so success only
// means the port exists.
func (n *NMEAProvider) Setup() error {
	port, err := n.open(n.portPath, n.baudRate)
	if err != nil {
		return err
	}
	n.rd = startReader(port, "nmea", n.log, n.feed)
	n.log.Infof("nmea connected to %s at %d baud", n.portPath, n.baudRate)
	return nil
}

func (n *NMEAProvider) Close() error {
	if n.rd != nil {
		return n.rd.close()
	}
	return nil
}

// feed splits raw bytes into sentences.
func (n *NMEAProvider) feed(p []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			n.line = append(n.line, p...)
			if len(n.line) > maxSentence {
				n.line = n.line[:0]
			}
			return
		}
		n.line = append(n.line, p[:i]...)
		p = p[i+1:]
		n.handleLine(strings.TrimSpace(string(n.line)))
		n.line = n.line[:0]
	}
}

func (n *NMEAProvider) handleLine(line string) {
	if !strings.HasPrefix(line, "$") {
		return
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		// noisy GPS or partial sentences
		return
	}
	n.seen = true

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		if m.Validity == nmea.ValidRMC && m.Date.Valid && m.Time.Valid {
			n.utc = time.Date(2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
				m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)
			n.utcValid = true
		}
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		if sats := m.NumSatellites; sats >= 0 {
			n.satellites = uint32(sats)
		}
		quality, err := strconv.Atoi(m.FixQuality)
		if err != nil || quality == 0 {
			return
		}
		var ts uint32
		if n.utcValid {
			ts = uint32(n.utc.Unix())
		}
		n.last = Position{
			Time:       ts,
			Latitude:   m.Latitude,
			Longitude:  m.Longitude,
			Altitude:   int32(math.Round(m.Altitude)),
			FixQuality: quality,
			Satellites: n.satellites,
		}
		n.fresh = true
	}
}

func (n *NMEAProvider) PollIdle() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	seen := n.seen
	n.seen = false
	return seen
}

// PollActive is a no-op: NMEA receivers take no configuration from us.
func (n *NMEAProvider) PollActive() {}

func (n *NMEAProvider) TryGetTime() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.utcValid {
		return false
	}
	if n.clock.Set(rtc.QualityGPS, n.utc) {
		n.log.Infof("rtc set from gps: %s", n.utc.Format(time.RFC3339))
	}
	return true
}

func (n *NMEAProvider) TryGetLocation() (Position, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.fresh {
		return Position{}, false
	}
	n.fresh = false
	return n.last, true
}

func (n *NMEAProvider) Satellites() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.satellites
}
