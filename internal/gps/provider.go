package gps

import "errors"

var (
	// ErrNoReceiver means a backend probe got no answer from the receiver.
	ErrNoReceiver = errors.New("gps: no receiver answered")
	// ErrNotOpen is returned when writing to a backend that was never set up.
	ErrNotOpen = errors.New("gps: port not open")
	// ErrNoBackend is returned by Setup on an Acquirer built without a backend.
	ErrNoBackend = errors.New("gps: no backend")
	// ErrClosed is returned by Setup after Close.
	ErrClosed = errors.New("gps: acquirer closed")
)

// Backend is the receiver protocol driver the Acquirer depends on.
// Implementations buffer all serial I/O on their own goroutine; none of the
// poll methods may block.
type Backend interface {
	// Name returns the human-readable name of this backend.
	Name() string
	// Setup opens the port and checks that this protocol is spoken.
	// An error means the factory should try the next backend.
	Setup() error
	// Close releases the port.
	Close() error

	// PollIdle runs on every tick, awake or not. It reports whether data
	// implying a connected receiver was seen.
	PollIdle() bool
	// PollActive drives protocol housekeeping such as configuration
	// handshakes. Called at most every ActivePollInterval while awake.
	PollActive()
	// TryGetTime sets the RTC from receiver time and reports success.
	TryGetTime() bool
	// TryGetLocation returns a fix when a new one is available.
	TryGetLocation() (Position, bool)
	// Satellites returns the satellites in use at the last report.
	Satellites() uint32
}

// Position holds a single fix.
type Position struct {
	Time       uint32  `json:"time"`       // receiver UTC, unix seconds
	Latitude   float64 `json:"latitude"`   // Decimal degrees
	Longitude  float64 `json:"longitude"`  // Decimal degrees
	Altitude   int32   `json:"altitude"`   // Meters MSL
	FixQuality int     `json:"fixQuality"` // 0=none, 1=GPS, 2=DGPS (NMEA) or UBX fix type
	Satellites uint32  `json:"satellites"` // Sats in use
}

// Status is the snapshot published to observers.
type Status struct {
	HasValidLocation bool     `json:"hasValidLocation"`
	IsConnected      bool     `json:"isConnected"`
	Position         Position `json:"position"`
	NumSatellites    uint32   `json:"numSatellites"`
}
