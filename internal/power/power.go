// Package power drives the receiver's enable, reset and wake lines.
//
// Boards differ in which lines exist; a missing line turns the matching
// operation into a no-op so the duty cycle keeps running on any board.
package power

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/shaunagostinho/meshgps/internal/config"
)

// ResetHold is how long the reset line is asserted.
const ResetHold = 10 * time.Millisecond

// Controller toggles the receiver's physical lines.
type Controller struct {
	mu        sync.Mutex
	enable    gpio.PinOut
	reset     gpio.PinOut
	wake      gpio.PinOut
	activeLow bool
	on        bool
	log       *zap.SugaredLogger
}

// New resolves the configured pins through periph.io. Pins that are not
// named or not found are left unset.
func New(pins config.Pins, log *zap.SugaredLogger) *Controller {
	if pins.Enable != "" || pins.Reset != "" || pins.Wake != "" {
		if _, err := host.Init(); err != nil {
			log.Warnf("periph host init failed, power lines disabled: %v", err)
			return NewWithPins(nil, nil, nil, pins.WakeActiveLow, log)
		}
	}
	return NewWithPins(
		lookup(pins.Enable, log),
		lookup(pins.Reset, log),
		lookup(pins.Wake, log),
		pins.WakeActiveLow,
		log,
	)
}

func lookup(name string, log *zap.SugaredLogger) gpio.PinOut {
	if name == "" {
		return nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		log.Warnf("pin %q not found, line disabled", name)
		return nil
	}
	return p
}

// NewWithPins builds a Controller from already resolved pins. Any of them may
// be nil.
func NewWithPins(enable, reset, wake gpio.PinOut, wakeActiveLow bool, log *zap.SugaredLogger) *Controller {
	return &Controller{
		enable:    enable,
		reset:     reset,
		wake:      wake,
		activeLow: wakeActiveLow,
		log:       log,
	}
}

// Enable switches on the receiver's master power rail.
func (c *Controller) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drive(c.enable, gpio.High, "enable")
}

// Reset pulses the reset line. Only used at bring-up.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reset == nil {
		return
	}
	c.drive(c.reset, gpio.High, "reset")
	time.Sleep(ResetHold)
	c.drive(c.reset, gpio.Low, "reset")
}

// On drives the wake line to its active level.
func (c *Controller) On() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drive(c.wake, c.active(), "wake")
	c.on = true
}

// Off drives the wake line to its inactive level.
func (c *Controller) Off() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drive(c.wake, !c.active(), "wake")
	c.on = false
}

// IsOn reports the last level requested through On/Off.
func (c *Controller) IsOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.on
}

func (c *Controller) active() gpio.Level {
	if c.activeLow {
		return gpio.Low
	}
	return gpio.High
}

func (c *Controller) drive(p gpio.PinOut, l gpio.Level, what string) {
	if p == nil {
		return
	}
	if err := p.Out(l); err != nil {
		c.log.Warnf("%s line %s: %v", what, p, err)
	}
}
