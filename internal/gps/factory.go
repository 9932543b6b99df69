package gps

import (
	"time"

	"go.uber.org/zap"

	"github.com/shaunagostinho/meshgps/internal/config"
)

// demoLockAfter is how many location polls the demo receiver needs before
// its first fix.
const demoLockAfter = 10

// bringUp is implemented by power controllers that own the rail and reset
// lines as well as the wake line.
type bringUp interface {
	Enable()
	Reset()
}

// Select tries each candidate in order and returns the first whose Setup
// succeeds. Failed candidates are closed. It returns nil when none work.
func Select(log *zap.SugaredLogger, candidates ...Backend) Backend {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	for _, b := range candidates {
		if b == nil {
			continue
		}
		if err := b.Setup(); err != nil {
			log.Infof("%s not detected: %v", b.Name(), err)
			if cerr := b.Close(); cerr != nil {
				log.Debugf("%s close: %v", b.Name(), cerr)
			}
			continue
		}
		log.Infof("using %s", b.Name())
		return b
	}
	return nil
}

// Candidates lists the backends to try for cfg, best first. Richer
// protocols come first; the receive-only NMEA parser is the fallback.
func Candidates(cfg config.GPS, deps Deps) []Backend {
	deps = deps.withDefaults()
	ublox := func() Backend {
		return NewUBlox(UBloxConfig{
			PortPath:     cfg.PortPath,
			BaudRate:     cfg.BaudRate,
			ProbeTimeout: time.Duration(cfg.ProbeTimeoutMs) * time.Millisecond,
			Open:         deps.Open,
			Clock:        deps.RTC,
			Log:          deps.Log.Named("ublox"),
		})
	}
	nmea := func() Backend {
		return NewNMEA(NMEAConfig{
			PortPath: cfg.PortPath,
			BaudRate: cfg.BaudRate,
			Open:     deps.Open,
			Clock:    deps.RTC,
			Log:      deps.Log.Named("nmea"),
		})
	}

	switch cfg.Type {
	case "ublox":
		return []Backend{ublox()}
	case "nmea":
		return []Backend{nmea()}
	case "demo":
		return []Backend{NewDemoGPS(demoLockAfter, deps.RTC)}
	case "disabled":
		return nil
	default:
		if cfg.Type != "auto" && cfg.Type != "" {
			deps.Log.Warnf("unknown gps type %q, probing as auto", cfg.Type)
		}
		var out []Backend
		if cfg.TXCapable {
			out = append(out, ublox())
		}
		return append(out, nmea())
	}
}

// Create powers up the receiver, detects its protocol and returns a running
// Acquirer. It returns nil when positioning is disabled or no receiver was
// found; callers then run without location.
func Create(cfg config.GPS, prefs config.Preferences, deps Deps) *Acquirer {
	deps = deps.withDefaults()
	log := deps.Log

	if prefs.GPSDisabled || cfg.Type == "disabled" {
		log.Info("gps disabled")
		return nil
	}

	if p, ok := deps.Power.(bringUp); ok {
		p.Enable()
		p.Reset()
	}
	deps.Power.On()

	backend := Select(log, Candidates(cfg, deps)...)
	if backend == nil {
		log.Warnf("no gps receiver found on %s", cfg.PortPath)
		deps.Power.Off()
		return nil
	}

	a := New(backend, deps)
	if err := a.Setup(); err != nil {
		log.Errorf("gps setup: %v", err)
		a.Close()
		return nil
	}
	return a
}
