package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/shaunagostinho/meshgps/internal/config"
	"github.com/shaunagostinho/meshgps/internal/gps"
	"github.com/shaunagostinho/meshgps/internal/logging"
	"github.com/shaunagostinho/meshgps/internal/metrics"
	"github.com/shaunagostinho/meshgps/internal/power"
	"github.com/shaunagostinho/meshgps/internal/publish"
	"github.com/shaunagostinho/meshgps/internal/rtc"
	"github.com/shaunagostinho/meshgps/internal/scheduler"
	"github.com/shaunagostinho/meshgps/internal/server"
	"github.com/shaunagostinho/meshgps/internal/sleep"
	"github.com/shaunagostinho/meshgps/internal/track"
)

func main() {
	configPath := flag.String("config", "/etc/meshgps/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with a simulated GPS receiver")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	// Bootstrap logger until the config says otherwise
	boot := logging.New("info", logging.FormatConsole)
	cfg := config.LoadConfig(*configPath, boot.Sugar().Named(logging.ComponentConfig))
	boot.Sync()

	if *demo {
		cfg.GPS.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	log := logger.Sugar().Named(logging.ComponentMain)
	log.Info("meshgps starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lifecycle := sleep.NewLifecycle()
	go handleSignals(ctx, cancel, lifecycle, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clock := rtc.New()
	clock.Set(rtc.QualityDevice, time.Now())

	acq := gps.Create(cfg.GPS, cfg.Preferences(), gps.Deps{
		Prefs:     cfg,
		Power:     power.New(cfg.GPS.Pins, logger.Sugar().Named(logging.ComponentPower)),
		RTC:       clock,
		Lifecycle: lifecycle,
		Metrics:   m,
		Log:       logger.Sugar().Named(logging.ComponentGPS),
	})

	recorder := track.New(cfg.Track, clock.Now, logger.Sugar().Named(logging.ComponentTrack))
	defer recorder.Close()

	var (
		wg     sync.WaitGroup
		thread *scheduler.Thread
		loc    server.Locator
		kicker server.Kicker
	)
	if acq != nil {
		thread = scheduler.NewThread("gps", acq, log)
		loc, kicker = acq, thread
	}
	srv := server.New(cfg, loc, kicker, lifecycle, reg, logger.Sugar().Named(logging.ComponentServer))
	srv.OnConfigChange(func(c *config.Config) {
		recorder.SetEnabled(c.TrackSettings().Enabled)
	})

	if acq == nil {
		log.Warn("running without location")
	} else {
		acq.Observe(srv.Publish)
		acq.Observe(recorder.Record)

		if cfg.MQTT.Enabled {
			pub := publish.New(cfg.MQTT, logger.Sugar().Named(logging.ComponentMQTT))
			acq.Observe(pub.Handle)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer pub.Close()
				if err := pub.Connect(ctx); err != nil {
					log.Warnf("mqtt disabled: %v", err)
					return
				}
				pub.Run(ctx)
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			thread.Run(ctx)
		}()
	}

	if err := srv.Run(ctx); err != nil {
		log.Errorf("server exited: %v", err)
	}
	cancel()
	wg.Wait()

	if acq != nil {
		if err := acq.Close(); err != nil {
			log.Warnf("gps close: %v", err)
		}
	}
	log.Info("meshgps stopped")
}

// handleSignals cancels on SIGINT/SIGTERM and maps SIGUSR1 and SIGUSR2 to
// light and deep sleep notifications.
func handleSignals(ctx context.Context, cancel context.CancelFunc, lc *sleep.Lifecycle, log *zap.SugaredLogger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				log.Info("entering light sleep")
				lc.NotifyLightSleep()
			case syscall.SIGUSR2:
				log.Info("entering deep sleep")
				lc.NotifyDeepSleep()
			default:
				log.Infof("received %v, shutting down", sig)
				cancel()
				return
			}
		}
	}
}
