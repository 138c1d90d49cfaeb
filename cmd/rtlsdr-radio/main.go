// Command rtlsdr-radio is the RTL-SDR FM and DAB+ radio daemon. It tunes the
// dongle, relays the audio as an ICY/MP3 stream and drives network players.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/api"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/config"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/controller"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/events"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/metrics"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/mqttpub"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/relay"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/sinks"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/stations"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/streams"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/tunerlock"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/zeroconf"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var (
		cfgPath = flag.String("config", "", "path to YAML config file")
		addr    = flag.String("addr", "", "HTTP listen address (overrides config)")
		dataDir = flag.String("data-dir", "", "directory for stations.json (overrides config)")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("cannot load config", "path", *cfgPath, "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logLevel := slog.LevelInfo
	if *debug || cfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		slog.Error("cannot create data directory", "path", cfg.DataDir, "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	bus := events.NewBus()

	lock := tunerlock.New(tunerlock.WithTimeout(cfg.Lock.Timeout))
	lock.OnAcquire = func(o tunerlock.Outcome) { m.RecordLockOutcome(string(o)) }

	// Decoders
	spawner := streams.ExecSpawner{BinDir: cfg.BinDir}
	fmCfg := streams.DefaultFMConfig()
	fmCfg.RtlFMBinary = cfg.FM.RtlFM
	fmCfg.FFmpegBinary = cfg.FM.FFmpeg
	fmCfg.Settle = cfg.FM.Settle
	fmCfg.BitrateKbps = cfg.FM.BitrateKbps
	fm := streams.NewFMSource(spawner, fmCfg)

	dabCfg := streams.DefaultDABConfig()
	dabCfg.Binary = cfg.DAB.WelleCLI
	dabCfg.Port = cfg.DAB.Port
	dabCfg.Settle = cfg.DAB.Settle
	dabCfg.ScanSettle = cfg.DAB.ScanSettle
	dabCfg.ScanChannels = cfg.DAB.ScanChannels
	dabCfg.MetadataInterval = cfg.DAB.MetadataInterval
	dab := streams.NewDABSource(spawner, dabCfg)

	// Station presets
	store, err := stations.Open(cfg.DataDir, cfg.Stations.Defaults)
	if err != nil {
		slog.Error("cannot open station store", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	if err := store.Watch(); err != nil {
		slog.Warn("station file watch unavailable", "err", err)
	}
	slog.Info("stations loaded", "path", store.Path(), "count", len(store.List()))

	// Relay: DAB+ wins when both decoders are ready.
	hub := relay.NewHub(func() (relay.Source, string) {
		if dab.Ready() {
			return dab, "dab"
		}
		if fm.Ready() {
			return fm, "fm"
		}
		return nil, ""
	}, relay.WithMetrics(m))

	np := api.NewNowPlaying(fm, dab, store, api.StreamConfig{
		MetaInt:          cfg.Stream.MetaInt,
		MetadataInterval: cfg.Stream.MetadataInterval,
		Name:             cfg.Stream.Name,
		Bitrate:          cfg.FM.BitrateKbps,
		ExternalBaseURL:  cfg.Stream.ExternalBaseURL,
	})
	relaySrv := relay.NewServer(hub, fmt.Sprintf(":%d", cfg.Stream.RelayPort), cfg.Stream.ExternalURL, np.StreamOptions)

	// Network players
	var providers []sinks.Provider
	if cfg.LMS.Host != "" {
		providers = append(providers, sinks.NewLMS(cfg.LMS.Host, cfg.LMS.Port))
	}
	registry := sinks.NewRegistry(providers...)
	if devs, err := registry.Refresh(ctx); err != nil {
		slog.Warn("device discovery failed", "err", err)
	} else {
		slog.Info("devices discovered", "count", len(devs))
	}

	ctrl := controller.New(fm, dab, registry, relaySrv,
		controller.WithBufferDelays(cfg.FM.Buffer, cfg.DAB.Buffer),
		controller.WithEvents(bus),
		controller.WithMetrics(m),
	)

	if cfg.MQTT.Broker != "" {
		pub, err := mqttpub.Connect(cfg.MQTT, bus, np.Title)
		if err != nil {
			slog.Warn("mqtt disabled", "err", err)
		} else {
			go pub.Run(ctx)
		}
	}

	if cfg.Zeroconf.Enabled {
		zc := zeroconf.New(cfg.Zeroconf.Name, listenPort(cfg.Listen), version)
		go func() {
			if err := zc.Start(ctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
		}()
	}

	router := api.NewRouter(api.Deps{
		Lock:       lock,
		FM:         fm,
		DAB:        dab,
		Playback:   ctrl,
		Hub:        hub,
		NowPlaying: np,
		Stations:   store,
		Devices:    registry,
		Events:     bus,
		Metrics:    m,
		StaticDir:  cfg.StaticDir,
	})

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streams and SSE are long-lived
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("rtlsdr-radio listening", "addr", cfg.Listen, "relay_port", cfg.Stream.RelayPort, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()

	if err := ctrl.Stop(shutCtx); err != nil {
		slog.Warn("playback stop error", "err", err)
	}
	if err := fm.Stop(shutCtx); err != nil {
		slog.Warn("fm stop error", "err", err)
	}
	if err := dab.Stop(shutCtx); err != nil {
		slog.Warn("dab stop error", "err", err)
	}
	if err := relaySrv.Stop(shutCtx); err != nil {
		slog.Warn("relay shutdown error", "err", err)
	}
	if err := store.Close(); err != nil {
		slog.Warn("failed to flush stations", "err", err)
	}
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
}

// listenPort extracts the port of a listen address such as ":8000".
func listenPort(addr string) int {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if p, err := strconv.Atoi(addr[i+1:]); err == nil {
			return p
		}
	}
	return 80
}
