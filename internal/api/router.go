package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/events"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/metrics"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/relay"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/tunerlock"
)

// Deps are the collaborators the handlers use.
type Deps struct {
	Lock       *tunerlock.Lock
	FM         FMSource
	DAB        DABSource
	Playback   Playback
	Hub        *relay.Hub
	NowPlaying *NowPlaying
	Stations   Stations
	Devices    Devices
	Events     *events.Bus
	Metrics    *metrics.Metrics
	// StaticDir, when set, is served under /static.
	StaticDir string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	lock     *tunerlock.Lock
	fm       FMSource
	dab      DABSource
	ctrl     Playback
	hub      *relay.Hub
	np       *NowPlaying
	stations Stations
	devices  Devices
	events   *events.Bus
	metrics  *metrics.Metrics
	started  time.Time
}

// NewRouter creates and returns the main HTTP router.
func NewRouter(d Deps) http.Handler {
	h := &Handlers{
		lock:     d.Lock,
		fm:       d.FM,
		dab:      d.DAB,
		ctrl:     d.Playback,
		hub:      d.Hub,
		np:       d.NowPlaying,
		stations: d.Stations,
		devices:  d.Devices,
		events:   d.Events,
		metrics:  d.Metrics,
		started:  time.Now(),
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	// JSON routes are gzipped. Audio and event streams below are not.
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

		r.Get("/api/health", h.health)

		// Tuner (FM)
		r.Get("/api/tuner/status", h.tunerStatus)
		r.Post("/api/tuner/tune", h.tunerTune)
		r.Post("/api/tuner/stop", h.tunerStop)
		r.Get("/api/tuner/lock/status", h.lockStatus)
		r.Post("/api/tuner/lock/touch", h.lockTouch)

		// DAB+
		r.Get("/api/dab/channels", h.dabChannels)
		r.Get("/api/dab/programs", h.dabPrograms)
		r.Post("/api/dab/scan", h.dabScan)
		r.Post("/api/dab/tune", h.dabTune)
		r.Post("/api/dab/stop", h.dabStop)
		r.Get("/api/dab/status", h.dabStatus)
		r.Get("/api/dab/metadata", h.dabMetadata)
		r.Get("/api/dab/slide", h.dabSlide)

		r.Get("/api/stream/ready", h.streamReady)

		// Playback
		r.Get("/api/playback/status", h.playbackStatus)
		r.Post("/api/playback/start", h.playbackStart)
		r.Post("/api/playback/stop", h.playbackStop)
		r.Post("/api/playback/pause", h.playbackPause)
		r.Post("/api/playback/resume", h.playbackResume)
		r.Post("/api/playback/tune", h.playbackTune)

		// Stations
		r.Get("/api/stations", h.listStations)
		r.Post("/api/stations", h.createStation)
		r.Get("/api/stations/{id}", h.getStation)
		r.Put("/api/stations/{id}", h.updateStation)
		r.Patch("/api/stations/{id}", h.updateStation)
		r.Delete("/api/stations/{id}", h.deleteStation)

		// Devices
		r.Get("/api/devices", h.listDevices)
		r.Post("/api/devices/refresh", h.refreshDevices)
		r.Get("/api/devices/{id}", h.getDevice)
		r.Get("/api/devices/{id}/volume", h.getVolume)
		r.Post("/api/devices/{id}/volume", h.setVolume)
		r.Put("/api/devices/{id}/volume", h.setVolume)
		r.Post("/api/devices/{id}/mute", h.setMute)
	})

	// Long-lived responses
	r.Get("/api/stream", h.stream)
	r.Get("/api/subscribe", h.sseEvents)
	r.Get("/api/ws", h.wsEvents)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	if d.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(d.StaticDir))))
	}

	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Client-ID, X-Force-Takeover, X-Session-ID, Icy-MetaData")
		w.Header().Set("Access-Control-Expose-Headers", "icy-metaint, icy-name, icy-genre, icy-br")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
