// Package controller implements the playback orchestrator: the state machine
// that ties the one active audio source to the one active sink and keeps FM
// and DAB+ mutually exclusive on the shared tuner.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/events"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/metrics"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/sinks"
)

// ErrWrongState is returned when an operation is not legal in the current
// playback state. Nothing is changed.
var ErrWrongState = errors.New("operation not valid in current playback state")

// ErrNoTuning is returned by Start when the request names neither or both modes.
var ErrNoTuning = errors.New("exactly one of FM or DAB tuning is required")

// FMSource is the analog source as the controller sees it.
type FMSource interface {
	Tune(ctx context.Context, t models.FMTuning) error
	Stop(ctx context.Context) error
	Running() bool
	Ready() bool
}

// DABSource is the digital source as the controller sees it.
type DABSource interface {
	Tune(ctx context.Context, t models.DABTuning) error
	Stop(ctx context.Context) error
	Running() bool
	Ready() bool
	Status() models.DabStatus
	ScanChannels(ctx context.Context, channels []string) []models.DabScanResult
}

// SinkResolver finds a sink by device id.
type SinkResolver interface {
	Get(id string) (sinks.Sink, error)
}

// StreamServer is the internal endpoint sinks pull audio from.
type StreamServer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	URL() string
}

// Controller owns the playback session. Every transition runs under mu.
type Controller struct {
	fm      FMSource
	dab     DABSource
	sinks   SinkResolver
	server  StreamServer
	bus     *events.Bus
	metrics *metrics.Metrics

	fmBuffer  time.Duration
	dabBuffer time.Duration

	mu        sync.Mutex
	state     models.PlaybackState
	mode      models.RadioMode
	sink      sinks.Sink
	title     string
	fmTuning  *models.FMTuning
	dabTuning *models.DABTuning
}

// Option configures a Controller.
type Option func(*Controller)

// WithBufferDelays sets how long to let audio accumulate after a tune before
// the sink is told to play.
func WithBufferDelays(fm, dab time.Duration) Option {
	return func(c *Controller) { c.fmBuffer, c.dabBuffer = fm, dab }
}

// WithEvents publishes a "playback" event on every transition.
func WithEvents(bus *events.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithMetrics records tunes and the playback state.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New returns a stopped, idle controller.
func New(fm FMSource, dab DABSource, resolver SinkResolver, server StreamServer, opts ...Option) *Controller {
	c := &Controller{
		fm:        fm,
		dab:       dab,
		sinks:     resolver,
		server:    server,
		fmBuffer:  time.Second,
		dabBuffer: 3 * time.Second,
		state:     models.StateStopped,
		mode:      models.ModeIdle,
	}
	for _, o := range opts {
		o(c)
	}
	c.metrics.SetPlaybackState(string(c.state), string(c.mode))
	return c
}

// Mode returns the radio mode currently holding the tuner.
func (c *Controller) Mode() models.RadioMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// State returns the playback state.
func (c *Controller) State() models.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the playback session.
func (c *Controller) Status() models.PlaybackStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() models.PlaybackStatus {
	st := models.PlaybackStatus{State: c.state, RadioMode: c.mode}
	if c.sink != nil {
		d := c.sink.Device()
		st.DeviceID = models.Ptr(d.ID)
		st.DeviceName = models.Ptr(d.Name)
	}
	switch c.mode {
	case models.ModeFM:
		if t := c.fmTuning; t != nil {
			st.Frequency = models.Ptr(t.Frequency)
			st.Modulation = models.Ptr(t.Modulation)
		}
	case models.ModeDAB:
		if t := c.dabTuning; t != nil {
			st.DabChannel = models.Ptr(t.Channel)
			if t.Program != "" {
				st.DabProgram = models.Ptr(t.Program)
			}
		}
		// The source knows the resolved service id.
		ds := c.dab.Status()
		if ds.ServiceID != nil {
			st.DabServiceID = ds.ServiceID
		}
		if st.DabProgram == nil && ds.Program != nil {
			st.DabProgram = ds.Program
		}
	}
	if c.state == models.StatePlaying {
		st.StreamURL = models.Ptr(c.server.URL())
	}
	return st
}

// setState records a transition and announces it.
func (c *Controller) setState(state models.PlaybackState, mode models.RadioMode) {
	c.state, c.mode = state, mode
	if mode == models.ModeIdle {
		c.fmTuning, c.dabTuning = nil, nil
	}
	c.metrics.SetPlaybackState(string(state), string(mode))
	if c.bus != nil {
		st := c.statusLocked()
		c.bus.Publish(models.Event{Type: "playback", Playback: &st})
	}
	slog.Debug("controller: state", "state", state, "mode", mode)
}

// stopOther stops the source of the mode that is not next.
func (c *Controller) stopOther(ctx context.Context, next models.RadioMode) {
	switch next {
	case models.ModeFM:
		if c.dab.Running() {
			slog.Info("controller: stopping DAB+ for FM")
			if err := c.dab.Stop(ctx); err != nil {
				slog.Warn("controller: stop DAB+ failed", "err", err)
			}
			c.dabTuning = nil
		}
	case models.ModeDAB:
		if c.fm.Running() {
			slog.Info("controller: stopping FM for DAB+")
			if err := c.fm.Stop(ctx); err != nil {
				slog.Warn("controller: stop FM failed", "err", err)
			}
			c.fmTuning = nil
		}
	}
}

func (c *Controller) tuneFM(ctx context.Context, t models.FMTuning) error {
	start := time.Now()
	err := c.fm.Tune(ctx, t)
	c.metrics.RecordTune(string(models.ModeFM), err, time.Since(start))
	if err == nil {
		c.fmTuning = &t
	}
	return err
}

func (c *Controller) tuneDAB(ctx context.Context, t models.DABTuning) error {
	start := time.Now()
	err := c.dab.Tune(ctx, t)
	c.metrics.RecordTune(string(models.ModeDAB), err, time.Since(start))
	if err == nil {
		c.dabTuning = &t
	}
	return err
}

func (c *Controller) stopSource(ctx context.Context, mode models.RadioMode) error {
	switch mode {
	case models.ModeFM:
		return c.fm.Stop(ctx)
	case models.ModeDAB:
		return c.dab.Stop(ctx)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
