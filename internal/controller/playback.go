package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/sinks"
)

// StartRequest asks for playback of one tuning on one device. Exactly one of
// FM and DAB must be set.
type StartRequest struct {
	DeviceID string
	Title    string
	FM       *models.FMTuning
	DAB      *models.DABTuning
}

func (r StartRequest) mode() (models.RadioMode, error) {
	switch {
	case r.FM != nil && r.DAB == nil:
		return models.ModeFM, nil
	case r.DAB != nil && r.FM == nil:
		return models.ModeDAB, nil
	}
	return models.ModeIdle, ErrNoTuning
}

func defaultTitle(r StartRequest) string {
	if r.Title != "" {
		return r.Title
	}
	if r.FM != nil {
		return fmt.Sprintf("FM %.1f MHz", r.FM.Frequency)
	}
	if r.DAB.Program != "" {
		return r.DAB.Program
	}
	return "DAB+ " + r.DAB.Channel
}

// Start tunes the requested mode and hands the stream URL to the device. Any
// failure leaves the controller STOPPED and IDLE.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	mode, err := req.mode()
	if err != nil {
		return err
	}
	sink, err := c.sinks.Get(req.DeviceID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cleanup := context.WithoutCancel(ctx)

	if c.sink != nil && c.sink.Device().ID != sink.Device().ID && c.state != models.StateStopped {
		_ = c.stopSink(cleanup, c.sink)
	}
	c.sink = nil

	c.stopOther(ctx, mode)
	c.setState(models.StateBuffering, mode)

	fail := func(err error) error {
		if serr := c.stopSource(cleanup, mode); serr != nil {
			slog.Warn("controller: stop source after failure", "mode", mode, "err", serr)
		}
		if serr := c.server.Stop(cleanup); serr != nil {
			slog.Warn("controller: stop stream server after failure", "err", serr)
		}
		c.setState(models.StateStopped, models.ModeIdle)
		return err
	}

	buffer := c.fmBuffer
	if mode == models.ModeFM {
		err = c.tuneFM(ctx, *req.FM)
	} else {
		err = c.tuneDAB(ctx, *req.DAB)
		buffer = c.dabBuffer
	}
	if err != nil {
		slog.Error("controller: tune failed", "mode", mode, "err", err)
		return fail(fmt.Errorf("tune %s: %w", mode, err))
	}

	if err := c.server.Start(ctx); err != nil {
		return fail(fmt.Errorf("start stream server: %w", err))
	}
	if err := sleepCtx(ctx, buffer); err != nil {
		return fail(err)
	}

	url := c.server.URL()
	title := defaultTitle(req)
	if err := sink.Play(ctx, url, title); err != nil {
		c.metrics.RecordSinkError(sink.Device().Type, "play")
		slog.Error("controller: sink play failed", "device", sink.Device().ID, "err", err)
		return fail(fmt.Errorf("play on %s: %w", sink.Device().Name, err))
	}

	c.sink = sink
	c.title = title
	c.setState(models.StatePlaying, mode)
	slog.Info("controller: playing", "mode", mode, "device", sink.Device().ID, "url", url)
	return nil
}

func (c *Controller) stopSink(ctx context.Context, s sinks.Sink) error {
	if err := s.Stop(ctx); err != nil {
		c.metrics.RecordSinkError(s.Device().Type, "stop")
		slog.Warn("controller: sink stop failed", "device", s.Device().ID, "err", err)
		return fmt.Errorf("stop %s: %w", s.Device().Name, err)
	}
	return nil
}

// Stop ends playback. It is idempotent; errors from the individual steps are
// joined but every step is attempted.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(ctx)
}

func (c *Controller) stopLocked(ctx context.Context) error {
	var errs []error
	if c.sink != nil && c.state != models.StateStopped {
		if err := c.stopSink(ctx, c.sink); err != nil {
			errs = append(errs, err)
		}
	}
	c.sink = nil
	if err := c.stopSource(ctx, c.mode); err != nil {
		errs = append(errs, err)
	}
	if err := c.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop stream server: %w", err))
	}
	if c.state != models.StateStopped || c.mode != models.ModeIdle {
		slog.Info("controller: stopped")
	}
	c.setState(models.StateStopped, models.ModeIdle)
	return errors.Join(errs...)
}

// Pause pauses the sink. The source keeps running.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != models.StatePlaying || c.sink == nil {
		return ErrWrongState
	}
	if err := c.sink.Pause(ctx); err != nil {
		c.metrics.RecordSinkError(c.sink.Device().Type, "pause")
		return fmt.Errorf("pause: %w", err)
	}
	c.setState(models.StatePaused, c.mode)
	return nil
}

// Resume continues a paused sink, replaying the stream URL when the sink
// cannot resume on its own.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != models.StatePaused || c.sink == nil {
		return ErrWrongState
	}
	var err error
	if r, ok := c.sink.(sinks.Resumer); ok {
		err = r.Resume(ctx)
	} else {
		err = c.sink.Play(ctx, c.server.URL(), c.title)
	}
	if err != nil {
		c.metrics.RecordSinkError(c.sink.Device().Type, "resume")
		return fmt.Errorf("resume: %w", err)
	}
	c.setState(models.StatePlaying, c.mode)
	return nil
}

// ChangeFrequency re-tunes FM while playing or paused. The sink keeps pulling
// the same URL. A failed tune stops playback.
func (c *Controller) ChangeFrequency(ctx context.Context, t models.FMTuning) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changeFrequencyLocked(ctx, t)
}

func (c *Controller) changeFrequencyLocked(ctx context.Context, t models.FMTuning) error {
	if c.state != models.StatePlaying && c.state != models.StatePaused {
		return ErrWrongState
	}
	c.stopOther(ctx, models.ModeFM)
	if err := c.tuneFM(ctx, t); err != nil {
		slog.Error("controller: change frequency failed", "frequency", t.Frequency, "err", err)
		c.mode = models.ModeFM
		_ = c.stopLocked(context.WithoutCancel(ctx))
		return fmt.Errorf("tune fm: %w", err)
	}
	c.title = fmt.Sprintf("FM %.1f MHz", t.Frequency)
	c.setState(c.state, models.ModeFM)
	return nil
}

// ChangeProgram re-tunes DAB+ while playing or paused.
func (c *Controller) ChangeProgram(ctx context.Context, t models.DABTuning) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changeProgramLocked(ctx, t)
}

func (c *Controller) changeProgramLocked(ctx context.Context, t models.DABTuning) error {
	if c.state != models.StatePlaying && c.state != models.StatePaused {
		return ErrWrongState
	}
	c.stopOther(ctx, models.ModeDAB)
	if err := c.tuneDAB(ctx, t); err != nil {
		slog.Error("controller: change program failed", "channel", t.Channel, "err", err)
		c.mode = models.ModeDAB
		_ = c.stopLocked(context.WithoutCancel(ctx))
		return fmt.Errorf("tune dab: %w", err)
	}
	c.title = defaultTitle(StartRequest{DAB: &t})
	c.setState(c.state, models.ModeDAB)
	return nil
}

// TuneFM tunes FM for direct listeners, stopping DAB+ first. During playback
// it behaves like ChangeFrequency.
func (c *Controller) TuneFM(ctx context.Context, t models.FMTuning) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == models.StatePlaying || c.state == models.StatePaused {
		return c.changeFrequencyLocked(ctx, t)
	}
	c.stopOther(ctx, models.ModeFM)
	if err := c.tuneFM(ctx, t); err != nil {
		c.setState(c.state, models.ModeIdle)
		return err
	}
	c.setState(c.state, models.ModeFM)
	return nil
}

// TuneDAB tunes DAB+ for direct listeners, stopping FM first.
func (c *Controller) TuneDAB(ctx context.Context, t models.DABTuning) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == models.StatePlaying || c.state == models.StatePaused {
		return c.changeProgramLocked(ctx, t)
	}
	c.stopOther(ctx, models.ModeDAB)
	if err := c.tuneDAB(ctx, t); err != nil {
		c.setState(c.state, models.ModeIdle)
		return err
	}
	c.setState(c.state, models.ModeDAB)
	return nil
}

// StopSource stops one mode's source. If that mode was feeding a sink,
// playback stops as well.
func (c *Controller) StopSource(ctx context.Context, mode models.RadioMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == mode && c.state != models.StateStopped {
		return c.stopLocked(ctx)
	}
	err := c.stopSource(ctx, mode)
	if c.mode == mode {
		c.setState(c.state, models.ModeIdle)
	}
	return err
}

// ScanDAB scans channels for DAB+ services. The controller is held for the
// whole scan so no other tune can start a second decoder on the dongle. FM
// playback is stopped first. The DAB+ source restores its previous tuning
// afterwards, or stops if it had none.
func (c *Controller) ScanDAB(ctx context.Context, channels []string) []models.DabScanResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == models.ModeFM && c.state != models.StateStopped {
		_ = c.stopLocked(ctx)
	}
	c.stopOther(ctx, models.ModeDAB)
	c.setState(c.state, models.ModeDAB)

	results := c.dab.ScanChannels(ctx, channels)

	switch {
	case c.dab.Running():
		c.setState(c.state, models.ModeDAB)
	case c.state != models.StateStopped:
		slog.Warn("controller: DAB+ not restored after scan, stopping playback")
		_ = c.stopLocked(context.WithoutCancel(ctx))
	default:
		c.setState(c.state, models.ModeIdle)
	}
	return results
}
