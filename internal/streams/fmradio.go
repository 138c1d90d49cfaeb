package streams

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

// FMConfig holds the rtl_fm → ffmpeg pipeline parameters.
type FMConfig struct {
	RtlFMBinary    string
	FFmpegBinary   string
	SampleRate     int // rtl_fm capture rate, Hz
	OutputRate     int // PCM rate handed to ffmpeg, Hz
	BitrateKbps    int
	Settle         time.Duration
	ReadTimeout    time.Duration
	TerminateGrace time.Duration
}

// DefaultFMConfig returns the standard broadcast FM pipeline.
func DefaultFMConfig() FMConfig {
	return FMConfig{
		RtlFMBinary:    "rtl_fm",
		FFmpegBinary:   "ffmpeg",
		SampleRate:     200000,
		OutputRate:     48000,
		BitrateKbps:    128,
		Settle:         500 * time.Millisecond,
		ReadTimeout:    5 * time.Second,
		TerminateGrace: 2 * time.Second,
	}
}

// FMSource demodulates with rtl_fm and encodes to MP3 with ffmpeg. The MP3
// stream on ffmpeg's stdout is the audio endpoint.
type FMSource struct {
	cfg     FMConfig
	spawner Spawner

	mu     sync.Mutex // tune and stop
	readMu sync.Mutex // one reader at a time
	ready  atomic.Bool

	stateMu sync.RWMutex
	rtl     Process
	enc     Process
	tuning  *models.FMTuning
}

// NewFMSource returns a stopped FM source.
func NewFMSource(spawner Spawner, cfg FMConfig) *FMSource {
	return &FMSource{cfg: cfg, spawner: spawner}
}

// demodMode maps a modulation to the rtl_fm -M value.
func demodMode(m models.Modulation) string {
	switch m {
	case models.ModWFM:
		return "wbfm"
	case models.ModAM:
		return "am"
	default:
		return "fm"
	}
}

func (s *FMSource) rtlArgs(t models.FMTuning) []string {
	gain := "auto"
	if t.Gain != nil {
		gain = strconv.FormatFloat(*t.Gain, 'f', -1, 64)
	}
	args := []string{
		"-f", strconv.Itoa(int(t.Frequency*1e6 + 0.5)),
		"-M", demodMode(t.Modulation),
		"-s", strconv.Itoa(s.cfg.SampleRate),
		"-r", strconv.Itoa(s.cfg.OutputRate),
		"-E", "deemp",
		"-g", gain,
	}
	if t.Squelch != nil && *t.Squelch > 0 {
		args = append(args, "-l", strconv.Itoa(*t.Squelch))
	}
	return args
}

func (s *FMSource) ffmpegArgs() []string {
	return []string{
		"-hide_banner", "-loglevel", "warning",
		"-f", "s16le", "-ar", strconv.Itoa(s.cfg.OutputRate), "-ac", "1",
		"-i", "pipe:0",
		"-c:a", "libmp3lame", "-b:a", strconv.Itoa(s.cfg.BitrateKbps) + "k",
		"-f", "mp3", "pipe:1",
	}
}

// Tune restarts the pipeline on t. The source is not ready until the decoder
// has survived the settle interval.
func (s *FMSource) Tune(ctx context.Context, t models.FMTuning) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready.Store(false)
	if t.Modulation == "" {
		t.Modulation = models.ModWFM
	}
	if !t.Modulation.Valid() {
		return fmt.Errorf("fm: %w: %q", ErrInvalidModulation, t.Modulation)
	}
	if t.Frequency < models.MinFrequencyMHz || t.Frequency > models.MaxFrequencyMHz {
		return fmt.Errorf("fm: %w: %.3f MHz", ErrInvalidFrequency, t.Frequency)
	}

	s.stopProcesses()
	slog.Info("fm: tuning", "frequency", t.Frequency, "modulation", t.Modulation)

	rtl, err := s.spawner.Spawn(ctx, Command{Name: s.cfg.RtlFMBinary, Args: s.rtlArgs(t), Stdout: true})
	if err != nil {
		return fmt.Errorf("fm: start rtl_fm: %w", err)
	}
	enc, err := s.spawner.Spawn(ctx, Command{
		Name:   s.cfg.FFmpegBinary,
		Args:   s.ffmpegArgs(),
		Stdin:  rtl.Stdout(),
		Stdout: true,
	})
	if err != nil {
		terminate(rtl, s.cfg.TerminateGrace, "rtl_fm")
		return fmt.Errorf("fm: start ffmpeg: %w", err)
	}
	// ffmpeg owns the read end now. Dropping ours lets rtl_fm see a broken
	// pipe if ffmpeg dies.
	if c, ok := rtl.Stdout().(io.Closer); ok {
		_ = c.Close()
	}

	s.stateMu.Lock()
	s.rtl, s.enc = rtl, enc
	s.tuning = &t
	s.stateMu.Unlock()

	if err := sleepCtx(ctx, s.cfg.Settle); err != nil {
		s.stopProcesses()
		return fmt.Errorf("fm: tune interrupted: %w", err)
	}
	for _, p := range []struct {
		name string
		proc Process
	}{{"rtl_fm", rtl}, {"ffmpeg", enc}} {
		if !p.proc.Alive() {
			diag := p.proc.Diagnostics()
			s.stopProcesses()
			slog.Error("fm: decoder exited during startup", "name", p.name, "stderr", diag)
			return fmt.Errorf("fm: %s: %w: %s", p.name, ErrDecoderExited, diag)
		}
	}

	s.ready.Store(true)
	slog.Info("fm: tuned", "frequency", t.Frequency, "rtl_pid", rtl.Pid(), "ffmpeg_pid", enc.Pid())
	return nil
}

// Stop terminates the pipeline. It is idempotent.
func (s *FMSource) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Running() {
		slog.Info("fm: stopping")
	}
	s.stopProcesses()
	return nil
}

// stopProcesses must be called with s.mu held.
func (s *FMSource) stopProcesses() {
	s.ready.Store(false)

	s.stateMu.Lock()
	rtl, enc := s.rtl, s.enc
	s.rtl, s.enc, s.tuning = nil, nil, nil
	s.stateMu.Unlock()

	terminate(enc, s.cfg.TerminateGrace, "ffmpeg")
	terminate(rtl, s.cfg.TerminateGrace, "rtl_fm")
}

// Running reports whether rtl_fm is alive.
func (s *FMSource) Running() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.rtl != nil && s.rtl.Alive()
}

// Ready reports whether reads will return audio.
func (s *FMSource) Ready() bool {
	return s.ready.Load() && s.Running()
}

// Tuning returns the active tuning, or nil when stopped.
func (s *FMSource) Tuning() *models.FMTuning {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.tuning == nil {
		return nil
	}
	t := *s.tuning
	return &t
}

// Status returns a snapshot of the source.
func (s *FMSource) Status() models.TunerStatus {
	st := models.TunerStatus{IsRunning: s.Running(), Ready: s.Ready()}
	if t := s.Tuning(); t != nil {
		st.Frequency = models.Ptr(t.Frequency)
		st.Modulation = models.Ptr(t.Modulation)
		st.Gain = t.Gain
		st.Squelch = t.Squelch
	}
	return st
}

// Pids returns the decoder pids by name.
func (s *FMSource) Pids() map[string]int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	out := map[string]int{}
	if s.rtl != nil && s.rtl.Alive() {
		out["rtl_fm"] = s.rtl.Pid()
	}
	if s.enc != nil && s.enc.Alive() {
		out["ffmpeg"] = s.enc.Pid()
	}
	return out
}

// ReadChunk returns up to size bytes of MP3, or nil when the source is not
// ready or the read failed or timed out.
func (s *FMSource) ReadChunk(ctx context.Context, size int) []byte {
	if !s.ready.Load() || ctx.Err() != nil {
		return nil
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.stateMu.RLock()
	enc := s.enc
	s.stateMu.RUnlock()
	if enc == nil || !s.ready.Load() {
		return nil
	}
	r := enc.Stdout()
	if r == nil {
		return nil
	}
	if d, ok := r.(interface{ SetReadDeadline(time.Time) error }); ok && s.cfg.ReadTimeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}

	buf := make([]byte, size)
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n]
	}
	if err != nil {
		slog.Debug("fm: audio read failed", "err", err)
	}
	return nil
}
