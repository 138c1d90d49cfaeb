package streams

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

const (
	muxTimeout      = 10 * time.Second
	metadataTimeout = 5 * time.Second
	slideTimeout    = 3 * time.Second
	minSlideBytes   = 100
)

// DABConfig holds the welle-cli parameters.
type DABConfig struct {
	Binary string
	Port   int
	// BaseURL overrides http://localhost:<Port>.
	BaseURL        string
	Settle         time.Duration
	ScanSettle     time.Duration
	ReadTimeout    time.Duration
	TerminateGrace time.Duration
	ScanChannels   []string
	// MetadataInterval is the minimum spacing of mux.json polls made on
	// behalf of metadata callers. Callers in between get the cached result.
	MetadataInterval time.Duration
}

// DefaultDABConfig returns the standard welle-cli setup.
func DefaultDABConfig() DABConfig {
	return DABConfig{
		Binary:           "welle-cli",
		Port:             8188,
		Settle:           5 * time.Second,
		ScanSettle:       2 * time.Second,
		ReadTimeout:      5 * time.Second,
		TerminateGrace:   2 * time.Second,
		ScanChannels:     DefaultScanChannels,
		MetadataInterval: 2 * time.Second,
	}
}

// audioConn is the persistent HTTP response carrying the service's MP3.
type audioConn struct {
	body   io.ReadCloser
	cancel context.CancelFunc
}

func (c *audioConn) close() {
	c.cancel()
	_ = c.body.Close()
}

// DABSource runs welle-cli on one channel and pulls the selected service's
// MP3 from its built-in web server.
type DABSource struct {
	cfg     DABConfig
	spawner Spawner
	client  *http.Client

	mu     sync.Mutex // tune and stop
	scanMu sync.Mutex
	readMu sync.Mutex // one reader at a time
	ready  atomic.Bool

	stateMu   sync.RWMutex
	proc      Process
	channel   string
	program   string
	serviceID *int
	ensemble  string

	connMu sync.Mutex
	conn   *audioConn

	metaLimiter *rate.Limiter
	metaMu      sync.Mutex
	lastMeta    *models.DabMetadata
}

// NewDABSource returns a stopped DAB source.
func NewDABSource(spawner Spawner, cfg DABConfig) *DABSource {
	if len(cfg.ScanChannels) == 0 {
		cfg.ScanChannels = DefaultScanChannels
	}
	interval := rate.Inf
	if cfg.MetadataInterval > 0 {
		interval = rate.Every(cfg.MetadataInterval)
	}
	return &DABSource{
		cfg:         cfg,
		spawner:     spawner,
		client:      &http.Client{},
		metaLimiter: rate.NewLimiter(interval, 1),
	}
}

// BaseURL is the root of welle-cli's web server.
func (s *DABSource) BaseURL() string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/")
	}
	return "http://localhost:" + strconv.Itoa(s.cfg.Port)
}

// AudioURL is welle-cli's MP3 endpoint for the current service, or "".
func (s *DABSource) AudioURL() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.serviceID == nil {
		return ""
	}
	return fmt.Sprintf("%s/mp3/%d", s.BaseURL(), *s.serviceID)
}

// Tune starts welle-cli on t.Channel and resolves the service. The source is
// ready only once a service id is known.
func (s *DABSource) Tune(ctx context.Context, t models.DABTuning) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready.Store(false)
	ch, ok := LookupChannel(t.Channel)
	if !ok {
		return fmt.Errorf("dab: %w: %q", ErrInvalidChannel, t.Channel)
	}

	s.stopProcess()
	slog.Info("dab: tuning", "channel", ch.ID, "program", t.Program, "service_id", t.ServiceID)

	proc, err := s.spawner.Spawn(ctx, Command{
		Name: s.cfg.Binary,
		Args: []string{"-c", ch.ID, "-w", strconv.Itoa(s.cfg.Port)},
	})
	if err != nil {
		return fmt.Errorf("dab: start welle-cli: %w", err)
	}

	s.stateMu.Lock()
	s.proc = proc
	s.channel, s.program, s.ensemble = ch.ID, t.Program, ""
	s.serviceID = nil
	if t.ServiceID != nil {
		s.serviceID = models.Ptr(*t.ServiceID)
	}
	s.stateMu.Unlock()

	if err := sleepCtx(ctx, s.cfg.Settle); err != nil {
		s.stopProcess()
		return fmt.Errorf("dab: tune interrupted: %w", err)
	}
	if !proc.Alive() {
		diag := proc.Diagnostics()
		s.stopProcess()
		slog.Error("dab: welle-cli exited during startup", "channel", ch.ID, "stderr", diag)
		return fmt.Errorf("dab: welle-cli: %w: %s", ErrDecoderExited, diag)
	}

	if t.ServiceID == nil && t.Program != "" {
		s.resolveProgram(ctx, t.Program)
	}

	s.stateMu.RLock()
	resolved := s.serviceID != nil
	s.stateMu.RUnlock()
	if resolved {
		s.ready.Store(true)
	}
	slog.Info("dab: tuned", "channel", ch.ID, "pid", proc.Pid(), "ready", resolved)
	return nil
}

func (s *DABSource) resolveProgram(ctx context.Context, name string) {
	programs, err := s.fetchPrograms(ctx)
	if err != nil {
		slog.Warn("dab: program lookup failed", "program", name, "err", err)
		return
	}
	p, ok := MatchProgram(programs, name)
	if !ok {
		slog.Warn("dab: program not found on channel", "program", name, "available", len(programs))
		return
	}
	s.stateMu.Lock()
	s.serviceID = models.Ptr(p.ServiceID)
	s.program = p.Name
	s.ensemble = p.Ensemble
	s.stateMu.Unlock()
	slog.Info("dab: program resolved", "program", p.Name, "service_id", fmt.Sprintf("0x%04x", p.ServiceID))
}

// Stop terminates welle-cli. It is idempotent.
func (s *DABSource) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Running() {
		slog.Info("dab: stopping")
	}
	s.stopProcess()
	return nil
}

// stopProcess must be called with s.mu held.
func (s *DABSource) stopProcess() {
	s.ready.Store(false)
	s.dropConnection(nil)

	s.stateMu.Lock()
	proc := s.proc
	s.proc = nil
	s.channel, s.program, s.ensemble = "", "", ""
	s.serviceID = nil
	s.stateMu.Unlock()

	s.metaMu.Lock()
	s.lastMeta = nil
	s.metaMu.Unlock()

	terminate(proc, s.cfg.TerminateGrace, "welle-cli")
}

// Running reports whether welle-cli is alive.
func (s *DABSource) Running() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.proc != nil && s.proc.Alive()
}

// Ready reports whether reads will return audio.
func (s *DABSource) Ready() bool {
	return s.ready.Load() && s.Running()
}

// Tuning returns the active tuning, or nil when stopped.
func (s *DABSource) Tuning() *models.DABTuning {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.proc == nil {
		return nil
	}
	t := &models.DABTuning{Channel: s.channel, Program: s.program}
	if s.serviceID != nil {
		t.ServiceID = models.Ptr(*s.serviceID)
	}
	return t
}

// Status returns a snapshot of the source.
func (s *DABSource) Status() models.DabStatus {
	st := models.DabStatus{IsRunning: s.Running(), Ready: s.Ready()}
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.channel != "" {
		st.Channel = models.Ptr(s.channel)
	}
	if s.program != "" {
		st.Program = models.Ptr(s.program)
	}
	if s.serviceID != nil {
		st.ServiceID = models.Ptr(*s.serviceID)
	}
	if s.ensemble != "" {
		st.Ensemble = models.Ptr(s.ensemble)
	}
	return st
}

// Pids returns the decoder pid by name.
func (s *DABSource) Pids() map[string]int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	out := map[string]int{}
	if s.proc != nil && s.proc.Alive() {
		out["welle-cli"] = s.proc.Pid()
	}
	return out
}

func (s *DABSource) currentChannel() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.channel
}

// ReadChunk returns up to size bytes of MP3, or nil when not ready or when
// the read failed or timed out. A failed connection is reopened on the next
// call.
func (s *DABSource) ReadChunk(ctx context.Context, size int) []byte {
	if !s.ready.Load() || ctx.Err() != nil {
		return nil
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if !s.ready.Load() {
		return nil
	}

	conn, err := s.connection()
	if err != nil {
		slog.Debug("dab: audio connect failed", "err", err)
		return nil
	}

	buf := make([]byte, size)
	timer := time.AfterFunc(s.cfg.ReadTimeout, conn.cancel)
	n, err := conn.body.Read(buf)
	timedOut := !timer.Stop()

	if timedOut || err != nil {
		if !errors.Is(err, io.EOF) {
			slog.Debug("dab: audio read failed", "timeout", timedOut, "err", err)
		}
		s.dropConnection(conn)
	}
	if n > 0 {
		return buf[:n]
	}
	return nil
}

// connection returns the open audio connection, dialing if needed. Only the
// reader calls it, under readMu.
func (s *DABSource) connection() (*audioConn, error) {
	s.connMu.Lock()
	c := s.conn
	s.connMu.Unlock()
	if c != nil {
		return c, nil
	}

	url := s.AudioURL()
	if url == "" {
		return nil, errors.New("no service selected")
	}
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	timer := time.AfterFunc(s.cfg.ReadTimeout, cancel)
	resp, err := s.client.Do(req)
	if !timer.Stop() {
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		return nil, fmt.Errorf("connect %s: timed out", url)
	}
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("connect %s: HTTP %d", url, resp.StatusCode)
	}

	c = &audioConn{body: resp.Body, cancel: cancel}
	s.connMu.Lock()
	s.conn = c
	s.connMu.Unlock()
	slog.Debug("dab: audio stream connected", "url", url)
	return c, nil
}

// dropConnection closes c if it is still current. A nil c closes whatever
// is open.
func (s *DABSource) dropConnection(c *audioConn) {
	s.connMu.Lock()
	cur := s.conn
	if c == nil || cur == c {
		s.conn = nil
	}
	s.connMu.Unlock()
	if c == nil {
		c = cur
	}
	if c != nil {
		c.close()
	}
}

func (s *DABSource) getJSON(ctx context.Context, path string, timeout time.Duration) (*muxDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL()+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return decodeMux(data)
}

func (s *DABSource) fetchPrograms(ctx context.Context) ([]models.DabProgram, error) {
	doc, err := s.getJSON(ctx, "/mux.json", muxTimeout)
	if err != nil {
		return nil, fmt.Errorf("dab: programs: %w", err)
	}
	s.stateMu.Lock()
	s.ensemble = doc.ensembleName()
	ch := s.channel
	s.stateMu.Unlock()
	return doc.programs(ch), nil
}

// GetPrograms lists the services on channel, re-tuning first when channel
// differs from the current one. An empty channel means the current one.
func (s *DABSource) GetPrograms(ctx context.Context, channel string) ([]models.DabProgram, error) {
	if channel != "" && !strings.EqualFold(channel, s.currentChannel()) {
		if err := s.Tune(ctx, models.DABTuning{Channel: channel}); err != nil {
			return nil, err
		}
	}
	if !s.Running() {
		slog.Warn("dab: welle-cli not running, no programs")
		return []models.DabProgram{}, nil
	}
	return s.fetchPrograms(ctx)
}

// ScanChannels tunes each channel in turn and collects its programs. A failing
// channel yields an empty result. The channel and service active before the
// scan are restored afterwards, even if ctx is cancelled.
func (s *DABSource) ScanChannels(ctx context.Context, channels []string) []models.DabScanResult {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	if len(channels) == 0 {
		channels = s.cfg.ScanChannels
	}
	orig := s.Tuning()
	slog.Info("dab: scan started", "channels", channels)

	results := make([]models.DabScanResult, 0, len(channels))
	for _, ch := range channels {
		res := models.DabScanResult{Channel: strings.ToUpper(ch), Programs: []models.DabProgram{}}
		if ctx.Err() != nil {
			results = append(results, res)
			continue
		}
		if err := s.Tune(ctx, models.DABTuning{Channel: ch}); err != nil {
			slog.Warn("dab: scan tune failed", "channel", ch, "err", err)
			results = append(results, res)
			continue
		}
		if err := sleepCtx(ctx, s.cfg.ScanSettle); err != nil {
			results = append(results, res)
			continue
		}
		progs, err := s.fetchPrograms(ctx)
		if err != nil {
			slog.Warn("dab: scan listing failed", "channel", ch, "err", err)
		} else {
			res.Programs = progs
			if len(progs) > 0 {
				res.Ensemble = models.Ptr(progs[0].Ensemble)
			} else if st := s.Status(); st.Ensemble != nil {
				res.Ensemble = st.Ensemble
			}
		}
		slog.Info("dab: scanned channel", "channel", res.Channel, "programs", len(res.Programs))
		results = append(results, res)
	}

	if orig != nil {
		rctx := context.WithoutCancel(ctx)
		if err := s.Tune(rctx, *orig); err != nil {
			slog.Error("dab: restore after scan failed", "channel", orig.Channel, "err", err)
		}
	} else if err := s.Stop(ctx); err != nil {
		slog.Error("dab: stop after scan failed", "err", err)
	}
	return results
}

// GetMetadata returns now-playing data for the tuned service. Polls of
// welle-cli are rate limited; in between, the last result is returned.
func (s *DABSource) GetMetadata(ctx context.Context) models.DabMetadata {
	s.stateMu.RLock()
	running := s.proc != nil && s.proc.Alive()
	base := models.DabMetadata{IsPlaying: true}
	var sid int
	if s.serviceID != nil {
		sid = *s.serviceID
		base.ServiceID = models.Ptr(sid)
	}
	if s.program != "" {
		base.Program = models.Ptr(s.program)
	}
	if s.ensemble != "" {
		base.Ensemble = models.Ptr(s.ensemble)
	}
	if s.channel != "" {
		base.Channel = models.Ptr(s.channel)
	}
	s.stateMu.RUnlock()

	if !running || base.ServiceID == nil {
		return models.DabMetadata{}
	}

	if !s.metaLimiter.Allow() {
		s.metaMu.Lock()
		cached := s.lastMeta
		s.metaMu.Unlock()
		if cached != nil && cached.ServiceID != nil && *cached.ServiceID == sid {
			return *cached
		}
	}

	doc, err := s.getJSON(ctx, "/mux.json", metadataTimeout)
	if err != nil {
		slog.Warn("dab: metadata fetch failed", "err", err)
		return base
	}
	md := doc.metadataFor(sid, base)
	if img, ctype, err := s.Slide(ctx); err == nil {
		md.MOTImage = models.Ptr(base64.StdEncoding.EncodeToString(img))
		md.MOTContentType = models.Ptr(ctype)
	}

	s.metaMu.Lock()
	s.lastMeta = &md
	s.metaMu.Unlock()
	return md
}

// ErrNoSlide is returned when the service has no slideshow image.
var ErrNoSlide = errors.New("no slide available")

// Slide fetches the current MOT slideshow image of the tuned service.
func (s *DABSource) Slide(ctx context.Context) ([]byte, string, error) {
	s.stateMu.RLock()
	sid := s.serviceID
	s.stateMu.RUnlock()
	if sid == nil || !s.Running() {
		return nil, "", ErrNoSlide
	}

	ctx, cancel := context.WithTimeout(ctx, slideTimeout)
	defer cancel()
	url := fmt.Sprintf("%s/slide/0x%04x", s.BaseURL(), *sid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("dab: slide: %w", err)
	}
	defer resp.Body.Close()

	ctype := resp.Header.Get("Content-Type")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(ctype, "image/") {
		return nil, "", ErrNoSlide
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("dab: slide: %w", err)
	}
	if len(data) < minSlideBytes {
		return nil, "", ErrNoSlide
	}
	return data, ctype, nil
}
