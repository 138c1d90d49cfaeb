package controller_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/controller"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/events"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/sinks"
)

// fakeSource stands in for both FM and DAB sources.
type fakeSource struct {
	mu      sync.Mutex
	running bool
	tunes   int
	stops   int
	tuneErr error
	fm      *models.FMTuning
	dab     *models.DABTuning
}

func (s *fakeSource) tune() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tunes++
	if s.tuneErr != nil {
		s.running = false
		return s.tuneErr
	}
	s.running = true
	return nil
}

func (s *fakeSource) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.running = false
	return nil
}

func (s *fakeSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *fakeSource) Ready() bool { return s.Running() }

type fakeFM struct{ fakeSource }

func (f *fakeFM) Tune(_ context.Context, t models.FMTuning) error {
	f.fm = &t
	return f.tune()
}

type fakeDAB struct {
	fakeSource
	// scanStarted is closed when a scan begins. When scanStep is set, each
	// scanned channel waits for a value on it.
	scanStarted chan struct{}
	scanStep    chan struct{}
}

func (f *fakeDAB) Tune(_ context.Context, t models.DABTuning) error {
	f.dab = &t
	return f.tune()
}

// ScanChannels tunes each channel, then restores the previous tuning or
// stops, like the real source.
func (f *fakeDAB) ScanChannels(ctx context.Context, channels []string) []models.DabScanResult {
	if f.scanStarted != nil {
		close(f.scanStarted)
	}
	orig := f.dab
	wasRunning := f.Running()
	out := make([]models.DabScanResult, 0, len(channels))
	for _, ch := range channels {
		_ = f.Tune(ctx, models.DABTuning{Channel: ch})
		if f.scanStep != nil {
			<-f.scanStep
		}
		out = append(out, models.DabScanResult{Channel: ch, Programs: []models.DabProgram{}})
	}
	if wasRunning && orig != nil {
		_ = f.Tune(ctx, *orig)
	} else {
		_ = f.Stop(ctx)
	}
	return out
}

func (f *fakeDAB) Status() models.DabStatus {
	st := models.DabStatus{IsRunning: f.Running()}
	if f.dab != nil {
		st.ServiceID = models.Ptr(15361)
	}
	return st
}

type fakeSink struct {
	mu      sync.Mutex
	id      string
	calls   []string
	playErr error
	url     string
}

func (s *fakeSink) record(c string) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}

func (s *fakeSink) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSink) Device() sinks.Device {
	return sinks.Device{ID: "test:" + s.id, Name: s.id, Type: "test"}
}

func (s *fakeSink) Play(_ context.Context, url, _ string) error {
	s.record("play")
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return s.playErr
}

func (s *fakeSink) Stop(context.Context) error  { s.record("stop"); return nil }
func (s *fakeSink) Pause(context.Context) error { s.record("pause"); return nil }

func (s *fakeSink) SetVolume(context.Context, float64) error { return nil }
func (s *fakeSink) Volume(context.Context) (float64, error)  { return 0.5, nil }
func (s *fakeSink) SetMute(context.Context, bool) error      { return nil }

// resumingSink can resume natively.
type resumingSink struct{ fakeSink }

func (s *resumingSink) Resume(context.Context) error { s.record("resume"); return nil }

type fakeServer struct {
	mu      sync.Mutex
	running bool
	starts  int
}

func (s *fakeServer) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.starts++
	return nil
}

func (s *fakeServer) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *fakeServer) URL() string { return "http://10.0.0.2:8089/stream.mp3" }

func (s *fakeServer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

type rig struct {
	ctrl   *controller.Controller
	fm     *fakeFM
	dab    *fakeDAB
	server *fakeServer
	reg    *sinks.Registry
	bus    *events.Bus
}

func newRig(t *testing.T, ss ...sinks.Sink) *rig {
	t.Helper()
	r := &rig{fm: &fakeFM{}, dab: &fakeDAB{}, server: &fakeServer{}, reg: sinks.NewRegistry(), bus: events.NewBus()}
	for _, s := range ss {
		r.reg.Add(s)
	}
	r.ctrl = controller.New(r.fm, r.dab, r.reg, r.server,
		controller.WithBufferDelays(time.Millisecond, time.Millisecond),
		controller.WithEvents(r.bus))
	return r
}

func fmReq(dev string, mhz float64) controller.StartRequest {
	return controller.StartRequest{DeviceID: dev, FM: &models.FMTuning{Frequency: mhz, Modulation: models.ModWFM}}
}

func dabReq(dev, channel, program string) controller.StartRequest {
	return controller.StartRequest{DeviceID: dev, DAB: &models.DABTuning{Channel: channel, Program: program}}
}

func assertState(t *testing.T, c *controller.Controller, state models.PlaybackState, mode models.RadioMode) {
	t.Helper()
	if got := c.State(); got != state {
		t.Errorf("state = %s, want %s", got, state)
	}
	if got := c.Mode(); got != mode {
		t.Errorf("mode = %s, want %s", got, mode)
	}
}

func TestInitialState(t *testing.T) {
	r := newRig(t)
	assertState(t, r.ctrl, models.StateStopped, models.ModeIdle)
	st := r.ctrl.Status()
	if st.DeviceID != nil || st.StreamURL != nil {
		t.Errorf("status = %+v", st)
	}
}

func TestStartFM(t *testing.T) {
	sink := &fakeSink{id: "kitchen"}
	r := newRig(t, sink)

	if err := r.ctrl.Start(context.Background(), fmReq("kitchen", 101.1)); err != nil {
		t.Fatal(err)
	}
	assertState(t, r.ctrl, models.StatePlaying, models.ModeFM)
	if !r.server.Running() {
		t.Error("stream server not started")
	}
	if sink.url != "http://10.0.0.2:8089/stream.mp3" {
		t.Errorf("sink url = %q", sink.url)
	}

	st := r.ctrl.Status()
	if st.DeviceID == nil || *st.DeviceID != "test:kitchen" {
		t.Errorf("device id = %v", st.DeviceID)
	}
	if st.Frequency == nil || *st.Frequency != 101.1 {
		t.Errorf("frequency = %v", st.Frequency)
	}
	if st.StreamURL == nil {
		t.Error("stream url missing while playing")
	}

	ev, ok := r.bus.Last("playback")
	if !ok || ev.Playback.State != models.StatePlaying {
		t.Errorf("last playback event = %+v", ev)
	}
}

func TestModeMutualExclusion(t *testing.T) {
	sink := &fakeSink{id: "kitchen"}
	r := newRig(t, sink)
	ctx := context.Background()

	if err := r.ctrl.Start(ctx, fmReq("kitchen", 101.1)); err != nil {
		t.Fatal(err)
	}
	if err := r.ctrl.Start(ctx, dabReq("kitchen", "9B", "Triple J")); err != nil {
		t.Fatal(err)
	}
	if r.fm.Running() {
		t.Error("FM still running after switching to DAB+")
	}
	if !r.dab.Running() {
		t.Error("DAB+ not running")
	}
	assertState(t, r.ctrl, models.StatePlaying, models.ModeDAB)
	if st := r.ctrl.Status(); st.DabServiceID == nil || *st.DabServiceID != 15361 {
		t.Errorf("service id = %v", st.DabServiceID)
	}

	if err := r.ctrl.ChangeFrequency(ctx, models.FMTuning{Frequency: 98.5, Modulation: models.ModWFM}); err != nil {
		t.Fatal(err)
	}
	if r.dab.Running() || !r.fm.Running() {
		t.Errorf("after change: fm=%v dab=%v", r.fm.Running(), r.dab.Running())
	}
	assertState(t, r.ctrl, models.StatePlaying, models.ModeFM)
}

func TestStartTuneFailureReverts(t *testing.T) {
	sink := &fakeSink{id: "kitchen"}
	r := newRig(t, sink)
	r.dab.tuneErr = errors.New("welle-cli exited")

	err := r.ctrl.Start(context.Background(), dabReq("kitchen", "9B", ""))
	if err == nil {
		t.Fatal("expected tune failure")
	}
	assertState(t, r.ctrl, models.StateStopped, models.ModeIdle)
	if len(sink.Calls()) != 0 {
		t.Errorf("sink touched on tune failure: %v", sink.Calls())
	}
}

func TestStartPlayFailureStopsSource(t *testing.T) {
	sink := &fakeSink{id: "kitchen", playErr: errors.New("unreachable")}
	r := newRig(t, sink)

	if err := r.ctrl.Start(context.Background(), fmReq("kitchen", 101.1)); err == nil {
		t.Fatal("expected play failure")
	}
	assertState(t, r.ctrl, models.StateStopped, models.ModeIdle)
	if r.fm.Running() {
		t.Error("source left running after play failure")
	}
	if r.server.Running() {
		t.Error("stream server left listening after play failure")
	}
}

func TestStartUnknownDevice(t *testing.T) {
	r := newRig(t)
	err := r.ctrl.Start(context.Background(), fmReq("nope", 101.1))
	if !errors.Is(err, sinks.ErrUnknownSink) {
		t.Errorf("err = %v", err)
	}
	if r.fm.tunes != 0 {
		t.Error("tuned for an unknown device")
	}
}

func TestStartNeedsExactlyOneMode(t *testing.T) {
	r := newRig(t, &fakeSink{id: "kitchen"})
	req := fmReq("kitchen", 101.1)
	req.DAB = &models.DABTuning{Channel: "9B"}
	if err := r.ctrl.Start(context.Background(), req); !errors.Is(err, controller.ErrNoTuning) {
		t.Errorf("err = %v", err)
	}
	if err := r.ctrl.Start(context.Background(), controller.StartRequest{DeviceID: "kitchen"}); !errors.Is(err, controller.ErrNoTuning) {
		t.Errorf("err = %v", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	sink := &fakeSink{id: "kitchen"}
	r := newRig(t, sink)
	ctx := context.Background()

	if err := r.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop when stopped: %v", err)
	}
	if err := r.ctrl.Start(ctx, fmReq("kitchen", 101.1)); err != nil {
		t.Fatal(err)
	}
	if err := r.ctrl.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.ctrl.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	assertState(t, r.ctrl, models.StateStopped, models.ModeIdle)
	if r.fm.Running() || r.server.Running() {
		t.Error("source or server still running after Stop")
	}
	stops := 0
	for _, c := range sink.Calls() {
		if c == "stop" {
			stops++
		}
	}
	if stops != 1 {
		t.Errorf("sink stopped %d times", stops)
	}
}

func TestPauseResumeWrongState(t *testing.T) {
	r := newRig(t, &fakeSink{id: "kitchen"})
	ctx := context.Background()
	if err := r.ctrl.Pause(ctx); !errors.Is(err, controller.ErrWrongState) {
		t.Errorf("Pause when stopped = %v", err)
	}
	if err := r.ctrl.Resume(ctx); !errors.Is(err, controller.ErrWrongState) {
		t.Errorf("Resume when stopped = %v", err)
	}
	if err := r.ctrl.ChangeFrequency(ctx, models.FMTuning{Frequency: 99.9}); !errors.Is(err, controller.ErrWrongState) {
		t.Errorf("ChangeFrequency when stopped = %v", err)
	}
	if err := r.ctrl.Start(ctx, fmReq("kitchen", 101.1)); err != nil {
		t.Fatal(err)
	}
	if err := r.ctrl.Resume(ctx); !errors.Is(err, controller.ErrWrongState) {
		t.Errorf("Resume when playing = %v", err)
	}
	assertState(t, r.ctrl, models.StatePlaying, models.ModeFM)
}

func TestResumeReplaysWithoutResumer(t *testing.T) {
	sink := &fakeSink{id: "cast"}
	r := newRig(t, sink)
	ctx := context.Background()

	if err := r.ctrl.Start(ctx, fmReq("cast", 101.1)); err != nil {
		t.Fatal(err)
	}
	if err := r.ctrl.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	assertState(t, r.ctrl, models.StatePaused, models.ModeFM)
	if !r.fm.Running() {
		t.Error("pause stopped the source")
	}
	if err := r.ctrl.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	calls := sink.Calls()
	if len(calls) != 3 || calls[2] != "play" {
		t.Errorf("calls = %v, want play pause play", calls)
	}
	assertState(t, r.ctrl, models.StatePlaying, models.ModeFM)
}

func TestResumeNative(t *testing.T) {
	sink := &resumingSink{fakeSink{id: "lms"}}
	r := newRig(t, sink)
	ctx := context.Background()

	if err := r.ctrl.Start(ctx, fmReq("lms", 101.1)); err != nil {
		t.Fatal(err)
	}
	if err := r.ctrl.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.ctrl.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	calls := sink.Calls()
	if calls[len(calls)-1] != "resume" {
		t.Errorf("calls = %v", calls)
	}
}

func TestChangeFailureStops(t *testing.T) {
	sink := &fakeSink{id: "kitchen"}
	r := newRig(t, sink)
	ctx := context.Background()
	if err := r.ctrl.Start(ctx, fmReq("kitchen", 101.1)); err != nil {
		t.Fatal(err)
	}
	r.dab.tuneErr = errors.New("no signal")
	if err := r.ctrl.ChangeProgram(ctx, models.DABTuning{Channel: "9C"}); err == nil {
		t.Fatal("expected failure")
	}
	assertState(t, r.ctrl, models.StateStopped, models.ModeIdle)
	if r.fm.Running() || r.dab.Running() {
		t.Error("a source is still running")
	}
}

func TestDirectTune(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	if err := r.ctrl.TuneDAB(ctx, models.DABTuning{Channel: "9B"}); err != nil {
		t.Fatal(err)
	}
	assertState(t, r.ctrl, models.StateStopped, models.ModeDAB)
	if err := r.ctrl.TuneFM(ctx, models.FMTuning{Frequency: 101.1}); err != nil {
		t.Fatal(err)
	}
	if r.dab.Running() {
		t.Error("DAB+ still running after FM tune")
	}
	assertState(t, r.ctrl, models.StateStopped, models.ModeFM)

	if err := r.ctrl.StopSource(ctx, models.ModeFM); err != nil {
		t.Fatal(err)
	}
	assertState(t, r.ctrl, models.StateStopped, models.ModeIdle)

	r.fm.tuneErr = errors.New("rtl_fm exited")
	if err := r.ctrl.TuneFM(ctx, models.FMTuning{Frequency: 101.1}); err == nil {
		t.Fatal("expected failure")
	}
	assertState(t, r.ctrl, models.StateStopped, models.ModeIdle)
}

func TestStopSourceEndsPlayback(t *testing.T) {
	sink := &fakeSink{id: "kitchen"}
	r := newRig(t, sink)
	ctx := context.Background()
	if err := r.ctrl.Start(ctx, dabReq("kitchen", "9B", "Triple J")); err != nil {
		t.Fatal(err)
	}
	if err := r.ctrl.StopSource(ctx, models.ModeDAB); err != nil {
		t.Fatal(err)
	}
	assertState(t, r.ctrl, models.StateStopped, models.ModeIdle)
	calls := sink.Calls()
	if calls[len(calls)-1] != "stop" {
		t.Errorf("sink not stopped: %v", calls)
	}
}

func TestSwitchDeviceStopsPrevious(t *testing.T) {
	a, b := &fakeSink{id: "a"}, &fakeSink{id: "b"}
	r := newRig(t, a, b)
	ctx := context.Background()
	if err := r.ctrl.Start(ctx, fmReq("a", 101.1)); err != nil {
		t.Fatal(err)
	}
	if err := r.ctrl.Start(ctx, fmReq("b", 101.1)); err != nil {
		t.Fatal(err)
	}
	if calls := a.Calls(); calls[len(calls)-1] != "stop" {
		t.Errorf("previous device calls = %v", calls)
	}
	if st := r.ctrl.Status(); *st.DeviceID != "test:b" {
		t.Errorf("device = %s", *st.DeviceID)
	}
}

func TestScanHoldsTunerAgainstFMTune(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	if err := r.ctrl.TuneFM(ctx, models.FMTuning{Frequency: 101.1}); err != nil {
		t.Fatal(err)
	}

	r.dab.scanStarted = make(chan struct{})
	r.dab.scanStep = make(chan struct{})
	done := make(chan []models.DabScanResult, 1)
	go func() { done <- r.ctrl.ScanDAB(ctx, []string{"9A", "9B", "9C"}) }()

	<-r.dab.scanStarted
	if r.fm.Running() {
		t.Error("FM still running when scan began")
	}

	tuned := make(chan error, 1)
	go func() { tuned <- r.ctrl.TuneFM(ctx, models.FMTuning{Frequency: 93.7}) }()

	for i := 0; i < 3; i++ {
		select {
		case <-tuned:
			t.Fatalf("FM tuned during scan step %d", i)
		case <-time.After(20 * time.Millisecond):
		}
		if r.fm.Running() && r.dab.Running() {
			t.Fatalf("FM and DAB+ running together at scan step %d", i)
		}
		r.dab.scanStep <- struct{}{}
	}

	if res := <-done; len(res) != 3 {
		t.Errorf("scan results = %d, want 3", len(res))
	}
	if err := <-tuned; err != nil {
		t.Fatalf("TuneFM after scan: %v", err)
	}
	if r.dab.Running() || !r.fm.Running() {
		t.Errorf("after scan and tune: fm=%v dab=%v", r.fm.Running(), r.dab.Running())
	}
	assertState(t, r.ctrl, models.StateStopped, models.ModeFM)
}

func TestScanStopsFMPlayback(t *testing.T) {
	sink := &fakeSink{id: "kitchen"}
	r := newRig(t, sink)
	ctx := context.Background()
	if err := r.ctrl.Start(ctx, fmReq("kitchen", 101.1)); err != nil {
		t.Fatal(err)
	}

	r.ctrl.ScanDAB(ctx, []string{"9A"})

	assertState(t, r.ctrl, models.StateStopped, models.ModeIdle)
	if r.fm.Running() || r.dab.Running() {
		t.Errorf("after scan: fm=%v dab=%v", r.fm.Running(), r.dab.Running())
	}
	if calls := sink.Calls(); calls[len(calls)-1] != "stop" {
		t.Errorf("sink not stopped: %v", calls)
	}
}

func TestScanRestoresDABPlayback(t *testing.T) {
	sink := &fakeSink{id: "kitchen"}
	r := newRig(t, sink)
	ctx := context.Background()
	if err := r.ctrl.Start(ctx, dabReq("kitchen", "9B", "Triple J")); err != nil {
		t.Fatal(err)
	}

	r.ctrl.ScanDAB(ctx, []string{"9A", "9C"})

	assertState(t, r.ctrl, models.StatePlaying, models.ModeDAB)
	if st := r.ctrl.Status(); st.DabChannel == nil || *st.DabChannel != "9B" {
		t.Errorf("channel after scan = %v, want 9B", st.DabChannel)
	}
	if r.dab.dab == nil || r.dab.dab.Channel != "9B" {
		t.Errorf("source tuning after scan = %+v", r.dab.dab)
	}
}
