package sinks_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/sinks"
)

// lmsServer is a minimal JSON-RPC endpoint for two players.
type lmsServer struct {
	mu       sync.Mutex
	commands []string // "player cmd args..."
	volume   int
	fail     bool
}

func (s *lmsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/jsonrpc.js" {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method != "slim.request" || len(req.Params) != 2 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var player string
	var cmd []string
	_ = json.Unmarshal(req.Params[0], &player)
	_ = json.Unmarshal(req.Params[1], &cmd)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		http.Error(w, "down", http.StatusInternalServerError)
		return
	}
	s.commands = append(s.commands, strings.TrimSpace(player+" "+strings.Join(cmd, " ")))

	var result any = map[string]any{}
	switch {
	case cmd[0] == "players":
		result = map[string]any{"players_loop": []map[string]any{
			{"playerid": "aa:bb:cc:dd:ee:01", "name": "Kitchen", "model": "squeezelite", "ip": "10.0.0.5:41234", "power": 0, "connected": 1},
			{"playerid": "aa:bb:cc:dd:ee:02", "name": "Bedroom", "model": "", "ip": "10.0.0.6", "power": "1", "connected": "1"},
		}}
	case cmd[0] == "status":
		result = map[string]any{"mode": "stop", "mixer volume": s.volume}
	case cmd[0] == "mixer" && cmd[1] == "volume":
		if len(cmd) > 2 {
			var v int
			_ = json.Unmarshal([]byte(cmd[2]), &v)
			s.volume = v
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "result": result})
}

func (s *lmsServer) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func newLMS(t *testing.T) (*lmsServer, *sinks.Registry) {
	t.Helper()
	ls := &lmsServer{volume: 40}
	srv := httptest.NewServer(ls)
	t.Cleanup(srv.Close)
	reg := sinks.NewRegistry(sinks.NewLMSWithURL(srv.URL + "/jsonrpc.js"))
	if _, err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return ls, reg
}

func contains(cmds []string, want string) bool {
	for _, c := range cmds {
		if c == want {
			return true
		}
	}
	return false
}

func TestLMSDiscover(t *testing.T) {
	_, reg := newLMS(t)
	devs := reg.Devices()
	if len(devs) != 2 {
		t.Fatalf("got %d devices", len(devs))
	}
	// Sorted by name.
	bed, kitchen := devs[0], devs[1]
	if bed.Name != "Bedroom" || kitchen.Name != "Kitchen" {
		t.Fatalf("order = %s, %s", bed.Name, kitchen.Name)
	}
	if kitchen.ID != "lms:aa:bb:cc:dd:ee:01" || kitchen.Type != "lms" {
		t.Errorf("kitchen id/type = %s/%s", kitchen.ID, kitchen.Type)
	}
	if kitchen.Address != "10.0.0.5" {
		t.Errorf("address = %q, want port stripped", kitchen.Address)
	}
	if kitchen.Powered || !kitchen.Connected {
		t.Errorf("kitchen powered=%v connected=%v", kitchen.Powered, kitchen.Connected)
	}
	if !bed.Powered {
		t.Error("string power flag not decoded")
	}
	if bed.Model != "Unknown" {
		t.Errorf("model = %q", bed.Model)
	}
	if kitchen.Volume != 0.4 {
		t.Errorf("volume = %v", kitchen.Volume)
	}
}

func TestLMSPlayPowersOn(t *testing.T) {
	ls, reg := newLMS(t)
	ctx := context.Background()
	s, err := reg.Get("aa:bb:cc:dd:ee:01")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Play(ctx, "http://10.0.0.2:8089/stream.mp3", "FM 101.1 MHz"); err != nil {
		t.Fatal(err)
	}
	cmds := ls.sent()
	if !contains(cmds, "aa:bb:cc:dd:ee:01 power 1") {
		t.Errorf("no power on: %v", cmds)
	}
	if !contains(cmds, "aa:bb:cc:dd:ee:01 playlist play http://10.0.0.2:8089/stream.mp3 FM 101.1 MHz") {
		t.Errorf("no playlist play: %v", cmds)
	}
	if d := s.Device(); !d.Playing || !d.Powered {
		t.Errorf("device after play = %+v", d)
	}

	// Already powered: no second power command.
	bed, _ := reg.Get("lms:aa:bb:cc:dd:ee:02")
	if err := bed.Play(ctx, "http://x/stream.mp3", "t"); err != nil {
		t.Fatal(err)
	}
	if contains(ls.sent(), "aa:bb:cc:dd:ee:02 power 1") {
		t.Error("powered player was powered on again")
	}
}

func TestLMSControls(t *testing.T) {
	ls, reg := newLMS(t)
	ctx := context.Background()
	s, _ := reg.Get("lms:aa:bb:cc:dd:ee:01")

	if err := s.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	r, ok := s.(sinks.Resumer)
	if !ok {
		t.Fatal("lms sink does not implement Resumer")
	}
	if err := r.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMute(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetVolume(ctx, 1.7); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	cmds := ls.sent()
	for _, want := range []string{
		"aa:bb:cc:dd:ee:01 pause 1",
		"aa:bb:cc:dd:ee:01 pause 0",
		"aa:bb:cc:dd:ee:01 mixer muting 1",
		"aa:bb:cc:dd:ee:01 mixer volume 100",
		"aa:bb:cc:dd:ee:01 stop",
	} {
		if !contains(cmds, want) {
			t.Errorf("missing %q in %v", want, cmds)
		}
	}
	if d := s.Device(); !d.Muted || d.Volume != 1 || d.Playing {
		t.Errorf("device = %+v", d)
	}

	v, err := s.Volume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("Volume = %v", v)
	}
}

func TestLMSMutedVolumeIsNegative(t *testing.T) {
	ls, reg := newLMS(t)
	ls.mu.Lock()
	ls.volume = -30
	ls.mu.Unlock()

	s, _ := reg.Get("lms:aa:bb:cc:dd:ee:02")
	v, err := s.Volume(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 0.3 || !s.Device().Muted {
		t.Errorf("volume=%v muted=%v", v, s.Device().Muted)
	}
}

func TestRegistryUnknown(t *testing.T) {
	_, reg := newLMS(t)
	if _, err := reg.Get("lms:nope"); !errors.Is(err, sinks.ErrUnknownSink) {
		t.Errorf("err = %v", err)
	}
}

func TestRegistryRefreshFailureKeepsDevices(t *testing.T) {
	ls, reg := newLMS(t)
	ls.mu.Lock()
	ls.fail = true
	ls.mu.Unlock()

	devs, err := reg.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected discovery error")
	}
	if len(devs) != 2 {
		t.Errorf("devices after failed refresh = %d, want previous 2", len(devs))
	}
}

type staticSink struct{ d sinks.Device }

func (s *staticSink) Device() sinks.Device                       { return s.d }
func (s *staticSink) Play(context.Context, string, string) error { return nil }
func (s *staticSink) Stop(context.Context) error                 { return nil }
func (s *staticSink) Pause(context.Context) error                { return nil }
func (s *staticSink) SetVolume(context.Context, float64) error   { return nil }
func (s *staticSink) Volume(context.Context) (float64, error)    { return s.d.Volume, nil }
func (s *staticSink) SetMute(context.Context, bool) error        { return nil }

func TestRegistryAdd(t *testing.T) {
	reg := sinks.NewRegistry()
	reg.Add(&staticSink{d: sinks.Device{ID: "cast:living", Name: "Living Room", Type: "cast"}})
	s, err := reg.Get("living")
	if err != nil {
		t.Fatal(err)
	}
	if s.Device().Name != "Living Room" {
		t.Errorf("got %+v", s.Device())
	}
	devs, err := reg.Refresh(context.Background())
	if err != nil || len(devs) != 1 {
		t.Errorf("Refresh with no providers = %v, %v", devs, err)
	}
}
