package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LMSType is the device id prefix of Logitech Media Server players.
const LMSType = "lms"

// LMS talks to a Logitech Media Server through its JSON-RPC endpoint.
type LMS struct {
	endpoint string
	client   *http.Client

	mu      sync.Mutex
	players map[string]*Device // by player id (MAC)
}

// NewLMS returns a client for the server at host:port.
func NewLMS(host string, port int) *LMS {
	return NewLMSWithURL("http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/jsonrpc.js")
}

// NewLMSWithURL returns a client for an explicit JSON-RPC endpoint.
func NewLMSWithURL(endpoint string) *LMS {
	return &LMS{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		players:  make(map[string]*Device),
	}
}

func (l *LMS) Type() string { return LMSType }

type rpcRequest struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// request runs one slim.request command for playerID ("" for server-level
// commands) and decodes the result into out, when out is non-nil.
func (l *LMS) request(ctx context.Context, playerID string, out any, cmd ...string) error {
	body, err := json.Marshal(rpcRequest{ID: 1, Method: "slim.request", Params: []any{playerID, cmd}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("lms %s: %w", cmd[0], err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("lms %s: %w", cmd[0], err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lms %s: HTTP %d", cmd[0], resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return fmt.Errorf("lms %s: decode: %w", cmd[0], err)
	}
	if rr.Error != nil {
		return fmt.Errorf("lms %s: %s", cmd[0], rr.Error.Message)
	}
	if out != nil && len(rr.Result) > 0 {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("lms %s: decode result: %w", cmd[0], err)
		}
	}
	return nil
}

type lmsPlayersResult struct {
	Players []struct {
		PlayerID  string      `json:"playerid"`
		Name      string      `json:"name"`
		Model     string      `json:"model"`
		IP        string      `json:"ip"`
		Power     json.Number `json:"power"`
		Connected json.Number `json:"connected"`
	} `json:"players_loop"`
}

type lmsStatusResult struct {
	Mode   string      `json:"mode"`
	Power  json.Number `json:"power"`
	Volume json.Number `json:"mixer volume"`
}

func truthy(n json.Number) bool {
	v, err := n.Int64()
	return err == nil && v != 0
}

// applyStatus copies player status into d. LMS reports a muted player as a
// negative volume.
func applyStatus(d *Device, st lmsStatusResult) {
	d.Playing = st.Mode == "play"
	if st.Power != "" {
		d.Powered = truthy(st.Power)
	}
	if v, err := st.Volume.Float64(); err == nil {
		d.Muted = v < 0
		d.Volume = math.Abs(v) / 100
	}
}

// Discover lists the players connected to the server.
func (l *LMS) Discover(ctx context.Context) ([]Sink, error) {
	var res lmsPlayersResult
	if err := l.request(ctx, "", &res, "players", "0", "100"); err != nil {
		return nil, err
	}

	players := make(map[string]*Device, len(res.Players))
	out := make([]Sink, 0, len(res.Players))
	for _, p := range res.Players {
		if p.PlayerID == "" {
			continue
		}
		d := &Device{
			ID:        LMSType + ":" + p.PlayerID,
			Name:      orDefault(p.Name, "Unknown"),
			Type:      LMSType,
			Model:     orDefault(p.Model, "Unknown"),
			Address:   strings.Split(p.IP, ":")[0],
			Powered:   truthy(p.Power),
			Connected: truthy(p.Connected),
			Volume:    0.5,
		}
		var st lmsStatusResult
		if err := l.request(ctx, p.PlayerID, &st, "status", "-", "1"); err != nil {
			slog.Debug("lms: player status failed", "player", p.PlayerID, "err", err)
		} else {
			applyStatus(d, st)
		}
		players[p.PlayerID] = d
		out = append(out, &lmsSink{lms: l, playerID: p.PlayerID})
	}

	l.mu.Lock()
	l.players = players
	l.mu.Unlock()
	return out, nil
}

func (l *LMS) update(playerID string, fn func(*Device)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.players[playerID]; ok {
		fn(d)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// lmsSink is one LMS player.
type lmsSink struct {
	lms      *LMS
	playerID string
}

func (s *lmsSink) Device() Device {
	s.lms.mu.Lock()
	defer s.lms.mu.Unlock()
	if d, ok := s.lms.players[s.playerID]; ok {
		return *d
	}
	return Device{ID: LMSType + ":" + s.playerID, Name: s.playerID, Type: LMSType}
}

func (s *lmsSink) Play(ctx context.Context, url, title string) error {
	if !s.Device().Powered {
		if err := s.lms.request(ctx, s.playerID, nil, "power", "1"); err != nil {
			return err
		}
		s.lms.update(s.playerID, func(d *Device) { d.Powered = true })
	}
	if err := s.lms.request(ctx, s.playerID, nil, "playlist", "play", url, title); err != nil {
		return err
	}
	s.lms.update(s.playerID, func(d *Device) { d.Playing = true })
	slog.Info("lms: playing", "player", s.playerID, "url", url)
	return nil
}

func (s *lmsSink) Stop(ctx context.Context) error {
	if err := s.lms.request(ctx, s.playerID, nil, "stop"); err != nil {
		return err
	}
	s.lms.update(s.playerID, func(d *Device) { d.Playing = false })
	return nil
}

func (s *lmsSink) Pause(ctx context.Context) error {
	if err := s.lms.request(ctx, s.playerID, nil, "pause", "1"); err != nil {
		return err
	}
	s.lms.update(s.playerID, func(d *Device) { d.Playing = false })
	return nil
}

func (s *lmsSink) Resume(ctx context.Context) error {
	if err := s.lms.request(ctx, s.playerID, nil, "pause", "0"); err != nil {
		return err
	}
	s.lms.update(s.playerID, func(d *Device) { d.Playing = true })
	return nil
}

func (s *lmsSink) SetVolume(ctx context.Context, volume float64) error {
	volume = math.Max(0, math.Min(1, volume))
	pct := strconv.Itoa(int(math.Round(volume * 100)))
	if err := s.lms.request(ctx, s.playerID, nil, "mixer", "volume", pct); err != nil {
		return err
	}
	s.lms.update(s.playerID, func(d *Device) { d.Volume = volume })
	return nil
}

func (s *lmsSink) Volume(ctx context.Context) (float64, error) {
	var st lmsStatusResult
	if err := s.lms.request(ctx, s.playerID, &st, "status", "-", "1"); err != nil {
		return 0, err
	}
	var vol float64
	s.lms.update(s.playerID, func(d *Device) {
		applyStatus(d, st)
		vol = d.Volume
	})
	return vol, nil
}

func (s *lmsSink) SetMute(ctx context.Context, muted bool) error {
	v := "0"
	if muted {
		v = "1"
	}
	if err := s.lms.request(ctx, s.playerID, nil, "mixer", "muting", v); err != nil {
		return err
	}
	s.lms.update(s.playerID, func(d *Device) { d.Muted = muted })
	return nil
}
