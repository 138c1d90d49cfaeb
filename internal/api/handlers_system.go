package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

// DecoderHealth is the resource use of one decoder subprocess.
type DecoderHealth struct {
	Name       string  `json:"name"`
	Pid        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
}

// HostHealth is the machine-wide load.
type HostHealth struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	Load1          float64 `json:"load1"`
}

// Health is the body of GET /api/health.
type Health struct {
	Status        string               `json:"status"`
	UptimeSeconds float64              `json:"uptime_seconds"`
	RadioMode     models.RadioMode     `json:"radio_mode"`
	Playback      models.PlaybackState `json:"playback_state"`
	Listeners     int                  `json:"listeners"`
	Lock          models.LockStatus    `json:"lock"`
	Host          *HostHealth          `json:"host,omitempty"`
	Decoders      []DecoderHealth      `json:"decoders"`
}

const healthProbeTimeout = 2 * time.Second

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	out := Health{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.started).Seconds(),
		RadioMode:     h.ctrl.Mode(),
		Playback:      h.ctrl.Status().State,
		Listeners:     h.hub.Listeners(),
		Lock:          h.lock.Status(),
		Host:          hostHealth(ctx),
		Decoders:      []DecoderHealth{},
	}

	pids := map[string]int{}
	for name, pid := range h.fm.Pids() {
		pids[name] = pid
	}
	for name, pid := range h.dab.Pids() {
		pids[name] = pid
	}
	for name, pid := range pids {
		out.Decoders = append(out.Decoders, decoderHealth(ctx, name, pid))
	}
	sort.Slice(out.Decoders, func(i, j int) bool { return out.Decoders[i].Name < out.Decoders[j].Name })

	writeJSON(w, http.StatusOK, out)
}

// hostHealth samples machine load. Probes that fail are left at zero; nil
// means none succeeded.
func hostHealth(ctx context.Context) *HostHealth {
	var hh HostHealth
	ok := false
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		hh.CPUPercent = pct[0]
		ok = true
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hh.MemUsedPercent = vm.UsedPercent
		ok = true
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		hh.Load1 = avg.Load1
		ok = true
	}
	if !ok {
		return nil
	}
	return &hh
}

func decoderHealth(ctx context.Context, name string, pid int) DecoderHealth {
	d := DecoderHealth{Name: name, Pid: pid}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return d
	}
	if pct, err := p.CPUPercentWithContext(ctx); err == nil {
		d.CPUPercent = pct
	}
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
		d.RSSBytes = mi.RSS
	}
	return d
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsEvents pushes the same events as /api/subscribe over a WebSocket.
// Client messages are ignored.
func (h *Handlers) wsEvents(w http.ResponseWriter, r *http.Request) {
	id, ch := h.events.Subscribe()
	defer h.events.Unsubscribe(id)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("api: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// The read loop only exists to see pongs and the close frame.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
