package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

const sseKeepAlive = 15 * time.Second

// sseEvents handles the SSE (Server-Sent Events) endpoint.
// Clients receive the latest event of each type immediately, then updates as they happen.
// Each frame is named after the event type so EventSource clients can
// addEventListener("playback", ...) instead of switching on the payload.
func (h *Handlers) sseEvents(w http.ResponseWriter, r *http.Request) {
	// Verify the client supports streaming
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	id, ch := h.events.Subscribe()
	defer h.events.Unsubscribe(id)

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			sendSSE(w, flusher, ev)
		case <-ping.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, ev models.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	flusher.Flush()
}
