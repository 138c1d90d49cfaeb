package api

import (
	"net/http"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

// stream serves the live MP3 to a browser or player. Listeners share the
// hub's single read of the decoder.
func (h *Handlers) stream(w http.ResponseWriter, r *http.Request) {
	if src, _ := h.hub.Active(); src == nil {
		retryLater(w)
		return
	}
	opts := h.np.StreamOptions(r)
	opts.Endpoint = "api"
	h.hub.Serve(w, r, opts)
}

// streamReady reports whether /api/stream has audio. mode is null when
// neither source is ready.
func (h *Handlers) streamReady(w http.ResponseWriter, r *http.Request) {
	var mode *models.RadioMode
	if m := h.np.Mode(); m != models.ModeIdle {
		mode = &m
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready": mode != nil,
		"mode":  mode,
	})
}
