package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/sinks"
)

func (h *Handlers) listDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.devices.Devices())
}

// refreshDevices re-runs discovery. Devices from a failing provider are
// kept, so a partial failure still answers 200 with what is known.
func (h *Handlers) refreshDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := h.devices.Refresh(r.Context())
	if err != nil && len(devs) == 0 {
		writeError(w, models.ErrUnavailable("Device discovery failed: "+err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, devs)
}

func (h *Handlers) sink(w http.ResponseWriter, r *http.Request) (sinks.Sink, bool) {
	s, err := h.devices.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

func (h *Handlers) getDevice(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sink(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Device())
}

func (h *Handlers) getVolume(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sink(w, r)
	if !ok {
		return
	}
	vol, err := s.Volume(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"volume": vol})
}

func (h *Handlers) setVolume(w http.ResponseWriter, r *http.Request) {
	var req models.VolumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Volume < 0 || req.Volume > 1 {
		writeError(w, models.ErrInvalidField("volume", "volume must be between 0.0 and 1.0"))
		return
	}
	s, ok := h.sink(w, r)
	if !ok {
		return
	}
	if err := s.SetVolume(r.Context(), req.Volume); err != nil {
		h.metrics.RecordSinkError(s.Device().Type, "volume")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"volume": req.Volume})
}

func (h *Handlers) setMute(w http.ResponseWriter, r *http.Request) {
	var req models.MuteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s, ok := h.sink(w, r)
	if !ok {
		return
	}
	if err := s.SetMute(r.Context(), req.Muted); err != nil {
		h.metrics.RecordSinkError(s.Device().Type, "mute")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"muted": req.Muted})
}
