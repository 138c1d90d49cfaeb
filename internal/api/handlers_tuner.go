package api

import (
	"fmt"
	"net/http"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

func (h *Handlers) tunerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fm.Status())
}

// acquireTuner claims the tuner lock for the caller, writing the error
// response on conflict.
func (h *Handlers) acquireTuner(w http.ResponseWriter, r *http.Request, mode models.RadioMode) (string, bool) {
	sid, err := h.lock.Acquire(clientID(r), mode, forceTakeover(r))
	if err != nil {
		writeError(w, err)
		return "", false
	}
	h.publishLock()
	return sid, true
}

// releaseTuner drops the caller's session. It fails when another client
// owns the tuner.
func (h *Handlers) releaseTuner(w http.ResponseWriter, r *http.Request) bool {
	if !h.lock.Release(clientID(r), r.Header.Get("X-Session-ID")) {
		writeError(w, models.ErrConflict("Tuner is held by another client"))
		return false
	}
	h.publishLock()
	return true
}

func (h *Handlers) publishLock() {
	if h.events == nil {
		return
	}
	st := h.lock.Status()
	h.events.Publish(models.Event{Type: "lock", Lock: &st})
}

func (h *Handlers) publishTuner() {
	if h.events == nil {
		return
	}
	fm := h.fm.Status()
	dab := h.dab.Status()
	h.events.Publish(models.Event{Type: "tuner", Tuner: &fm})
	h.events.Publish(models.Event{Type: "dab", Dab: &dab})
}

func (h *Handlers) tunerTune(w http.ResponseWriter, r *http.Request) {
	var req models.TuneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, appErr := req.Tuning()
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	sid, ok := h.acquireTuner(w, r, models.ModeFM)
	if !ok {
		return
	}
	if err := h.ctrl.TuneFM(r.Context(), t); err != nil {
		writeError(w, tuneFailed(err, "Failed to tune. Check that RTL-SDR device is connected"))
		return
	}
	h.publishTuner()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    fmt.Sprintf("Tuned to %.1f MHz", t.Frequency),
		"frequency":  t.Frequency,
		"modulation": t.Modulation,
		"session_id": sid,
	})
}

func (h *Handlers) tunerStop(w http.ResponseWriter, r *http.Request) {
	if !h.releaseTuner(w, r) {
		return
	}
	if err := h.ctrl.StopSource(r.Context(), models.ModeFM); err != nil {
		writeError(w, err)
		return
	}
	h.publishTuner()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Tuner stopped"})
}

func (h *Handlers) lockStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.lock.Status())
}

func (h *Handlers) lockTouch(w http.ResponseWriter, r *http.Request) {
	if !h.lock.Touch(clientID(r)) {
		writeError(w, models.ErrConflict("No tuner session held by "+clientID(r)))
		return
	}
	writeJSON(w, http.StatusOK, h.lock.Status())
}
