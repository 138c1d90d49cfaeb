package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/controller"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

var errNoTarget = models.ErrBadRequest("Either station_id, frequency (FM), or dab_channel (DAB+) must be provided")

// playTarget is a validated playback request. Exactly one of fm and dab is set.
type playTarget struct {
	title string
	fm    *models.FMTuning
	dab   *models.DABTuning
}

func (t playTarget) mode() models.RadioMode {
	if t.dab != nil {
		return models.ModeDAB
	}
	return models.ModeFM
}

// resolveTarget turns a request into tuning parameters. A station id is
// looked up first; otherwise dab_channel wins over frequency.
func (h *Handlers) resolveTarget(req models.PlaybackRequest) (playTarget, error) {
	var t playTarget
	if req.StationID != "" {
		st, err := h.stations.Get(req.StationID)
		if err != nil {
			return t, err
		}
		t.title = st.Name
		if st.StationType == models.StationDAB {
			req.DabChannel = deref(st.DabChannel)
			req.DabProgram = deref(st.DabProgram)
			req.DabServiceID = st.DabServiceID
			req.Frequency = nil
		} else {
			req.DabChannel = ""
			req.Frequency = st.Frequency
			if st.Modulation != nil {
				req.Modulation = *st.Modulation
			}
		}
	}

	switch {
	case req.DabChannel != "":
		dt, appErr := models.DabTuneRequest{
			Channel:   req.DabChannel,
			Program:   req.DabProgram,
			ServiceID: req.DabServiceID,
		}.Tuning()
		if appErr != nil {
			return t, appErr
		}
		t.dab = &dt
	case req.Frequency != nil:
		ft, appErr := models.TuneRequest{Frequency: *req.Frequency, Modulation: req.Modulation}.Tuning()
		if appErr != nil {
			return t, appErr
		}
		t.fm = &ft
	default:
		return t, errNoTarget
	}
	return t, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (h *Handlers) playbackStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *Handlers) playbackStart(w http.ResponseWriter, r *http.Request) {
	var req models.PlaybackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		writeError(w, models.ErrInvalidField("device_id", "device_id is required"))
		return
	}
	t, err := h.resolveTarget(req)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, ok := h.acquireTuner(w, r, t.mode()); !ok {
		return
	}

	err = h.ctrl.Start(r.Context(), controller.StartRequest{
		DeviceID: req.DeviceID,
		Title:    t.title,
		FM:       t.fm,
		DAB:      t.dab,
	})
	if err != nil {
		kind := "FM"
		if t.dab != nil {
			kind = "DAB+"
		}
		writeError(w, tuneFailed(err, "Failed to start "+kind+" playback. Check device and RTL-SDR connection"))
		return
	}

	st := h.ctrl.Status()
	resp := map[string]interface{}{
		"device_id":  req.DeviceID,
		"radio_mode": st.RadioMode,
		"stream_url": st.StreamURL,
	}
	if t.dab != nil {
		resp["message"] = "DAB+ playback started"
		resp["dab_channel"] = t.dab.Channel
		resp["dab_program"] = st.DabProgram
	} else {
		resp["message"] = "FM playback started"
		resp["frequency"] = t.fm.Frequency
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) playbackStop(w http.ResponseWriter, r *http.Request) {
	if !h.releaseTuner(w, r) {
		return
	}
	if err := h.ctrl.Stop(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Playback stopped"})
}

func (h *Handlers) playbackPause(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Pause(r.Context()); err != nil {
		if errors.Is(err, controller.ErrWrongState) {
			err = models.ErrBadRequest("Cannot pause - not currently playing")
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Playback paused"})
}

func (h *Handlers) playbackResume(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Resume(r.Context()); err != nil {
		if errors.Is(err, controller.ErrWrongState) {
			err = models.ErrBadRequest("Cannot resume - not currently paused")
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Playback resumed"})
}

// playbackTune changes station while a device is playing.
func (h *Handlers) playbackTune(w http.ResponseWriter, r *http.Request) {
	var req models.PlaybackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, err := h.resolveTarget(req)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, ok := h.acquireTuner(w, r, t.mode()); !ok {
		return
	}

	if t.dab != nil {
		if err := h.ctrl.ChangeProgram(r.Context(), *t.dab); err != nil {
			if errors.Is(err, controller.ErrWrongState) {
				err = models.ErrBadRequest("Cannot tune DAB+ - not currently playing")
			}
			writeError(w, tuneFailed(err, "Failed to tune to DAB+ channel "+t.dab.Channel))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":     "Tuned to DAB+ channel " + t.dab.Channel,
			"radio_mode":  models.ModeDAB,
			"dab_channel": t.dab.Channel,
			"dab_program": h.ctrl.Status().DabProgram,
		})
		return
	}

	if err := h.ctrl.ChangeFrequency(r.Context(), *t.fm); err != nil {
		if errors.Is(err, controller.ErrWrongState) {
			err = models.ErrBadRequest("Cannot tune FM - not currently playing")
		}
		writeError(w, tuneFailed(err, "Failed to tune FM"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    fmt.Sprintf("Tuned to %.1f MHz", t.fm.Frequency),
		"radio_mode": models.ModeFM,
		"frequency":  t.fm.Frequency,
	})
}
