package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/slides"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/streams"
)

func (h *Handlers) dabChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, streams.Channels())
}

// dabPrograms lists the services on ?channel=, tuning it first when the
// dongle is elsewhere. A retune needs the tuner lock and goes through the
// controller so FM is released.
func (h *Handlers) dabPrograms(w http.ResponseWriter, r *http.Request) {
	ch := strings.ToUpper(r.URL.Query().Get("channel"))
	if ch != "" {
		if !models.ValidDabChannelCode(ch) {
			writeError(w, models.ErrInvalidField("channel", "invalid DAB+ channel "+strconv.Quote(ch)))
			return
		}
		if cur := h.dab.Tuning(); cur == nil || cur.Channel != ch || !h.dab.Running() {
			if _, ok := h.acquireTuner(w, r, models.ModeDAB); !ok {
				return
			}
			if err := h.ctrl.TuneDAB(r.Context(), models.DABTuning{Channel: ch}); err != nil {
				writeError(w, tuneFailed(err, "Failed to tune to DAB+ channel "+ch))
				return
			}
		}
	}
	progs, err := h.dab.GetPrograms(r.Context(), "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progs)
}

func (h *Handlers) dabScan(w http.ResponseWriter, r *http.Request) {
	var req models.DabScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	for _, ch := range req.Channels {
		if !models.ValidDabChannelCode(ch) {
			writeError(w, models.ErrInvalidField("channels", "invalid DAB+ channel "+strconv.Quote(ch)))
			return
		}
	}
	if _, ok := h.acquireTuner(w, r, models.ModeDAB); !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.ScanDAB(r.Context(), req.Channels))
}

func (h *Handlers) dabTune(w http.ResponseWriter, r *http.Request) {
	var req models.DabTuneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, appErr := req.Tuning()
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	sid, ok := h.acquireTuner(w, r, models.ModeDAB)
	if !ok {
		return
	}
	if err := h.ctrl.TuneDAB(r.Context(), t); err != nil {
		writeError(w, tuneFailed(err, "Failed to tune to DAB+ channel "+t.Channel))
		return
	}
	h.publishTuner()
	st := h.dab.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"channel":    t.Channel,
		"program":    st.Program,
		"service_id": st.ServiceID,
		"session_id": sid,
	})
}

func (h *Handlers) dabStop(w http.ResponseWriter, r *http.Request) {
	if !h.releaseTuner(w, r) {
		return
	}
	if err := h.ctrl.StopSource(r.Context(), models.ModeDAB); err != nil {
		writeError(w, err)
		return
	}
	h.publishTuner()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "DAB+ tuner stopped"})
}

func (h *Handlers) dabStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dab.Status())
}

func (h *Handlers) dabMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dab.GetMetadata(r.Context()))
}

// dabSlide serves the MOT slide of the tuned service. ?width=N scales it to
// a jpeg; ?fallback=1 renders a name card when the service has no slide.
func (h *Handlers) dabSlide(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	width := 0
	if s := q.Get("width"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > slides.MaxWidth {
			writeError(w, models.ErrInvalidField("width", slides.ErrBadWidth.Error()))
			return
		}
		width = n
	}

	data, ctype, err := h.dab.Slide(r.Context())
	switch {
	case errors.Is(err, streams.ErrNoSlide) && q.Get("fallback") != "":
		h.slidePlaceholder(w, width)
		return
	case err != nil:
		writeError(w, err)
		return
	}

	if width > 0 {
		scaled, err := slides.Scale(data, width)
		if err != nil {
			writeError(w, models.ErrInternal(err.Error()))
			return
		}
		data, ctype = scaled, "image/jpeg"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (h *Handlers) slidePlaceholder(w http.ResponseWriter, width int) {
	if width == 0 {
		width = 320
	}
	st := h.dab.Status()
	title, sub := "DAB+ Radio", ""
	if st.Program != nil {
		title = *st.Program
	}
	if st.Ensemble != nil {
		sub = *st.Ensemble
	}
	img, err := slides.Placeholder(title, sub, width, max(width*3/4, 1))
	if err != nil {
		writeError(w, models.ErrInternal(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(img)
}
