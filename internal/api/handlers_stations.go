package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

func (h *Handlers) listStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stations.List())
}

func (h *Handlers) getStation(w http.ResponseWriter, r *http.Request) {
	st, err := h.stations.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) createStation(w http.ResponseWriter, r *http.Request) {
	var st models.Station
	if err := decodeJSON(r, &st); err != nil {
		writeError(w, err)
		return
	}
	created, err := h.stations.Create(st)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) updateStation(w http.ResponseWriter, r *http.Request) {
	var upd models.StationUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, err)
		return
	}
	st, err := h.stations.Update(chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) deleteStation(w http.ResponseWriter, r *http.Request) {
	if err := h.stations.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
