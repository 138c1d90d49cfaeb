// Package api implements the HTTP API of the radio daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/controller"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/relay"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/sinks"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/stations"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/streams"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/tunerlock"
)

// FMSource is the analog source as the handlers see it.
type FMSource interface {
	Running() bool
	Ready() bool
	Tuning() *models.FMTuning
	Status() models.TunerStatus
	Pids() map[string]int
}

// DABSource is the digital source as the handlers see it.
type DABSource interface {
	Running() bool
	Ready() bool
	Tuning() *models.DABTuning
	Status() models.DabStatus
	Pids() map[string]int
	GetPrograms(ctx context.Context, channel string) ([]models.DabProgram, error)
	GetMetadata(ctx context.Context) models.DabMetadata
	Slide(ctx context.Context) ([]byte, string, error)
}

// Playback is the mode controller. All tuning goes through it so that only
// one source holds the dongle.
type Playback interface {
	Mode() models.RadioMode
	Status() models.PlaybackStatus
	Start(ctx context.Context, req controller.StartRequest) error
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	ChangeFrequency(ctx context.Context, t models.FMTuning) error
	ChangeProgram(ctx context.Context, t models.DABTuning) error
	TuneFM(ctx context.Context, t models.FMTuning) error
	TuneDAB(ctx context.Context, t models.DABTuning) error
	StopSource(ctx context.Context, mode models.RadioMode) error
	ScanDAB(ctx context.Context, channels []string) []models.DabScanResult
}

// Stations is the preset store.
type Stations interface {
	List() []models.Station
	Get(id string) (models.Station, error)
	FindFM(freq float64) (models.Station, bool)
	Create(st models.Station) (models.Station, error)
	Update(id string, u models.StationUpdate) (models.Station, error)
	Delete(id string) error
}

// Devices is the sink registry.
type Devices interface {
	Devices() []sinks.Device
	Get(id string) (sinks.Sink, error)
	Refresh(ctx context.Context) ([]sinks.Device, error)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err as a JSON AppError. Domain errors are mapped to
// their HTTP status; anything unrecognised is a 500.
func writeError(w http.ResponseWriter, err error) {
	appErr := toAppError(err)
	if appErr.Status == http.StatusConflict {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, appErr.Status, appErr)
}

func toAppError(err error) *models.AppError {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var conflict *tunerlock.ConflictError
	switch {
	case errors.As(err, &conflict):
		return models.ErrConflict(conflict.Error())
	case errors.Is(err, streams.ErrInvalidChannel),
		errors.Is(err, streams.ErrInvalidFrequency),
		errors.Is(err, streams.ErrInvalidModulation),
		errors.Is(err, controller.ErrNoTuning):
		return models.ErrBadRequest(err.Error())
	case errors.Is(err, controller.ErrWrongState):
		return models.ErrBadRequest(err.Error())
	case errors.Is(err, sinks.ErrUnknownSink):
		return models.ErrNotFound("Device not found")
	case errors.Is(err, stations.ErrNotFound):
		return models.ErrNotFound("Station not found")
	case errors.Is(err, streams.ErrNoSlide):
		return models.ErrNotFound("No slide available")
	}
	return models.ErrInternal(err.Error())
}

// tuneFailed wraps a decoder failure with a hint for the operator.
func tuneFailed(err error, hint string) *models.AppError {
	appErr := toAppError(err)
	if appErr.Status != http.StatusInternalServerError {
		return appErr
	}
	return models.ErrInternal(hint + ": " + err.Error())
}

// decodeJSON reads a JSON request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.ErrBadRequest("invalid JSON: " + err.Error())
	}
	return nil
}

const defaultClientID = "frontend"

// clientID identifies the caller for the tuner lock.
func clientID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	return defaultClientID
}

func forceTakeover(r *http.Request) bool {
	switch strings.ToLower(r.Header.Get("X-Force-Takeover")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// baseURL is the externally visible scheme://host of the API, honouring
// reverse proxy headers. A configured base wins.
func baseURL(r *http.Request, configured string) string {
	if configured != "" {
		return configured
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host
}

// retryLater is the 503 answer for a stream request with no ready source.
func retryLater(w http.ResponseWriter) { relay.WriteRetryLater(w) }
