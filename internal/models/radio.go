// Package models defines the wire types shared by the radio daemon's packages.
// JSON field names are kept stable for the web UI and the Home Assistant integration.
package models

import "time"

// RadioMode is the hardware configuration the dongle currently holds.
type RadioMode string

const (
	ModeIdle RadioMode = "idle"
	ModeFM   RadioMode = "fm"
	ModeDAB  RadioMode = "dab"
)

// Modulation selects the rtl_fm demodulator.
type Modulation string

const (
	ModFM  Modulation = "fm"
	ModAM  Modulation = "am"
	ModWFM Modulation = "wfm" // wideband FM (broadcast)
	ModNFM Modulation = "nfm" // narrowband FM
)

// Valid reports whether m is a known modulation.
func (m Modulation) Valid() bool {
	switch m {
	case ModFM, ModAM, ModWFM, ModNFM:
		return true
	}
	return false
}

// PlaybackState is the orchestrator-level playback state.
type PlaybackState string

const (
	StateStopped   PlaybackState = "stopped"
	StateBuffering PlaybackState = "buffering"
	StatePlaying   PlaybackState = "playing"
	StatePaused    PlaybackState = "paused"
)

// FM frequency limits in MHz (rtl_fm tuner range).
const (
	MinFrequencyMHz = 24.0
	MaxFrequencyMHz = 1766.0
)

// FMTuning is the parameter set for an FM tune.
type FMTuning struct {
	Frequency  float64    `json:"frequency"` // MHz
	Modulation Modulation `json:"modulation"`
	Gain       *float64   `json:"gain,omitempty"` // dB, nil = auto
	Squelch    *int       `json:"squelch,omitempty"`
}

// DABTuning is the parameter set for a DAB+ tune. ServiceID wins over Program.
type DABTuning struct {
	Channel   string `json:"channel"`
	Program   string `json:"program,omitempty"`
	ServiceID *int   `json:"service_id,omitempty"`
}

// TunerStatus is the FM source snapshot.
type TunerStatus struct {
	Frequency  *float64    `json:"frequency"`
	Modulation *Modulation `json:"modulation"`
	Gain       *float64    `json:"gain"`
	Squelch    *int        `json:"squelch"`
	IsRunning  bool        `json:"is_running"`
	Ready      bool        `json:"ready"`
}

// DabStatus is the DAB source snapshot.
type DabStatus struct {
	Channel   *string `json:"channel"`
	Program   *string `json:"program"`
	ServiceID *int    `json:"service_id"`
	Ensemble  *string `json:"ensemble"`
	IsRunning bool    `json:"is_running"`
	Ready     bool    `json:"ready"`
}

// DabChannel is one Band III channel allocation.
type DabChannel struct {
	ID        string  `json:"id"`
	Frequency float64 `json:"frequency"` // centre frequency, MHz
	Label     string  `json:"label"`
}

// DabProgram is one service inside an ensemble.
type DabProgram struct {
	ServiceID   int     `json:"service_id"`
	Name        string  `json:"name"`
	Ensemble    string  `json:"ensemble"`
	Channel     string  `json:"channel"`
	Bitrate     *int    `json:"bitrate"`
	ProgramType *string `json:"program_type"`
}

// DabScanResult holds what one channel yielded during a scan.
type DabScanResult struct {
	Channel  string       `json:"channel"`
	Ensemble *string      `json:"ensemble"`
	Programs []DabProgram `json:"programs"`
}

// DabSignalQuality is reported per ensemble by welle-cli.
type DabSignalQuality struct {
	SNR        *float64 `json:"snr"`
	FICQuality *float64 `json:"fic_quality"`
}

// DabAudioInfo describes the current service's audio coding.
type DabAudioInfo struct {
	Mode       *string `json:"mode"`
	Bitrate    *int    `json:"bitrate"`
	SampleRate *int    `json:"sample_rate"`
}

// DabMetadata is the now-playing view of the tuned DAB service.
type DabMetadata struct {
	Program        *string           `json:"program"`
	ServiceID      *int              `json:"service_id"`
	Ensemble       *string           `json:"ensemble"`
	Channel        *string           `json:"channel"`
	DLS            *string           `json:"dls"`
	MOTImage       *string           `json:"mot_image"` // base64
	MOTContentType *string           `json:"mot_content_type"`
	PTY            *string           `json:"pty"`
	PTYCode        *int              `json:"pty_code"`
	Signal         *DabSignalQuality `json:"signal"`
	Audio          *DabAudioInfo     `json:"audio"`
	IsPlaying      bool              `json:"is_playing"`
}

// PlaybackStatus is the orchestrator snapshot served by /api/playback/status.
type PlaybackStatus struct {
	State        PlaybackState `json:"state"`
	RadioMode    RadioMode     `json:"radio_mode"`
	DeviceID     *string       `json:"device_id"`
	DeviceName   *string       `json:"device_name"`
	Frequency    *float64      `json:"frequency"`
	Modulation   *Modulation   `json:"modulation"`
	DabChannel   *string       `json:"dab_channel"`
	DabProgram   *string       `json:"dab_program"`
	DabServiceID *int          `json:"dab_service_id"`
	StreamURL    *string       `json:"stream_url"`
}

// LockSession is the descriptive view of the current tuner session.
type LockSession struct {
	SessionID    string    `json:"session_id"`
	ClientID     string    `json:"client_id"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	AgeSeconds   float64   `json:"age_seconds"`
	IdleSeconds  float64   `json:"idle_seconds"`
	Expired      bool      `json:"expired"`
}

// LockStatus is the tuner lock snapshot.
type LockStatus struct {
	Locked  bool         `json:"locked"`
	Mode    RadioMode    `json:"mode"`
	Session *LockSession `json:"session"`
}

// Event is what the bus carries to SSE, WebSocket and MQTT subscribers.
type Event struct {
	Type     string          `json:"type"` // "playback" | "lock" | "tuner" | "dab"
	Playback *PlaybackStatus `json:"playback,omitempty"`
	Lock     *LockStatus     `json:"lock,omitempty"`
	Tuner    *TunerStatus    `json:"tuner,omitempty"`
	Dab      *DabStatus      `json:"dab,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
