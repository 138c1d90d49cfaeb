package models

import (
	"fmt"
	"regexp"
	"strings"
)

// dabChannelPattern matches Band III channel codes such as "9B" or "12C".
var dabChannelPattern = regexp.MustCompile(`^[0-9]+[A-D]$`)

// TuneRequest is the body of POST /api/tuner/tune.
type TuneRequest struct {
	Frequency  float64    `json:"frequency"`
	Modulation Modulation `json:"modulation,omitempty"`
	Gain       *float64   `json:"gain,omitempty"`
	Squelch    *int       `json:"squelch,omitempty"`
}

// Tuning validates the request and converts it to FM tuning parameters.
func (r TuneRequest) Tuning() (FMTuning, *AppError) {
	mod := r.Modulation
	if mod == "" {
		mod = ModWFM
	}
	if !mod.Valid() {
		return FMTuning{}, ErrInvalidField("modulation", fmt.Sprintf("unknown modulation %q", r.Modulation))
	}
	if err := ValidateFrequency(r.Frequency); err != nil {
		return FMTuning{}, err
	}
	if r.Squelch != nil && (*r.Squelch < 0 || *r.Squelch > 100) {
		return FMTuning{}, ErrInvalidField("squelch", "squelch must be between 0 and 100")
	}
	return FMTuning{Frequency: r.Frequency, Modulation: mod, Gain: r.Gain, Squelch: r.Squelch}, nil
}

// ValidateFrequency checks f (MHz) against the tuner range.
func ValidateFrequency(f float64) *AppError {
	if f < MinFrequencyMHz || f > MaxFrequencyMHz {
		return ErrInvalidField("frequency",
			fmt.Sprintf("frequency must be between %.0f and %.0f MHz", MinFrequencyMHz, MaxFrequencyMHz))
	}
	return nil
}

// ValidDabChannelCode reports whether ch looks like a Band III channel code.
func ValidDabChannelCode(ch string) bool {
	return dabChannelPattern.MatchString(strings.ToUpper(ch))
}

// DabTuneRequest is the body of POST /api/dab/tune.
type DabTuneRequest struct {
	Channel   string `json:"channel"`
	Program   string `json:"program,omitempty"`
	ServiceID *int   `json:"service_id,omitempty"`
}

// Tuning validates the request and converts it to DAB tuning parameters.
func (r DabTuneRequest) Tuning() (DABTuning, *AppError) {
	if !ValidDabChannelCode(r.Channel) {
		return DABTuning{}, ErrInvalidField("channel", fmt.Sprintf("invalid DAB+ channel %q", r.Channel))
	}
	return DABTuning{Channel: strings.ToUpper(r.Channel), Program: r.Program, ServiceID: r.ServiceID}, nil
}

// DabScanRequest is the body of POST /api/dab/scan. Nil channels means the common set.
type DabScanRequest struct {
	Channels []string `json:"channels,omitempty"`
}

// PlaybackRequest is the body of POST /api/playback/start and /api/playback/tune.
// A station id takes precedence, then dab_channel, then frequency.
type PlaybackRequest struct {
	DeviceID     string     `json:"device_id"`
	StationID    string     `json:"station_id,omitempty"`
	Frequency    *float64   `json:"frequency,omitempty"`
	Modulation   Modulation `json:"modulation,omitempty"`
	DabChannel   string     `json:"dab_channel,omitempty"`
	DabProgram   string     `json:"dab_program,omitempty"`
	DabServiceID *int       `json:"dab_service_id,omitempty"`
}

// VolumeRequest is the body of POST /api/devices/{id}/volume.
type VolumeRequest struct {
	Volume float64 `json:"volume"` // 0.0 - 1.0
}

// MuteRequest is the body of POST /api/devices/{id}/mute.
type MuteRequest struct {
	Muted bool `json:"muted"`
}
