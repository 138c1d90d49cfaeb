package models

import "strings"

// StationType distinguishes FM and DAB+ presets.
type StationType string

const (
	StationFM  StationType = "fm"
	StationDAB StationType = "dab"
)

// Station is a saved preset.
type Station struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	StationType  StationType `json:"station_type"`
	ImageURL     *string     `json:"image_url,omitempty"`
	Frequency    *float64    `json:"frequency,omitempty"`
	Modulation   *Modulation `json:"modulation,omitempty"`
	DabChannel   *string     `json:"dab_channel,omitempty"`
	DabProgram   *string     `json:"dab_program,omitempty"`
	DabServiceID *int        `json:"dab_service_id,omitempty"`
}

// StationUpdate is a partial station. Nil fields are left unchanged.
type StationUpdate struct {
	Name         *string      `json:"name,omitempty"`
	StationType  *StationType `json:"station_type,omitempty"`
	ImageURL     *string      `json:"image_url,omitempty"`
	Frequency    *float64     `json:"frequency,omitempty"`
	Modulation   *Modulation  `json:"modulation,omitempty"`
	DabChannel   *string      `json:"dab_channel,omitempty"`
	DabProgram   *string      `json:"dab_program,omitempty"`
	DabServiceID *int         `json:"dab_service_id,omitempty"`
}

// Apply copies the non-nil fields of u onto s.
func (u StationUpdate) Apply(s *Station) {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.StationType != nil {
		s.StationType = *u.StationType
	}
	if u.ImageURL != nil {
		s.ImageURL = u.ImageURL
	}
	if u.Frequency != nil {
		s.Frequency = u.Frequency
	}
	if u.Modulation != nil {
		s.Modulation = u.Modulation
	}
	if u.DabChannel != nil {
		ch := strings.ToUpper(*u.DabChannel)
		s.DabChannel = &ch
	}
	if u.DabProgram != nil {
		s.DabProgram = u.DabProgram
	}
	if u.DabServiceID != nil {
		s.DabServiceID = u.DabServiceID
	}
}

// Validate checks the type-specific required fields.
func (s *Station) Validate() *AppError {
	name := strings.TrimSpace(s.Name)
	if name == "" || len(name) > 100 {
		return ErrInvalidField("name", "name must be 1-100 characters")
	}
	if s.StationType == "" {
		s.StationType = StationFM
	}
	switch s.StationType {
	case StationFM:
		if s.Frequency == nil {
			return ErrInvalidField("frequency", "frequency is required for FM stations")
		}
		if err := ValidateFrequency(*s.Frequency); err != nil {
			return err
		}
		if s.Modulation == nil {
			s.Modulation = Ptr(ModWFM)
		} else if !s.Modulation.Valid() {
			return ErrInvalidField("modulation", "unknown modulation")
		}
	case StationDAB:
		if s.DabChannel == nil {
			return ErrInvalidField("dab_channel", "dab_channel is required for DAB stations")
		}
		if !ValidDabChannelCode(*s.DabChannel) {
			return ErrInvalidField("dab_channel", "invalid DAB+ channel")
		}
		ch := strings.ToUpper(*s.DabChannel)
		s.DabChannel = &ch
		if s.DabProgram == nil && s.DabServiceID == nil {
			return ErrInvalidField("dab_program", "dab_program or dab_service_id is required for DAB stations")
		}
	default:
		return ErrInvalidField("station_type", "station_type must be fm or dab")
	}
	return nil
}
