package streams

import "errors"

var (
	// ErrBinaryNotFound is returned when a decoder binary is not installed.
	ErrBinaryNotFound = errors.New("decoder binary not found")
	// ErrDecoderExited is returned when a decoder dies during the settle window.
	ErrDecoderExited = errors.New("decoder exited during startup")
	// ErrInvalidChannel is returned for a channel outside the Band III table.
	ErrInvalidChannel = errors.New("invalid DAB+ channel")
	// ErrInvalidFrequency is returned for a frequency outside the tuner range.
	ErrInvalidFrequency = errors.New("frequency out of range")
	// ErrInvalidModulation is returned for a modulation rtl_fm cannot demodulate.
	ErrInvalidModulation = errors.New("unknown modulation")
)
