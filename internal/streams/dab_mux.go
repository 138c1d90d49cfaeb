package streams

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

// welle-cli's mux.json is loosely typed across versions: labels are plain
// strings or {"label": ...} objects, service ids are integers or hex strings,
// and numeric fields sometimes arrive quoted. The types below absorb that at
// decode time so the rest of the package sees one shape.

const unknownLabel = "Unknown"

type label string

func (l *label) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = label(s)
		return nil
	}
	var obj struct {
		Label *label `json:"label"`
	}
	if err := json.Unmarshal(b, &obj); err == nil && obj.Label != nil {
		*l = *obj.Label
		return nil
	}
	*l = ""
	return nil
}

func (l label) or(def string) string {
	if s := strings.TrimSpace(string(l)); s != "" {
		return s
	}
	return def
}

func (l label) ptr() *string {
	if s := strings.TrimSpace(string(l)); s != "" {
		return &s
	}
	return nil
}

// ParseServiceID parses a service id written as decimal or "0x"-prefixed hex.
func ParseServiceID(s string) (int, error) {
	s = strings.TrimSpace(s)
	base := 10
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s, base = s[2:], 16
	}
	v, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("service id %q: %w", s, err)
	}
	return int(v), nil
}

type serviceID int

func (s *serviceID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := ParseServiceID(str)
		if err != nil {
			return err
		}
		*s = serviceID(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("service id %s: %w", b, err)
	}
	*s = serviceID(n)
	return nil
}

// flexInt accepts a number or a numeric string. Anything else decodes as unset.
type flexInt struct {
	v   int
	set bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	*f = flexInt{}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return nil
	}
	if v, err := n.Int64(); err == nil {
		*f = flexInt{v: int(v), set: true}
	} else if fv, err := n.Float64(); err == nil {
		*f = flexInt{v: int(fv), set: true}
	}
	return nil
}

func (f flexInt) ptr() *int {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	*f = flexFloat{}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return nil
	}
	if v, err := n.Float64(); err == nil {
		*f = flexFloat{v: v, set: true}
	}
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

// ptyField carries a programme type given either as a numeric code or a label.
type ptyField struct {
	code  flexInt
	label label
}

func (p *ptyField) UnmarshalJSON(b []byte) error {
	*p = ptyField{}
	_ = p.code.UnmarshalJSON(b)
	if !p.code.set {
		_ = p.label.UnmarshalJSON(b)
	}
	return nil
}

type muxDocument struct {
	Ensemble    muxEnsemble  `json:"ensemble"`
	Demodulator muxDemod     `json:"demodulator"`
	Services    []muxService `json:"services"`
}

type muxEnsemble struct {
	Label      label     `json:"label"`
	SNR        flexFloat `json:"snr"`
	FICQuality flexFloat `json:"fic_quality"`
}

type muxDemod struct {
	SNR flexFloat `json:"snr"`
}

type muxService struct {
	SID        serviceID       `json:"sid"`
	Label      label           `json:"label"`
	Bitrate    flexInt         `json:"bitrate"`
	PTYLabel   label           `json:"pty_label"`
	PTY        ptyField        `json:"pty"`
	AudioMode  label           `json:"audio_mode"`
	SampleRate flexInt         `json:"samplerate"`
	DLS        label           `json:"dls"`
	DLSLabel   label           `json:"dls_label"`
	MOT        json.RawMessage `json:"mot"`
	MOTData    label           `json:"mot_data"`
	Slide      label           `json:"slide"`
}

type muxMOT struct {
	Mot         label `json:"mot"`
	Data        label `json:"data"`
	Slide       label `json:"slide"`
	Image       label `json:"image"`
	MotType     label `json:"mot_type"`
	ContentType label `json:"content_type"`
}

func decodeMux(data []byte) (*muxDocument, error) {
	var doc muxDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode mux.json: %w", err)
	}
	return &doc, nil
}

func (d *muxDocument) ensembleName() string {
	return d.Ensemble.Label.or(unknownLabel)
}

// programs lists the services of the ensemble, tagged with channel.
func (d *muxDocument) programs(channel string) []models.DabProgram {
	ens := d.ensembleName()
	out := make([]models.DabProgram, 0, len(d.Services))
	for _, s := range d.Services {
		out = append(out, models.DabProgram{
			ServiceID:   int(s.SID),
			Name:        s.Label.or(unknownLabel),
			Ensemble:    ens,
			Channel:     channel,
			Bitrate:     s.Bitrate.ptr(),
			ProgramType: s.ptyLabel(),
		})
	}
	return out
}

func (s *muxService) ptyLabel() *string {
	if p := s.PTYLabel.ptr(); p != nil {
		return p
	}
	return s.PTY.label.ptr()
}

func (s *muxService) dls() *string {
	if p := s.DLS.ptr(); p != nil {
		return p
	}
	return s.DLSLabel.ptr()
}

// inlineMOT returns a slide embedded in mux.json, if any.
func (s *muxService) inlineMOT() (image, contentType *string) {
	var mot muxMOT
	if len(s.MOT) > 0 && json.Unmarshal(s.MOT, &mot) == nil {
		for _, l := range []label{mot.Mot, mot.Data, mot.Slide, mot.Image} {
			if image = l.ptr(); image != nil {
				break
			}
		}
		ct := mot.MotType.or(mot.ContentType.or("image/jpeg"))
		contentType = &ct
	}
	if image == nil {
		if image = s.MOTData.ptr(); image == nil {
			image = s.Slide.ptr()
		}
	}
	return image, contentType
}

// metadataFor builds the now-playing view for sid. base supplies the fields
// used when the service is not listed.
func (d *muxDocument) metadataFor(sid int, base models.DabMetadata) models.DabMetadata {
	var svc *muxService
	for i := range d.Services {
		if int(d.Services[i].SID) == sid {
			svc = &d.Services[i]
			break
		}
	}
	if svc == nil {
		return base
	}

	md := base
	md.Program = models.Ptr(svc.Label.or(unknownLabel))
	md.Ensemble = models.Ptr(d.ensembleName())
	md.DLS = svc.dls()
	md.MOTImage, md.MOTContentType = svc.inlineMOT()
	md.PTY = svc.PTYLabel.ptr()
	md.PTYCode = svc.PTY.code.ptr()
	if md.PTY == nil {
		md.PTY = svc.PTY.label.ptr()
	}

	if svc.AudioMode.ptr() != nil || svc.Bitrate.set || svc.SampleRate.set {
		md.Audio = &models.DabAudioInfo{
			Mode:       svc.AudioMode.ptr(),
			Bitrate:    svc.Bitrate.ptr(),
			SampleRate: svc.SampleRate.ptr(),
		}
	}

	snr := d.Ensemble.SNR
	if !snr.set {
		snr = d.Demodulator.SNR
	}
	if snr.set || d.Ensemble.FICQuality.set {
		md.Signal = &models.DabSignalQuality{SNR: snr.ptr(), FICQuality: d.Ensemble.FICQuality.ptr()}
	}
	md.IsPlaying = true
	return md
}

// MatchProgram returns the first program whose name contains name,
// ignoring case.
func MatchProgram(programs []models.DabProgram, name string) (models.DabProgram, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return models.DabProgram{}, false
	}
	for _, p := range programs {
		if strings.Contains(strings.ToLower(p.Name), want) {
			return p, true
		}
	}
	return models.DabProgram{}, false
}
