package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/icy"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/relay"
)

// StreamConfig sets the ICY presentation of the audio streams.
type StreamConfig struct {
	MetaInt          int
	MetadataInterval time.Duration
	Name             string // icy-name when no station matches
	Bitrate          int    // kbps
	// ExternalBaseURL, when set, is the base of the slide URL handed to
	// players instead of one derived from request headers.
	ExternalBaseURL string
}

// FMPresets finds the preset for an FM frequency.
type FMPresets interface {
	FindFM(freq float64) (models.Station, bool)
}

// NowPlaying derives titles and stream options from whichever source is
// ready. It serves both the browser stream and the sink-facing relay.
type NowPlaying struct {
	fm      FMSource
	dab     DABSource
	presets FMPresets
	cfg     StreamConfig
}

// NewNowPlaying returns a provider over the two sources. presets may be nil.
func NewNowPlaying(fm FMSource, dab DABSource, presets FMPresets, cfg StreamConfig) *NowPlaying {
	if cfg.MetaInt <= 0 {
		cfg.MetaInt = icy.DefaultMetaInt
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = 128
	}
	if cfg.Name == "" {
		cfg.Name = "FM Radio"
	}
	return &NowPlaying{fm: fm, dab: dab, presets: presets, cfg: cfg}
}

// Mode reports which source feeds listeners. DAB+ wins when both claim to
// be ready.
func (n *NowPlaying) Mode() models.RadioMode {
	switch {
	case n.dab != nil && n.dab.Ready():
		return models.ModeDAB
	case n.fm != nil && n.fm.Ready():
		return models.ModeFM
	}
	return models.ModeIdle
}

func (n *NowPlaying) fmName() (string, bool) {
	t := n.fm.Tuning()
	if t == nil {
		return "", false
	}
	if n.presets != nil {
		if st, ok := n.presets.FindFM(t.Frequency); ok {
			return st.Name, true
		}
	}
	return fmt.Sprintf("FM %.1f MHz", t.Frequency), false
}

// Current returns the title and artwork URL for ICY frames. base is the
// scheme://host the slide URL is built on.
func (n *NowPlaying) Current(ctx context.Context, base string) relay.NowPlaying {
	switch n.Mode() {
	case models.ModeDAB:
		md := n.dab.GetMetadata(ctx)
		var np relay.NowPlaying
		switch {
		case md.DLS != nil && strings.TrimSpace(*md.DLS) != "":
			np.Title = strings.TrimSpace(*md.DLS)
		case md.Program != nil:
			np.Title = *md.Program
		}
		if md.MOTImage != nil && base != "" {
			np.URL = strings.TrimRight(base, "/") + "/api/dab/slide"
		}
		return np
	case models.ModeFM:
		name, _ := n.fmName()
		return relay.NowPlaying{Title: name}
	}
	return relay.NowPlaying{}
}

// Title is the current now-playing text, or "" when nothing is tuned.
func (n *NowPlaying) Title(ctx context.Context) string {
	return n.Current(ctx, "").Title
}

// StreamOptions builds the listener options for r. ICY is enabled when the
// client asks for it.
func (n *NowPlaying) StreamOptions(r *http.Request) relay.StreamOptions {
	opts := relay.StreamOptions{
		ICY:              icy.Wanted(r),
		MetaInt:          n.cfg.MetaInt,
		Bitrate:          n.cfg.Bitrate,
		MetadataInterval: n.cfg.MetadataInterval,
	}
	switch n.Mode() {
	case models.ModeDAB:
		opts.Name = "DAB+ Radio"
		if st := n.dab.Status(); st.Program != nil && *st.Program != "" {
			opts.Name = *st.Program
		}
		opts.Genre = "DAB+"
	case models.ModeFM:
		opts.Name = n.cfg.Name
		if name, preset := n.fmName(); preset {
			opts.Name = name
		}
		opts.Genre = "FM"
	}
	base := baseURL(r, n.cfg.ExternalBaseURL)
	opts.Metadata = func(ctx context.Context) relay.NowPlaying {
		return n.Current(ctx, base)
	}
	return opts
}
