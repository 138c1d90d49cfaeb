package stations

import (
	"strings"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

// Default preset sets, selected by DEFAULT_STATIONS.
const (
	ModeAll  = "all"
	ModeFM   = "fm"
	ModeDAB  = "dab"
	ModeNone = "none"
)

// NormalizeMode maps the accepted spellings onto the four modes. Unknown
// values fall back to ModeAll.
func NormalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "fm":
		return ModeFM
	case "dab", "dab+":
		return ModeDAB
	case "none":
		return ModeNone
	}
	return ModeAll
}

func image(name string) *string {
	if name == "" {
		return nil
	}
	return models.Ptr("/static/images/stations/" + name)
}

func fm(name string, mhz float64, img string) models.Station {
	return models.Station{
		Name:        name,
		StationType: models.StationFM,
		Frequency:   models.Ptr(mhz),
		Modulation:  models.Ptr(models.ModWFM),
		ImageURL:    image(img),
	}
}

func dab(name, channel, program, img string) models.Station {
	return models.Station{
		Name:        name,
		StationType: models.StationDAB,
		DabChannel:  models.Ptr(channel),
		DabProgram:  models.Ptr(program),
		ImageURL:    image(img),
	}
}

// Defaults returns the presets (Perth, WA) for a mode, without ids.
func Defaults(mode string) []models.Station {
	var out []models.Station
	switch NormalizeMode(mode) {
	case ModeNone:
		return nil
	case ModeFM:
		out = fmDefaults()
	case ModeDAB:
		out = dabDefaults()
	default:
		out = append(fmDefaults(), dabDefaults()...)
	}
	return out
}

func fmDefaults() []models.Station {
	return []models.Station{
		fm("Nova 93.7", 93.7, "nova.webp"),
		fm("Mix 94.5", 94.5, "945.jpg"),
		fm("96FM", 96.1, "96.jpg"),
		fm("Triple M Perth", 92.9, "triplem.png"),
		fm("Triple J", 99.3, "triplej.png"),
	}
}

// Commercial multiplex on 9C, ABC on 9A/9B.
func dabDefaults() []models.Station {
	return []models.Station{
		dab("Nova 937", "9C", "Nova 937", "nova.webp"),
		dab("Mix 94.5", "9C", "Mix 94.5", "945.jpg"),
		dab("96FM", "9C", "96FM", "96.jpg"),
		dab("Triple M", "9C", "Triple M", "triplem.png"),
		dab("Triple J", "9B", "Triple J", "triplej.png"),
		dab("Double J", "9B", "Double J", ""),
		dab("ABC Perth", "9A", "ABC Perth", "abc.png"),
	}
}
