// Package config loads the daemon configuration from YAML, fills in defaults
// and applies the environment overrides used by container deployments.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/mqttpub"
)

// Config is the whole daemon configuration.
type Config struct {
	Listen    string `yaml:"listen"`
	DataDir   string `yaml:"data_dir"`
	StaticDir string `yaml:"static_dir"`
	// BinDir is searched for decoder binaries before $PATH.
	BinDir string `yaml:"bin_dir"`
	Debug  bool   `yaml:"debug"`

	Lock     LockConfig     `yaml:"lock"`
	FM       FMConfig       `yaml:"fm"`
	DAB      DABConfig      `yaml:"dab"`
	Stream   StreamConfig   `yaml:"stream"`
	LMS      LMSConfig      `yaml:"lms"`
	Stations StationsConfig `yaml:"stations"`
	MQTT     mqttpub.Config `yaml:"mqtt"`
	Zeroconf ZeroconfConfig `yaml:"zeroconf"`
}

type LockConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type FMConfig struct {
	RtlFM       string        `yaml:"rtl_fm"`
	FFmpeg      string        `yaml:"ffmpeg"`
	Settle      time.Duration `yaml:"settle"`
	Buffer      time.Duration `yaml:"buffer"`
	BitrateKbps int           `yaml:"bitrate_kbps"`
}

type DABConfig struct {
	WelleCLI     string        `yaml:"welle_cli"`
	Port         int           `yaml:"port"`
	Settle       time.Duration `yaml:"settle"`
	ScanSettle   time.Duration `yaml:"scan_settle"`
	Buffer       time.Duration `yaml:"buffer"`
	ScanChannels []string      `yaml:"scan_channels"`
	// MetadataInterval bounds how often mux.json is fetched.
	MetadataInterval time.Duration `yaml:"metadata_interval"`
}

type StreamConfig struct {
	RelayPort int `yaml:"relay_port"`
	// ExternalURL replaces the relay URL handed to sinks (EXTERNAL_STREAM_URL).
	ExternalURL string `yaml:"external_url"`
	// ExternalBaseURL is the absolute base for ICY StreamUrl (EXTERNAL_BASE_URL).
	ExternalBaseURL  string        `yaml:"external_base_url"`
	MetaInt          int           `yaml:"metaint"`
	MetadataInterval time.Duration `yaml:"metadata_interval"`
	Name             string        `yaml:"name"`
}

// LMSConfig points at a Logitech Media Server. An empty host disables it.
type LMSConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StationsConfig struct {
	// Defaults selects the seeded presets: all, fm, dab or none (DEFAULT_STATIONS).
	Defaults string `yaml:"defaults"`
}

type ZeroconfConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:  ":8000",
		DataDir: "data",
		Lock:    LockConfig{Timeout: 300 * time.Second},
		FM: FMConfig{
			RtlFM:       "rtl_fm",
			FFmpeg:      "ffmpeg",
			Settle:      500 * time.Millisecond,
			Buffer:      time.Second,
			BitrateKbps: 128,
		},
		DAB: DABConfig{
			WelleCLI:         "welle-cli",
			Port:             8188,
			Settle:           5 * time.Second,
			ScanSettle:       2 * time.Second,
			Buffer:           3 * time.Second,
			ScanChannels:     []string{"9A", "9B", "9C"},
			MetadataInterval: 2 * time.Second,
		},
		Stream: StreamConfig{
			RelayPort:        8089,
			MetaInt:          8192,
			MetadataInterval: 5 * time.Second,
			Name:             "RTL-SDR Radio",
		},
		LMS:      LMSConfig{Port: 9000},
		Stations: StationsConfig{Defaults: "all"},
		Zeroconf: ZeroconfConfig{Enabled: true, Name: "rtlsdr-radio"},
	}
}

// Load reads path over the defaults, then applies the environment. An empty
// path yields the defaults plus the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("EXTERNAL_STREAM_URL")); v != "" {
		c.Stream.ExternalURL = v
	}
	if v := strings.TrimSpace(getenv("EXTERNAL_BASE_URL")); v != "" {
		c.Stream.ExternalBaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(getenv("DEFAULT_STATIONS")); v != "" {
		c.Stations.Defaults = strings.ToLower(v)
	}
}

func validPort(p int) bool { return p > 0 && p < 65536 }

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen must be set"))
	}
	if !validPort(c.DAB.Port) {
		errs = append(errs, fmt.Errorf("dab.port %d out of range", c.DAB.Port))
	}
	if !validPort(c.Stream.RelayPort) {
		errs = append(errs, fmt.Errorf("stream.relay_port %d out of range", c.Stream.RelayPort))
	}
	if c.LMS.Host != "" && !validPort(c.LMS.Port) {
		errs = append(errs, fmt.Errorf("lms.port %d out of range", c.LMS.Port))
	}
	if c.Stream.MetaInt <= 0 {
		errs = append(errs, errors.New("stream.metaint must be positive"))
	}
	if c.FM.BitrateKbps <= 0 {
		errs = append(errs, errors.New("fm.bitrate_kbps must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"lock.timeout":             c.Lock.Timeout,
		"fm.settle":                c.FM.Settle,
		"fm.buffer":                c.FM.Buffer,
		"dab.settle":               c.DAB.Settle,
		"dab.scan_settle":          c.DAB.ScanSettle,
		"dab.buffer":               c.DAB.Buffer,
		"dab.metadata_interval":    c.DAB.MetadataInterval,
		"stream.metadata_interval": c.Stream.MetadataInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.Lock.Timeout == 0 {
		errs = append(errs, errors.New("lock.timeout must be positive"))
	}
	switch c.Stations.Defaults {
	case "all", "both", "fm", "dab", "dab+", "none":
	default:
		errs = append(errs, fmt.Errorf("stations.defaults %q must be all, fm, dab or none", c.Stations.Defaults))
	}
	return errors.Join(errs...)
}
