package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/config"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Listen != ":8000" || cfg.DAB.Port != 8188 || cfg.Stream.RelayPort != 8089 || cfg.Stream.MetaInt != 8192 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Lock.Timeout != 300*time.Second || cfg.DAB.Settle != 5*time.Second || cfg.FM.Settle != 500*time.Millisecond {
		t.Errorf("timing defaults = %+v / %+v / %+v", cfg.Lock, cfg.DAB, cfg.FM)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
listen: ":9000"
fm:
  settle: 750ms
dab:
  port: 7979
  scan_channels: [5A, 12C]
lms:
  host: 192.168.1.20
mqtt:
  broker: tcp://broker:1883
  topic_prefix: radio
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9000" || cfg.FM.Settle != 750*time.Millisecond || cfg.DAB.Port != 7979 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if len(cfg.DAB.ScanChannels) != 2 || cfg.DAB.ScanChannels[1] != "12C" {
		t.Errorf("scan channels = %v", cfg.DAB.ScanChannels)
	}
	// Untouched keys keep their defaults.
	if cfg.FM.Buffer != time.Second || cfg.LMS.Port != 9000 {
		t.Errorf("defaults lost: fm.buffer=%v lms.port=%d", cfg.FM.Buffer, cfg.LMS.Port)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" || cfg.MQTT.TopicPrefix != "radio" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := config.Load(writeFile(t, "listen: [")); err == nil {
		t.Error("bad yaml accepted")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"EXTERNAL_STREAM_URL": "https://radio.example.com/stream.mp3",
		"EXTERNAL_BASE_URL":   "http://192.168.1.100:8000/",
		"DEFAULT_STATIONS":    " DAB ",
	}
	cfg := config.Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Stream.ExternalURL != env["EXTERNAL_STREAM_URL"] {
		t.Errorf("external url = %q", cfg.Stream.ExternalURL)
	}
	if cfg.Stream.ExternalBaseURL != "http://192.168.1.100:8000" {
		t.Errorf("external base = %q", cfg.Stream.ExternalBaseURL)
	}
	if cfg.Stations.Defaults != "dab" {
		t.Errorf("defaults = %q", cfg.Stations.Defaults)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"relay port", func(c *config.Config) { c.Stream.RelayPort = 70000 }, "relay_port"},
		{"dab port", func(c *config.Config) { c.DAB.Port = 0 }, "dab.port"},
		{"metaint", func(c *config.Config) { c.Stream.MetaInt = 0 }, "metaint"},
		{"negative delay", func(c *config.Config) { c.DAB.Settle = -time.Second }, "dab.settle"},
		{"lms port", func(c *config.Config) { c.LMS.Host = "lms"; c.LMS.Port = -1 }, "lms.port"},
		{"stations mode", func(c *config.Config) { c.Stations.Defaults = "am" }, "stations.defaults"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tc.want)
			}
		})
	}
}
