// Package mqttpub mirrors playback state to an MQTT broker so home automation
// can follow the radio without polling the HTTP API.
//
// Topics, under the configured prefix:
//
//	<prefix>/availability   "online" / "offline" (last will), retained
//	<prefix>/playback       PlaybackStatus JSON, retained
//	<prefix>/now_playing    current title text, retained
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/events"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

// Config selects the broker and topic prefix.
type Config struct {
	Broker      string        `yaml:"broker"` // e.g. tcp://192.168.1.10:1883
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Interval    time.Duration `yaml:"interval"` // now-playing poll
}

const (
	qos            = 1
	publishTimeout = 5 * time.Second
)

// client is the subset of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// TitleFunc returns the current now-playing text, or "" when idle.
type TitleFunc func(ctx context.Context) string

// Publisher forwards bus events to the broker.
type Publisher struct {
	client client
	cfg    Config
	bus    *events.Bus
	title  TitleFunc
}

// Connect dials the broker. The connection retries in the background, so an
// unreachable broker does not fail startup.
func Connect(cfg Config, bus *events.Bus, title TitleFunc) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker not configured")
	}
	cfg = withDefaults(cfg)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("rtlsdr-radio-" + uuid.NewString()[:8])
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetWill(cfg.TopicPrefix+"/availability", "offline", qos, true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	p := &Publisher{cfg: cfg, bus: bus, title: title}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("mqtt: connected", "broker", cfg.Broker)
		p.publish(cfg.TopicPrefix+"/availability", "online")
		if ev, ok := bus.Last("playback"); ok {
			p.handle(ev)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt: connection lost", "err", err)
	})

	c := mqtt.NewClient(opts)
	p.client = c
	// With ConnectRetry the token only completes once connected, so don't wait.
	c.Connect()
	return p, nil
}

func withDefaults(cfg Config) Config {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "rtlsdr-radio"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return cfg
}

func newPublisher(c client, cfg Config, bus *events.Bus, title TitleFunc) *Publisher {
	return &Publisher{client: c, cfg: withDefaults(cfg), bus: bus, title: title}
}

func (p *Publisher) publish(topic string, payload interface{}) {
	tok := p.client.Publish(topic, qos, true, payload)
	if !tok.WaitTimeout(publishTimeout) {
		slog.Warn("mqtt: publish timed out", "topic", topic)
		return
	}
	if err := tok.Error(); err != nil {
		slog.Warn("mqtt: publish failed", "topic", topic, "err", err)
	}
}

func (p *Publisher) handle(ev models.Event) {
	if ev.Type != "playback" || ev.Playback == nil {
		return
	}
	data, err := json.Marshal(ev.Playback)
	if err != nil {
		return
	}
	p.publish(p.cfg.TopicPrefix+"/playback", data)
}

// Run forwards events and polls the now-playing title until ctx is done,
// then marks the radio offline and disconnects.
func (p *Publisher) Run(ctx context.Context) {
	id, ch := p.bus.Subscribe()
	defer p.bus.Unsubscribe(id)

	tick := time.NewTicker(p.cfg.Interval)
	defer tick.Stop()
	var last string
	pollTitle := func() {
		if p.title == nil {
			return
		}
		if t := p.title(ctx); t != last {
			last = t
			p.publish(p.cfg.TopicPrefix+"/now_playing", t)
		}
	}
	pollTitle()

	for {
		select {
		case <-ctx.Done():
			p.publish(p.cfg.TopicPrefix+"/availability", "offline")
			p.client.Disconnect(250)
			slog.Info("mqtt: publisher stopped")
			return
		case ev := <-ch:
			p.handle(ev)
			if ev.Type == "playback" {
				pollTitle()
			}
		case <-tick.C:
			pollTitle()
		}
	}
}
