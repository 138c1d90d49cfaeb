package mqttpub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/events"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

type doneToken struct{ done chan struct{} }

func newDoneToken() *doneToken {
	t := &doneToken{done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return nil }

type message struct {
	topic    string
	retained bool
	payload  string
}

type fakeClient struct {
	mu           sync.Mutex
	msgs         []message
	disconnected bool
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	var s string
	switch p := payload.(type) {
	case string:
		s = p
	case []byte:
		s = string(p)
	}
	c.mu.Lock()
	c.msgs = append(c.msgs, message{topic, retained, s})
	c.mu.Unlock()
	return newDoneToken()
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) last(topic string) (message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].topic == topic {
			return c.msgs[i], true
		}
	}
	return message{}, false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestPublisherForwardsPlayback(t *testing.T) {
	bus := events.NewBus()
	fc := &fakeClient{}
	var mu sync.Mutex
	title := "Triple J"
	p := newPublisher(fc, Config{TopicPrefix: "radio", Interval: 10 * time.Millisecond}, bus,
		func(context.Context) string {
			mu.Lock()
			defer mu.Unlock()
			return title
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool {
		m, ok := fc.last("radio/now_playing")
		return ok && m.payload == "Triple J" && m.retained
	})

	st := models.PlaybackStatus{State: models.StatePlaying, RadioMode: models.ModeDAB}
	bus.Publish(models.Event{Type: "playback", Playback: &st})
	waitFor(t, func() bool {
		m, ok := fc.last("radio/playback")
		if !ok {
			return false
		}
		var got models.PlaybackStatus
		return json.Unmarshal([]byte(m.payload), &got) == nil && got.State == models.StatePlaying
	})

	mu.Lock()
	title = "Artist - Song"
	mu.Unlock()
	waitFor(t, func() bool {
		m, _ := fc.last("radio/now_playing")
		return m.payload == "Artist - Song"
	})

	cancel()
	<-done
	if m, _ := fc.last("radio/availability"); m.payload != "offline" {
		t.Errorf("availability = %q", m.payload)
	}
	if !fc.disconnected {
		t.Error("client not disconnected")
	}
}

func TestPublisherIgnoresOtherEvents(t *testing.T) {
	fc := &fakeClient{}
	p := newPublisher(fc, Config{}, events.NewBus(), nil)
	p.handle(models.Event{Type: "lock", Lock: &models.LockStatus{Locked: true}})
	if len(fc.msgs) != 0 {
		t.Errorf("published %v", fc.msgs)
	}
	if p.cfg.TopicPrefix != "rtlsdr-radio" || p.cfg.Interval != 5*time.Second {
		t.Errorf("defaults = %+v", p.cfg)
	}
}

func TestConnectRequiresBroker(t *testing.T) {
	if _, err := Connect(Config{}, events.NewBus(), nil); err == nil {
		t.Error("expected error without broker")
	}
}
