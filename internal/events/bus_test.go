package events_test

import (
	"testing"
	"time"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/events"
	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

func playback(state models.PlaybackState) models.Event {
	return models.Event{Type: "playback", Playback: &models.PlaybackStatus{State: state, RadioMode: models.ModeFM}}
}

func receive(t *testing.T, ch <-chan models.Event) models.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}
	return models.Event{}
}

func TestBusSubscribePublish(t *testing.T) {
	bus := events.NewBus()
	_, ch := bus.Subscribe()

	bus.Publish(playback(models.StatePlaying))

	got := receive(t, ch)
	if got.Type != "playback" || got.Playback.State != models.StatePlaying {
		t.Errorf("got %+v", got)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := events.NewBus()
	id, ch := bus.Subscribe()

	bus.Unsubscribe(id)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d", bus.SubscriberCount())
	}
	bus.Unsubscribe(id)
}

func TestBusDropsEventsWhenFull(t *testing.T) {
	bus := events.NewBus()
	_, ch := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(playback(models.StateBuffering))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if len(ch) == 0 {
		t.Error("expected some events to be buffered")
	}
}

func TestBusReplaysLatestPerType(t *testing.T) {
	bus := events.NewBus()
	bus.Publish(playback(models.StateBuffering))
	bus.Publish(models.Event{Type: "lock", Lock: &models.LockStatus{Locked: true}})
	bus.Publish(playback(models.StatePlaying))

	_, ch := bus.Subscribe()
	first := receive(t, ch)
	second := receive(t, ch)
	if first.Type != "playback" || first.Playback.State != models.StatePlaying {
		t.Errorf("first replay = %+v", first)
	}
	if second.Type != "lock" || !second.Lock.Locked {
		t.Errorf("second replay = %+v", second)
	}

	ev, ok := bus.Last("lock")
	if !ok || !ev.Lock.Locked {
		t.Errorf("Last(lock) = %+v, %v", ev, ok)
	}
	if _, ok := bus.Last("dab"); ok {
		t.Error("Last(dab) should be empty")
	}
}
