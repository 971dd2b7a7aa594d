package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesMatchingType(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventPositionOpened, func(e Event) { got <- e })

	bus.PublishPositionOpened("u1", "s1", "BTCUSDT", "LONG", "alpha", 100, 2)

	select {
	case e := <-got:
		if e.UserID != "u1" || e.Data["symbol"] != "BTCUSDT" {
			t.Fatalf("unexpected event: %+v", e)
		}
		if e.Timestamp.IsZero() {
			t.Fatal("timestamp must be set")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestSubscriberDoesNotReceiveOtherTypes(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventSessionStopped, func(e Event) { got <- e })

	bus.PublishSessionStarted("u1", "s1", "PAPER")

	select {
	case e := <-got:
		t.Fatalf("unexpected delivery: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 2)
	bus.SubscribeAll(func(e Event) { got <- e })

	bus.PublishSessionStarted("u1", "s1", "LIVE")
	bus.PublishSessionStopped("u1", "s1", "USER_REQUEST", 12.5)

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-got:
			seen[e.Type] = true
		case <-time.After(time.Second):
			t.Fatal("missing events")
		}
	}
	if !seen[EventSessionStarted] || !seen[EventSessionStopped] {
		t.Fatalf("wrong events: %v", seen)
	}
}

func TestPublishRiskStopPayload(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventRiskStop, func(e Event) { got <- e })

	bus.PublishRiskStop("u1", "s1", "DAILY_LOSS_LIMIT")

	select {
	case e := <-got:
		if e.SessionID != "s1" || e.Data["reason"] != "DAILY_LOSS_LIMIT" {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestPublishFallbackFillPayload(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventFallbackFill, func(e Event) { got <- e })

	bus.PublishFallbackFill("u1", "s1", "ETHUSDT", "NO_CREDENTIALS")

	select {
	case e := <-got:
		if e.Data["symbol"] != "ETHUSDT" || e.Data["reason"] != "NO_CREDENTIALS" {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}
