package events

import (
	"context"
	"testing"
	"time"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, unsubscribe := bus.Subscribe(ctx)
	defer unsubscribe()

	sent := NewLiveEvent(1, "create", CategoryContent, 10, 0, time.Now().UTC())
	bus.Publish(sent)

	select {
	case received := <-stream:
		if received.ID != sent.ID || received.RefID != 10 || received.Category != CategoryContent {
			t.Fatalf("delivered event drifted: %+v", received)
		}
	case <-time.After(time.Second):
		t.Fatalf("event never arrived")
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	stream, unsubscribe := bus.Subscribe(context.Background())
	unsubscribe()

	bus.Publish(NewLiveEvent(1, "create", CategoryContent, 10, 0, time.Now().UTC()))

	select {
	case event := <-stream:
		t.Fatalf("unsubscribed stream received %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	dropped := 0
	bus.OnDrop(func() { dropped++ })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, unsubscribe := bus.Subscribe(ctx)
	defer unsubscribe()

	// Nobody reads the stream; overflow past the buffer must not block and
	// must report every dropped event.
	total := cap(stream) + 5
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			bus.Publish(NewLiveEvent(1, "create", CategoryContent, int64(i), 0, time.Now().UTC()))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
	if dropped != 5 {
		t.Fatalf("expected 5 dropped events, got %d", dropped)
	}
}

func TestNewLiveEventStampsIdentity(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	first := NewLiveEvent(3, "update", CategoryMessage, 7, 2, at)
	second := NewLiveEvent(3, "update", CategoryMessage, 7, 2, at)

	if first.ID == "" || first.ID == second.ID {
		t.Fatalf("event ids must be fresh per event: %q vs %q", first.ID, second.ID)
	}
	if first.ActorID != 3 || first.ParentID != 2 || !first.Date.Equal(at) {
		t.Fatalf("event fields drifted: %+v", first)
	}
}
