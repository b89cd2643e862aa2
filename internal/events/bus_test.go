package events

import (
	"context"
	"testing"
	"time"
)

func TestPublishFansOutToSubscribers(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chA, _ := bus.Subscribe(ctx)
	chB, _ := bus.Subscribe(ctx)

	bus.Publish(RoundEvent{Round: 1, Type: TypeRoundResolved, DamageDealt: 12})

	select {
	case got := <-chA:
		if got.DamageDealt != 12 {
			t.Fatalf("unexpected event on A: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event on A")
	}
	select {
	case got := <-chB:
		if got.DamageDealt != 12 {
			t.Fatalf("unexpected event on B: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event on B")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(context.Background())
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe")
	}
}

func TestContextCancelUnsubscribes(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	_, _ = bus.Subscribe(ctx)
	cancel()

	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected subscriber to be removed after context cancellation")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPublishDropsWhenBacklogFull(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Subscribe(context.Background())
	for i := 0; i < backlogSize+10; i++ {
		bus.Publish(RoundEvent{Round: i})
	}
	if len(ch) != backlogSize {
		t.Fatalf("expected backlog capped at %d, got %d", backlogSize, len(ch))
	}
}
