package events

import (
	"context"
	"strconv"
	"testing"
	"time"
)

type testEntity struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (e testEntity) Identity() string {
	return e.ID
}

func receive(t *testing.T, stream <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case event, ok := <-stream:
		if !ok {
			t.Fatal("stream closed unexpectedly")
		}
		return event
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected change event within deadline")
	}
	return ChangeEvent{}
}

func TestBusPublishesToEverySubscriber(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, cleanupFirst := bus.Subscribe(ctx)
	defer cleanupFirst()
	second, cleanupSecond := bus.Subscribe(ctx)
	defer cleanupSecond()

	bus.Publish(Added(EntityActivity, Scope{FeedID: "user:1"}, testEntity{ID: "a1"}))

	for _, stream := range []<-chan ChangeEvent{first, second} {
		event := receive(t, stream)
		if event.Kind != KindAdded {
			t.Fatalf("expected kind %s, got %s", KindAdded, event.Kind)
		}
		if event.TargetID() != "a1" {
			t.Fatalf("expected target a1, got %s", event.TargetID())
		}
		if event.ID == "" || event.CreatedAt.IsZero() {
			t.Fatalf("expected stamped event, got %+v", event)
		}
	}
}

func TestBusPreservesOrderForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := bus.Subscribe(ctx)
	defer cleanup()

	const total = 200
	for index := 0; index < total; index++ {
		bus.Publish(Deleted(EntityActivity, Scope{}, "a"+strconv.Itoa(index), nil))
	}

	for index := 0; index < total; index++ {
		event := receive(t, stream)
		expected := "a" + strconv.Itoa(index)
		if event.EntityID != expected {
			t.Fatalf("event %d: expected %s, got %s", index, expected, event.EntityID)
		}
	}
}

func TestBusCleanupClosesStream(t *testing.T) {
	bus := NewBus()
	stream, cleanup := bus.Subscribe(context.Background())
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber, got %d", bus.SubscriberCount())
	}

	cleanup()
	cleanup()

	select {
	case _, ok := <-stream:
		if ok {
			t.Fatal("expected closed stream")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected stream to close after cleanup")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers, got %d", bus.SubscriberCount())
	}
}

func TestBusContextCancellationUnsubscribes(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	stream, _ := bus.Subscribe(ctx)
	cancel()

	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				if bus.SubscriberCount() != 0 {
					t.Fatalf("expected no subscribers, got %d", bus.SubscriberCount())
				}
				return
			}
		case <-deadline:
			t.Fatal("expected stream to close after cancellation")
		}
	}
}

func TestBusIgnoresEventsWithoutKind(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := bus.Subscribe(ctx)
	defer cleanup()

	bus.Publish(ChangeEvent{Type: EntityActivity})

	select {
	case event := <-stream:
		t.Fatalf("did not expect event, got %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}
