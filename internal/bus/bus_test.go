package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindConnStatusChanged, Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindConnStatusChanged {
			t.Errorf("got kind %q, want %q", evt.Kind, KindConnStatusChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("publish should stamp a zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("push.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindConnStatusChanged})
	b.Publish(Event{Kind: KindPushMessage, Room: "room-1"})

	select {
	case evt := <-ch:
		if evt.Kind != KindPushMessage {
			t.Errorf("got kind %q, want %q", evt.Kind, KindPushMessage)
		}
		if evt.Room != "room-1" {
			t.Errorf("got room %q, want room-1", evt.Room)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The conn event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("send.", 10)
	unsub()
	unsub() // disposer must tolerate a second call

	b.Publish(Event{Kind: KindSendAck})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultipleConsumers(t *testing.T) {
	b := New()
	chA, unsubA := b.Subscribe("room.", 10)
	defer unsubA()
	chB, unsubB := b.Subscribe("room.", 10)
	defer unsubB()

	b.Publish(Event{Kind: KindRoomSnapshot, Room: "r"})

	for _, ch := range []<-chan Event{chA, chB} {
		select {
		case evt := <-ch:
			if evt.Kind != KindRoomSnapshot {
				t.Errorf("got kind %q, want %q", evt.Kind, KindRoomSnapshot)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("push.", 1)
	defer unsub()

	b.Publish(Event{Kind: KindPushMessage})
	// Buffer is full, this one is dropped instead of blocking.
	b.Publish(Event{Kind: KindPushMessageEdited})

	evt := <-ch
	if evt.Kind != KindPushMessage {
		t.Errorf("got %q, want %q", evt.Kind, KindPushMessage)
	}
}
