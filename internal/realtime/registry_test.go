package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/lifelink/commsync/internal/bus"
	"github.com/lifelink/commsync/internal/proto"
	"go.uber.org/zap"
)

// fakeWriter records frames and simulates connectivity.
type fakeWriter struct {
	mu        sync.Mutex
	connected bool
	frames    []proto.Frame
}

func (w *fakeWriter) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *fakeWriter) WriteFrame(_ context.Context, f proto.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, f)
	return nil
}

func (w *fakeWriter) rooms(t *testing.T, frameType string) []string {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	var rooms []string
	for _, f := range w.frames {
		if f.Type != frameType {
			continue
		}
		var data proto.RoomData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			t.Fatal(err)
		}
		rooms = append(rooms, data.Room)
	}
	return rooms
}

func TestSubscribeTracksAndEmits(t *testing.T) {
	w := &fakeWriter{connected: true}
	r := NewRegistry(w, bus.New(), zap.NewNop())

	r.Subscribe(context.Background(), "room-1")
	r.Subscribe(context.Background(), "room-1") // idempotent membership

	if got := r.Tracked(); len(got) != 1 || got[0] != "room-1" {
		t.Errorf("tracked = %v, want [room-1]", got)
	}
	if got := w.rooms(t, proto.FrameSubscribe); len(got) != 2 {
		t.Errorf("subscribe frames = %v (re-subscribing is harmless, still emitted)", got)
	}
}

func TestSubscribeDroppedWhenOffline(t *testing.T) {
	w := &fakeWriter{connected: false}
	r := NewRegistry(w, bus.New(), zap.NewNop())

	r.Subscribe(context.Background(), "room-1")

	if got := r.Tracked(); len(got) != 0 {
		t.Errorf("tracked = %v, want empty (offline subscribe is dropped, not queued)", got)
	}
	if got := w.rooms(t, proto.FrameSubscribe); len(got) != 0 {
		t.Errorf("frames = %v, want none", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	w := &fakeWriter{connected: true}
	r := NewRegistry(w, bus.New(), zap.NewNop())

	r.Subscribe(context.Background(), "room-1")
	r.Unsubscribe(context.Background(), "room-1")

	if got := r.Tracked(); len(got) != 0 {
		t.Errorf("tracked = %v, want empty", got)
	}
	if got := w.rooms(t, proto.FrameUnsubscribe); len(got) != 1 || got[0] != "room-1" {
		t.Errorf("unsubscribe frames = %v, want [room-1]", got)
	}
}

func TestUnsubscribeOfflineIsNoop(t *testing.T) {
	w := &fakeWriter{connected: true}
	r := NewRegistry(w, bus.New(), zap.NewNop())
	r.Subscribe(context.Background(), "room-1")

	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()

	r.Unsubscribe(context.Background(), "room-1")
	if got := r.Tracked(); len(got) != 1 {
		t.Errorf("tracked = %v, want [room-1] (offline unsubscribe is a no-op)", got)
	}
}

func TestReplayAll(t *testing.T) {
	w := &fakeWriter{connected: true}
	r := NewRegistry(w, bus.New(), zap.NewNop())
	r.Subscribe(context.Background(), "room-a")
	r.Subscribe(context.Background(), "room-b")

	w.mu.Lock()
	w.frames = nil
	w.mu.Unlock()

	r.ReplayAll()

	got := w.rooms(t, proto.FrameSubscribe)
	if len(got) != 2 {
		t.Fatalf("replayed %d frames, want 2", len(got))
	}
	seen := map[string]bool{}
	for _, room := range got {
		if seen[room] {
			t.Errorf("room %s replayed twice", room)
		}
		seen[room] = true
	}
}

func TestServerAcksUpdateMembership(t *testing.T) {
	w := &fakeWriter{connected: true}
	b := bus.New()
	r := NewRegistry(w, b, zap.NewNop())
	r.Start(context.Background())
	defer r.Stop()

	// A confirmation for a room the client never asked for still counts:
	// the server re-derives membership and the client mirrors it.
	b.Publish(bus.Event{Kind: bus.KindSubConfirmed, Room: "room-x"})
	waitFor(t, func() bool { return len(r.Tracked()) == 1 })

	b.Publish(bus.Event{Kind: bus.KindSubRevoked, Room: "room-x"})
	waitFor(t, func() bool { return len(r.Tracked()) == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
