package reconcile

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lifelink/commsync/internal/store"
)

type fakeConn struct{ connected bool }

func (f *fakeConn) IsConnected() bool { return f.connected }

func TestPollerRefreshesActiveRoom(t *testing.T) {
	f := &fakeFetcher{recentPages: map[string][]*store.Message{
		"room-1": {msg("m1", "room-1", 1000)},
	}}
	r := testReconciler(t, f, 50)
	r.SetActiveRoom("room-1")

	p := NewPoller(r, &fakeConn{connected: false}, zap.NewNop(), 20*time.Millisecond)
	p.Start(context.Background())
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.Snapshot("room-1").Messages) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("poller never refreshed the active room")
}

func TestPollerDisabledWithZeroInterval(t *testing.T) {
	f := &fakeFetcher{recentPages: map[string][]*store.Message{}}
	r := testReconciler(t, f, 50)

	p := NewPoller(r, &fakeConn{}, zap.NewNop(), 0)
	p.Start(context.Background())
	p.Stop() // must not panic with no loop running
}

func TestPollerNoActiveRoom(t *testing.T) {
	f := &fakeFetcher{recentPages: map[string][]*store.Message{}}
	r := testReconciler(t, f, 50)

	p := NewPoller(r, &fakeConn{}, zap.NewNop(), 10*time.Millisecond)
	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(50 * time.Millisecond)
	// Nothing to assert beyond no panic and no spurious room state.
	if len(r.Snapshot("").Messages) != 0 {
		t.Error("unexpected state for empty room id")
	}
}
