package sync

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lifelink/commsync/internal/bus"
	"github.com/lifelink/commsync/internal/store"
)

func testEngine(t *testing.T) (*Engine, *store.DB, *bus.Bus) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	b := bus.New()
	return NewEngine(db, b, zap.NewNop()), db, b
}

func cached(t *testing.T, db *store.DB, roomID string) []store.Message {
	t.Helper()
	msgs, err := db.ListMessages(roomID, 0, 100)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return msgs
}

func TestIngestMessageIdempotent(t *testing.T) {
	e, db, _ := testEngine(t)

	msg := &store.Message{
		ID:        "m1",
		RoomID:    "room-1",
		Sender:    store.Sender{ID: "u1", Kind: store.AccountIndividual, FirstName: "Ana"},
		Body:      "hello",
		CreatedAt: 1000,
	}
	if err := e.IngestMessage(msg); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if err := e.IngestMessage(msg); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if got := cached(t, db, "room-1"); len(got) != 1 {
		t.Fatalf("cached %d messages, want 1", len(got))
	}
	rooms, err := db.ListRooms()
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].LastMessageAt != 1000 {
		t.Errorf("rooms = %+v", rooms)
	}
}

func TestIngestSkipsProvisional(t *testing.T) {
	e, db, _ := testEngine(t)

	if err := e.IngestMessage(&store.Message{
		ID: "local-1", RoomID: "room-1", Body: "pending", CreatedAt: 1000, Status: store.StatusSending,
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got := cached(t, db, "room-1"); len(got) != 0 {
		t.Fatalf("provisional message cached: %v", got)
	}
}

func TestIngestBatch(t *testing.T) {
	e, db, _ := testEngine(t)

	batch := []*store.Message{
		{ID: "m2", RoomID: "room-1", Body: "second", CreatedAt: 2000},
		{ID: "m1", RoomID: "room-1", Body: "first", CreatedAt: 1000},
		{ID: "local-x", RoomID: "room-1", Body: "pending", CreatedAt: 3000, Status: store.StatusSending},
	}
	if err := e.IngestBatch(batch); err != nil {
		t.Fatalf("ingest batch: %v", err)
	}

	if got := cached(t, db, "room-1"); len(got) != 2 {
		t.Fatalf("cached %d messages, want 2", len(got))
	}
	rooms, err := db.ListRooms()
	if err != nil {
		t.Fatal(err)
	}
	// The newest confirmed entry drives room activity, not the pending one.
	if len(rooms) != 1 || rooms[0].LastMessageAt != 2000 || rooms[0].LastMessagePreview != "second" {
		t.Errorf("rooms = %+v", rooms)
	}
}

func TestBusEventsFlowThrough(t *testing.T) {
	e, db, b := testEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	b.Publish(bus.Event{
		Kind: bus.KindMessageUpsert,
		Room: "room-1",
		Payload: &store.Message{
			ID: "m1", RoomID: "room-1", Body: "hello", CreatedAt: 1000,
		},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(cached(t, db, "room-1")) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := cached(t, db, "room-1"); len(got) != 1 {
		t.Fatalf("cached %d messages, want 1", len(got))
	}

	b.Publish(bus.Event{
		Kind:    bus.KindMessageRemoved,
		Room:    "room-1",
		Payload: map[string]string{"room_id": "room-1", "msg_id": "m1"},
	})
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(cached(t, db, "room-1")) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := cached(t, db, "room-1"); len(got) != 0 {
		t.Fatalf("message not removed: %v", got)
	}
}

func TestSyncRoomsAndUnread(t *testing.T) {
	e, db, _ := testEngine(t)

	if err := e.SyncRooms([]store.Room{
		{ID: "room-1", Name: "Donors North"},
		{ID: "room-2", Name: "Plasma Group"},
	}); err != nil {
		t.Fatalf("sync rooms: %v", err)
	}
	if err := db.SetRoomUnread("room-1", 4); err != nil {
		t.Fatal(err)
	}

	rooms, err := db.ListRooms()
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 {
		t.Fatalf("rooms = %d, want 2", len(rooms))
	}
	for _, r := range rooms {
		if r.ID == "room-1" && r.UnreadCount != 4 {
			t.Errorf("unread = %d, want 4", r.UnreadCount)
		}
	}
}

func TestPreviewTruncatesOnRuneBoundary(t *testing.T) {
	e, db, _ := testEngine(t)

	// 40 three-byte runes = 120 bytes; 100 is not a rune boundary.
	body := strings.Repeat("€", 40)
	msg := &store.Message{ID: "m1", RoomID: "room-1", Body: body, CreatedAt: 1000}
	if err := e.IngestMessage(msg); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	rooms, err := db.ListRooms()
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 {
		t.Fatalf("rooms = %+v", rooms)
	}
	preview := rooms[0].LastMessagePreview
	if !utf8.ValidString(preview) {
		t.Errorf("preview is not valid UTF-8: %q", preview)
	}
	if len(preview) > 100 {
		t.Errorf("preview length = %d bytes, want <= 100", len(preview))
	}
	if got := utf8.RuneCountInString(preview); got != 33 {
		t.Errorf("preview runes = %d, want 33", got)
	}
}
