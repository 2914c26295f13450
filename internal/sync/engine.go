// Package sync mirrors reconciled room state into the local cache so the
// client can render history while offline.
package sync

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lifelink/commsync/internal/bus"
	"github.com/lifelink/commsync/internal/store"
)

// Engine subscribes to "room." events on the bus and writes them through
// to the sqlite cache. Ingestion is idempotent; replaying the same event
// stream leaves the cache unchanged.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a new cache mirror engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to reconciled room events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("room.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageUpsert:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to cache message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case bus.KindMessageBatch:
		msgs, ok := evt.Payload.([]*store.Message)
		if !ok {
			return
		}
		if err := e.IngestBatch(msgs); err != nil {
			e.logger.Error("failed to cache page", zap.Error(err), zap.Int("count", len(msgs)))
		}
	case bus.KindMessageRemoved:
		ref, ok := evt.Payload.(map[string]string)
		if !ok {
			return
		}
		if err := e.db.DeleteMessage(ref["room_id"], ref["msg_id"]); err != nil {
			e.logger.Error("failed to remove cached message", zap.Error(err), zap.String("msg_id", ref["msg_id"]))
		}
	case bus.KindRoomUnread:
		count, ok := evt.Payload.(int)
		if !ok {
			return
		}
		if err := e.db.SetRoomUnread(evt.Room, count); err != nil {
			e.logger.Error("failed to update unread", zap.Error(err), zap.String("room", evt.Room))
		}
	}
}

// IngestMessage writes a single message through to the cache and bumps
// the room's activity. Provisional sends are skipped; only confirmed
// messages are cached.
func (e *Engine) IngestMessage(msg *store.Message) error {
	if msg.Pending() {
		return nil
	}
	if err := e.db.TouchRoom(msg.RoomID, msg.CreatedAt, truncate(msg.Body, 100)); err != nil {
		return fmt.Errorf("touch room: %w", err)
	}
	if err := e.db.UpsertMessage(msg); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// IngestBatch writes a fetched page through to the cache in one
// transaction.
func (e *Engine) IngestBatch(msgs []*store.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		if m.Pending() {
			continue
		}
		if err := store.UpsertMessageTx(tx, m); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	// Room activity only needs the newest confirmed entry of the page.
	var newest *store.Message
	for _, m := range msgs {
		if m.Pending() {
			continue
		}
		if newest == nil || m.CreatedAt > newest.CreatedAt {
			newest = m
		}
	}
	if newest == nil {
		return nil
	}
	if err := e.db.TouchRoom(newest.RoomID, newest.CreatedAt, truncate(newest.Body, 100)); err != nil {
		return fmt.Errorf("touch room: %w", err)
	}
	return nil
}

// SyncRooms mirrors the room list fetched from the backend.
func (e *Engine) SyncRooms(rooms []store.Room) error {
	for _, r := range rooms {
		if err := e.db.UpsertRoom(&r); err != nil {
			return fmt.Errorf("upsert room %s: %w", r.ID, err)
		}
	}
	return nil
}

// CachedRooms returns the cached room list ordered by last activity.
func (e *Engine) CachedRooms() ([]store.Room, error) {
	return e.db.ListRooms()
}

// CachedMessages returns the newest cached page for a room, for rendering
// before the first live fetch resolves.
func (e *Engine) CachedMessages(roomID string, limit int) ([]store.Message, error) {
	return e.db.ListMessages(roomID, 0, limit)
}

// truncate clips s to at most maxLen bytes, backing up to a rune
// boundary so multi-byte characters are never split.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
