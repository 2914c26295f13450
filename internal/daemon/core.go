package daemon

import (
	"context"

	"go.uber.org/zap"

	"github.com/lifelink/commsync/internal/bus"
	"github.com/lifelink/commsync/internal/realtime"
	"github.com/lifelink/commsync/internal/reconcile"
	"github.com/lifelink/commsync/internal/rest"
	"github.com/lifelink/commsync/internal/status"
	"github.com/lifelink/commsync/internal/store"
	intsync "github.com/lifelink/commsync/internal/sync"
)

// Core is the messaging facade consumed by the UI layer. It fans the
// inbound operations out to the connection manager, the subscription
// registry and the reconciler, which each own their piece of state.
type Core struct {
	manager  *realtime.Manager
	registry *realtime.Registry
	rec      *reconcile.Reconciler
	machine  *status.Machine
	engine   *intsync.Engine
	api      *rest.Client
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewCore creates the messaging facade.
func NewCore(
	manager *realtime.Manager,
	registry *realtime.Registry,
	rec *reconcile.Reconciler,
	machine *status.Machine,
	engine *intsync.Engine,
	api *rest.Client,
	b *bus.Bus,
	logger *zap.Logger,
) *Core {
	return &Core{
		manager:  manager,
		registry: registry,
		rec:      rec,
		machine:  machine,
		engine:   engine,
		api:      api,
		bus:      b,
		logger:   logger,
	}
}

// RequestConnect attempts to open the realtime channel. Returns the
// connection outcome; realtime.ErrAuthRequired and realtime.ErrCircuitOpen
// pass through for the UI to classify.
func (c *Core) RequestConnect(ctx context.Context) (bool, error) {
	return c.manager.Connect(ctx)
}

// RequestDisconnect tears the channel down and clears subscription
// bookkeeping. Idempotent.
func (c *Core) RequestDisconnect() {
	c.manager.Disconnect()
}

// RequestSubscribe subscribes a room on the realtime channel and seeds
// its message list from the REST API.
func (c *Core) RequestSubscribe(ctx context.Context, roomID string) error {
	c.registry.Subscribe(ctx, roomID)
	return c.rec.Seed(ctx, roomID)
}

// RequestUnsubscribe drops a room subscription.
func (c *Core) RequestUnsubscribe(ctx context.Context, roomID string) {
	c.registry.Unsubscribe(ctx, roomID)
}

// RequestSendMessage sends text to a room with an optimistic local echo.
func (c *Core) RequestSendMessage(ctx context.Context, roomID, text string) (*store.Message, error) {
	return c.rec.Send(ctx, roomID, text)
}

// RequestLoadOlder fetches the next older page for a room.
func (c *Core) RequestLoadOlder(ctx context.Context, roomID string) error {
	return c.rec.LoadOlder(ctx, roomID)
}

// SetActiveRoom marks the room being rendered and clears its unread count.
func (c *Core) SetActiveRoom(roomID string) {
	c.rec.SetActiveRoom(roomID)
}

// ActiveRoom returns the room currently marked active.
func (c *Core) ActiveRoom() string {
	return c.rec.ActiveRoom()
}

// Messages returns the current reconciled view of a room.
func (c *Core) Messages(roomID string) reconcile.Snapshot {
	return c.rec.Snapshot(roomID)
}

// IsOwn reports whether the current session authored the message.
func (c *Core) IsOwn(m *store.Message) bool {
	return c.rec.IsOwn(m)
}

// Rooms lists the session's communities from the backend, falling back
// to the local cache when the fetch fails, so the room list renders
// offline.
func (c *Core) Rooms(ctx context.Context) ([]store.Room, error) {
	rooms, err := c.api.FetchRooms(ctx)
	if err != nil {
		c.logger.Warn("room list fetch failed, serving cache", zap.Error(err))
		return c.engine.CachedRooms()
	}
	if err := c.engine.SyncRooms(rooms); err != nil {
		c.logger.Warn("room list cache write failed", zap.Error(err))
	}
	return rooms, nil
}

// CachedMessages returns the newest cached page for offline rendering.
func (c *Core) CachedMessages(roomID string, limit int) ([]store.Message, error) {
	return c.engine.CachedMessages(roomID, limit)
}

// Status returns the coarse connectivity signal for the status bar.
func (c *Core) Status() status.Signal {
	return c.machine.Signal()
}

// IsConnected reports realtime channel liveness.
func (c *Core) IsConnected() bool {
	return c.manager.IsConnected()
}

// CanConnect is the pre-flight check: credential present and breaker
// closed.
func (c *Core) CanConnect() bool {
	return c.manager.CanConnect()
}

// Subscribe exposes the event bus to the UI layer.
func (c *Core) Subscribe(namespace string, buf int) (<-chan bus.Event, func()) {
	return c.bus.Subscribe(namespace, buf)
}
