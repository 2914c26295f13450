package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/lifelink/commsync/internal/bus"
	"github.com/lifelink/commsync/internal/proto"
	"go.uber.org/zap"
)

// FrameWriter is the slice of the connection manager the registry needs.
type FrameWriter interface {
	IsConnected() bool
	WriteFrame(ctx context.Context, f proto.Frame) error
}

// Registry tracks which rooms the session intends to be subscribed to.
// The tracked set is the source of truth independent of transient
// connection drops: the manager calls ReplayAll after every reconnect
// because the server forgets per-socket subscriptions.
type Registry struct {
	writer FrameWriter
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	rooms  map[string]struct{}
	cancel context.CancelFunc
}

// NewRegistry creates an empty registry writing frames through w.
func NewRegistry(w FrameWriter, b *bus.Bus, logger *zap.Logger) *Registry {
	return &Registry{
		writer: w,
		bus:    b,
		logger: logger,
		rooms:  make(map[string]struct{}),
	}
}

// Subscribe emits a subscribe frame and tracks the room optimistically;
// the server's confirmation reaffirms membership. When offline the
// request is dropped with a warning rather than queued, so long
// disconnects cannot build up unbounded intent; callers retry once
// connected.
func (r *Registry) Subscribe(ctx context.Context, roomID string) {
	if !r.writer.IsConnected() {
		r.logger.Warn("subscribe dropped, not connected", zap.String("room", roomID))
		return
	}
	r.mu.Lock()
	_, already := r.rooms[roomID]
	r.rooms[roomID] = struct{}{}
	r.mu.Unlock()

	if err := r.writer.WriteFrame(ctx, proto.NewRoomFrame(proto.FrameSubscribe, roomID)); err != nil {
		r.logger.Warn("subscribe frame failed", zap.String("room", roomID), zap.Error(err))
		return
	}
	if !already {
		r.logger.Info("subscribed to room", zap.String("room", roomID))
	}
}

// Unsubscribe emits an unsubscribe frame and stops tracking the room.
// No-op with a warning when offline.
func (r *Registry) Unsubscribe(ctx context.Context, roomID string) {
	if !r.writer.IsConnected() {
		r.logger.Warn("unsubscribe dropped, not connected", zap.String("room", roomID))
		return
	}
	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()

	if err := r.writer.WriteFrame(ctx, proto.NewRoomFrame(proto.FrameUnsubscribe, roomID)); err != nil {
		r.logger.Warn("unsubscribe frame failed", zap.String("room", roomID), zap.Error(err))
	}
}

// ReplayAll re-issues a subscribe frame for every tracked room. The
// connection manager invokes it through its OnConnect hook.
func (r *Registry) ReplayAll() {
	rooms := r.Tracked()
	if len(rooms) == 0 {
		return
	}
	r.logger.Info("replaying subscriptions", zap.Int("rooms", len(rooms)))
	for _, roomID := range rooms {
		if err := r.writer.WriteFrame(context.Background(), proto.NewRoomFrame(proto.FrameSubscribe, roomID)); err != nil {
			r.logger.Warn("replay failed", zap.String("room", roomID), zap.Error(err))
		}
	}
}

// Clear drops all tracked rooms; invoked on explicit disconnect.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.rooms = make(map[string]struct{})
	r.mu.Unlock()
}

// Tracked returns the tracked room IDs in stable order.
func (r *Registry) Tracked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

// Start consumes server subscription acknowledgements from the bus:
// confirmations reaffirm membership, revocations remove it.
func (r *Registry) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("sub.", 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.handleAck(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the acknowledgement consumer.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Registry) handleAck(evt bus.Event) {
	switch evt.Kind {
	case bus.KindSubConfirmed:
		r.mu.Lock()
		r.rooms[evt.Room] = struct{}{}
		r.mu.Unlock()
	case bus.KindSubRevoked:
		r.mu.Lock()
		delete(r.rooms, evt.Room)
		r.mu.Unlock()
		r.logger.Warn("subscription revoked by server", zap.String("room", evt.Room))
	}
}
