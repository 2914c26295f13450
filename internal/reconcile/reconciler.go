// Package reconcile merges the four message sources — seed fetch, older
// pages, live pushes and optimistic sends — into one ordered,
// duplicate-free list per room.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lifelink/commsync/internal/auth"
	"github.com/lifelink/commsync/internal/bus"
	"github.com/lifelink/commsync/internal/config"
	"github.com/lifelink/commsync/internal/proto"
	"github.com/lifelink/commsync/internal/store"
)

// ErrSendFailed marks a failed optimistic send. The provisional message
// stays in the list with a failed status; the caller decides whether to
// drop it or offer a retry.
var ErrSendFailed = errors.New("send failed")

// Fetcher is the REST surface the reconciler consumes.
type Fetcher interface {
	FetchRecent(ctx context.Context, roomID string, pageSize int) ([]*store.Message, error)
	FetchOlder(ctx context.Context, roomID string, page, pageSize int) ([]*store.Message, error)
	Send(ctx context.Context, roomID, text string) (*store.Message, error)
}

// Snapshot is the rendered view of one room's list, published on the bus
// after every mutation.
type Snapshot struct {
	RoomID       string
	Messages     []*store.Message
	HasMoreOlder bool
	Unread       int
}

// roomState holds one room's reconciled list. messages is kept in
// ascending creation-time order; ids shadows it for identifier lookups.
type roomState struct {
	messages     []*store.Message
	ids          map[string]struct{}
	page         int
	hasMoreOlder bool
	loadingOlder bool
	seeded       bool
	unread       int
}

func newRoomState() *roomState {
	return &roomState{ids: make(map[string]struct{})}
}

// Reconciler owns every room message list. It is the sole writer of that
// state; the realtime and REST collaborators feed it through the bus and
// direct calls respectively.
type Reconciler struct {
	fetcher Fetcher
	creds   auth.Provider
	bus     *bus.Bus
	logger  *zap.Logger
	cfg     config.Reconcile
	cancel  context.CancelFunc

	mu     sync.Mutex
	rooms  map[string]*roomState
	active string
}

// New creates a reconciler.
func New(fetcher Fetcher, creds auth.Provider, b *bus.Bus, logger *zap.Logger, cfg config.Reconcile) *Reconciler {
	return &Reconciler{
		fetcher: fetcher,
		creds:   creds,
		bus:     b,
		logger:  logger,
		cfg:     cfg,
		rooms:   make(map[string]*roomState),
	}
}

// Start subscribes to realtime push events on the bus.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("push.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.handlePush(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the push consumer.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// SetActiveRoom marks a room as the one being rendered and clears its
// unread counter. Switching rooms never resets another room's pagination
// cursor; in-flight fetches for the previous room still land in that
// room's list.
func (r *Reconciler) SetActiveRoom(roomID string) {
	r.mu.Lock()
	r.active = roomID
	if roomID == "" {
		r.mu.Unlock()
		return
	}
	st := r.roomLocked(roomID)
	st.unread = 0
	snap := r.snapshotLocked(roomID, st)
	r.mu.Unlock()

	r.publishUnread(roomID, 0)
	r.publishSnapshot(snap)
}

// ActiveRoom returns the room currently being rendered.
func (r *Reconciler) ActiveRoom() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Snapshot returns a copy of a room's current list.
func (r *Reconciler) Snapshot(roomID string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(roomID, r.roomLocked(roomID))
}

// Seed fetches the most recent page for a room and replaces any prior
// list state. Pending optimistic messages are carried over so an unlucky
// re-seed does not eat an in-flight send.
func (r *Reconciler) Seed(ctx context.Context, roomID string) error {
	page, err := r.fetcher.FetchRecent(ctx, roomID, r.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("seed room %s: %w", roomID, err)
	}

	r.mu.Lock()
	st := r.roomLocked(roomID)
	var pending []*store.Message
	for _, m := range st.messages {
		if m.Pending() {
			pending = append(pending, m)
		}
	}
	st.messages = nil
	st.ids = make(map[string]struct{})
	st.page = 1
	st.hasMoreOlder = len(page) == r.cfg.PageSize
	st.seeded = true

	// REST serves newest first; walk backwards to append ascending.
	for i := len(page) - 1; i >= 0; i-- {
		r.insertLocked(st, page[i])
	}
	for _, m := range pending {
		r.insertLocked(st, m)
	}
	batch := cloneBatch(page)
	snap := r.snapshotLocked(roomID, st)
	r.mu.Unlock()

	r.bus.Publish(bus.Event{Kind: bus.KindMessageBatch, Room: roomID, Payload: batch})
	r.publishSnapshot(snap)
	return nil
}

// LoadOlder fetches the next older page and prepends it. A request in
// flight suppresses further triggers until it resolves; near-top scroll
// handlers can call this freely.
func (r *Reconciler) LoadOlder(ctx context.Context, roomID string) error {
	r.mu.Lock()
	st := r.roomLocked(roomID)
	if st.loadingOlder || !st.hasMoreOlder || !st.seeded {
		r.mu.Unlock()
		return nil
	}
	st.loadingOlder = true
	nextPage := st.page + 1
	r.mu.Unlock()

	page, err := r.fetcher.FetchOlder(ctx, roomID, nextPage, r.cfg.PageSize)

	r.mu.Lock()
	st = r.roomLocked(roomID)
	st.loadingOlder = false
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("load older page %d for room %s: %w", nextPage, roomID, err)
	}
	st.page = nextPage
	st.hasMoreOlder = len(page) == r.cfg.PageSize

	// Prepend as a block, oldest first. Overlap with the loaded window is
	// dropped by identifier.
	var block []*store.Message
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		if _, dup := st.ids[m.ID]; dup {
			continue
		}
		st.ids[m.ID] = struct{}{}
		block = append(block, m)
	}
	st.messages = append(block, st.messages...)
	batch := cloneBatch(page)
	snap := r.snapshotLocked(roomID, st)
	r.mu.Unlock()

	r.bus.Publish(bus.Event{Kind: bus.KindMessageBatch, Room: roomID, Payload: batch})
	r.publishSnapshot(snap)
	return nil
}

// Send appends a provisional message immediately, then issues the REST
// send. On confirmation the provisional entry is replaced by the server
// copy, unless the live push beat it there, in which case the provisional
// entry is simply dropped. Failures mark the entry failed and are never
// retried here.
func (r *Reconciler) Send(ctx context.Context, roomID, text string) (*store.Message, error) {
	cred, ok := r.creds.Credential()
	if !ok {
		return nil, fmt.Errorf("%w: no session credential", ErrSendFailed)
	}

	provisional := &store.Message{
		ID:        "local-" + uuid.NewString(),
		RoomID:    roomID,
		Sender:    cred.Identity,
		Body:      text,
		CreatedAt: time.Now().UnixMilli(),
		Status:    store.StatusSending,
	}

	r.mu.Lock()
	st := r.roomLocked(roomID)
	r.insertLocked(st, provisional)
	snap := r.snapshotLocked(roomID, st)
	r.mu.Unlock()
	r.publishSnapshot(snap)

	confirmed, err := r.fetcher.Send(ctx, roomID, text)

	r.mu.Lock()
	st = r.roomLocked(roomID)
	if err != nil {
		r.markLocked(st, provisional.ID, func(m *store.Message) { m.Status = store.StatusFailed })
		failed := provisional.Clone()
		snap = r.snapshotLocked(roomID, st)
		r.mu.Unlock()

		r.logger.Error("send failed", zap.Error(err), zap.String("room", roomID), zap.String("client_id", provisional.ID))
		r.bus.Publish(bus.Event{
			Kind: bus.KindSendFailed,
			Room: roomID,
			Payload: map[string]string{
				"client_msg_id": provisional.ID,
				"error":         err.Error(),
			},
		})
		r.publishSnapshot(snap)
		return failed, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	if _, raced := st.ids[confirmed.ID]; raced {
		// Live push already delivered the confirmed copy.
		r.removeLocked(st, provisional.ID)
	} else {
		r.replaceLocked(st, provisional.ID, confirmed)
	}
	payload := confirmed.Clone()
	snap = r.snapshotLocked(roomID, st)
	r.mu.Unlock()

	r.bus.Publish(bus.Event{
		Kind: bus.KindSendAck,
		Room: roomID,
		Payload: map[string]string{
			"client_msg_id": provisional.ID,
			"server_msg_id": confirmed.ID,
		},
	})
	r.bus.Publish(bus.Event{Kind: bus.KindMessageUpsert, Room: roomID, Payload: payload})
	r.publishSnapshot(snap)
	return payload, nil
}

// Refresh re-fetches the most recent page and folds it into the loaded
// window: new identifiers are inserted, known ones pick up body/edited/
// reaction changes. This is the polling fallback's entry point.
func (r *Reconciler) Refresh(ctx context.Context, roomID string) error {
	r.mu.Lock()
	seeded := r.roomLocked(roomID).seeded
	r.mu.Unlock()
	if !seeded {
		return r.Seed(ctx, roomID)
	}

	page, err := r.fetcher.FetchRecent(ctx, roomID, r.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("refresh room %s: %w", roomID, err)
	}

	r.mu.Lock()
	st := r.roomLocked(roomID)
	changed := false
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		if _, known := st.ids[m.ID]; known {
			r.markLocked(st, m.ID, func(cur *store.Message) {
				if cur.Body != m.Body || cur.Edited != m.Edited || len(cur.Reactions) != len(m.Reactions) {
					cur.Body = m.Body
					cur.Edited = m.Edited
					cur.Reactions = m.Reactions
					changed = true
				}
			})
			continue
		}
		r.insertLocked(st, m)
		changed = true
	}
	batch := cloneBatch(page)
	snap := r.snapshotLocked(roomID, st)
	r.mu.Unlock()

	if changed {
		r.bus.Publish(bus.Event{Kind: bus.KindMessageBatch, Room: roomID, Payload: batch})
		r.publishSnapshot(snap)
	}
	return nil
}

// IsOwn reports whether a message was authored by the current session,
// identifier first with a display-name fallback.
func (r *Reconciler) IsOwn(m *store.Message) bool {
	cred, ok := r.creds.Credential()
	if !ok {
		return false
	}
	return cred.Identity.Matches(m.Sender)
}

func (r *Reconciler) handlePush(evt bus.Event) {
	switch evt.Kind {
	case bus.KindPushMessage:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		r.applyNewMessage(msg)
	case bus.KindPushMessageEdited:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		r.applyEdit(msg)
	case bus.KindPushMessageDeleted:
		del, ok := evt.Payload.(proto.DeleteData)
		if !ok {
			return
		}
		r.applyDelete(del.Room, del.ID)
	case bus.KindPushReactionAdded:
		re, ok := evt.Payload.(proto.ReactionEvent)
		if !ok {
			return
		}
		r.applyReaction(re, true)
	case bus.KindPushReactionRemoved:
		re, ok := evt.Payload.(proto.ReactionEvent)
		if !ok {
			return
		}
		r.applyReaction(re, false)
	}
}

func (r *Reconciler) applyNewMessage(msg *store.Message) {
	r.mu.Lock()
	st := r.roomLocked(msg.RoomID)
	if _, dup := st.ids[msg.ID]; dup {
		r.mu.Unlock()
		// Duplicate of an optimistic or previously fetched copy.
		r.logger.Debug("duplicate push suppressed", zap.String("room", msg.RoomID), zap.String("msg_id", msg.ID))
		return
	}
	// Live pushes are appended in arrival order; the server guarantees
	// per-room delivery order and everything loaded is older.
	st.ids[msg.ID] = struct{}{}
	st.messages = append(st.messages, msg)
	unread := st.unread
	if msg.RoomID != r.active {
		st.unread++
		unread = st.unread
	}
	payload := msg.Clone()
	snap := r.snapshotLocked(msg.RoomID, st)
	active := r.active
	r.mu.Unlock()

	r.bus.Publish(bus.Event{Kind: bus.KindMessageUpsert, Room: msg.RoomID, Payload: payload})
	if msg.RoomID != active {
		r.publishUnread(msg.RoomID, unread)
	}
	r.publishSnapshot(snap)
}

func (r *Reconciler) applyEdit(msg *store.Message) {
	r.mu.Lock()
	st := r.roomLocked(msg.RoomID)
	var payload *store.Message
	found := r.markLocked(st, msg.ID, func(cur *store.Message) {
		cur.Body = msg.Body
		cur.Edited = true
		if msg.Reactions != nil {
			cur.Reactions = msg.Reactions
		}
		payload = cur.Clone()
	})
	snap := r.snapshotLocked(msg.RoomID, st)
	r.mu.Unlock()

	if !found {
		// Outside the loaded window; older pages are not patched.
		return
	}
	r.bus.Publish(bus.Event{Kind: bus.KindMessageUpsert, Room: msg.RoomID, Payload: payload})
	r.publishSnapshot(snap)
}

func (r *Reconciler) applyDelete(roomID, msgID string) {
	r.mu.Lock()
	st := r.roomLocked(roomID)
	found := r.removeLocked(st, msgID)
	snap := r.snapshotLocked(roomID, st)
	r.mu.Unlock()

	if !found {
		return
	}
	r.bus.Publish(bus.Event{
		Kind:    bus.KindMessageRemoved,
		Room:    roomID,
		Payload: map[string]string{"room_id": roomID, "msg_id": msgID},
	})
	r.publishSnapshot(snap)
}

func (r *Reconciler) applyReaction(re proto.ReactionEvent, added bool) {
	r.mu.Lock()
	st := r.roomLocked(re.Room)
	var updated *store.Message
	r.markLocked(st, re.MessageID, func(cur *store.Message) {
		if added {
			cur.Reactions = addReaction(cur.Reactions, re.Emoji, re.UserID)
		} else {
			cur.Reactions = removeReaction(cur.Reactions, re.Emoji, re.UserID)
		}
		updated = cur.Clone()
	})
	snap := r.snapshotLocked(re.Room, st)
	r.mu.Unlock()

	if updated == nil {
		return
	}
	r.bus.Publish(bus.Event{Kind: bus.KindMessageUpsert, Room: re.Room, Payload: updated})
	r.publishSnapshot(snap)
}

func (r *Reconciler) roomLocked(roomID string) *roomState {
	st, ok := r.rooms[roomID]
	if !ok {
		st = newRoomState()
		r.rooms[roomID] = st
	}
	return st
}

// insertLocked adds a message keeping ascending creation-time order.
// Identifiers already present are dropped.
func (r *Reconciler) insertLocked(st *roomState, m *store.Message) {
	if _, dup := st.ids[m.ID]; dup {
		return
	}
	st.ids[m.ID] = struct{}{}
	n := len(st.messages)
	if n == 0 || st.messages[n-1].CreatedAt <= m.CreatedAt {
		st.messages = append(st.messages, m)
		return
	}
	i := sort.Search(n, func(i int) bool { return st.messages[i].CreatedAt > m.CreatedAt })
	st.messages = append(st.messages, nil)
	copy(st.messages[i+1:], st.messages[i:])
	st.messages[i] = m
}

func (r *Reconciler) markLocked(st *roomState, msgID string, fn func(*store.Message)) bool {
	if _, ok := st.ids[msgID]; !ok {
		return false
	}
	for _, m := range st.messages {
		if m.ID == msgID {
			fn(m)
			return true
		}
	}
	return false
}

func (r *Reconciler) removeLocked(st *roomState, msgID string) bool {
	if _, ok := st.ids[msgID]; !ok {
		return false
	}
	delete(st.ids, msgID)
	for i, m := range st.messages {
		if m.ID == msgID {
			st.messages = append(st.messages[:i], st.messages[i+1:]...)
			return true
		}
	}
	return false
}

// replaceLocked swaps the provisional entry for the server-confirmed copy
// in place, keeping its position.
func (r *Reconciler) replaceLocked(st *roomState, clientID string, confirmed *store.Message) {
	for i, m := range st.messages {
		if m.ID == clientID {
			st.messages[i] = confirmed
			delete(st.ids, clientID)
			st.ids[confirmed.ID] = struct{}{}
			return
		}
	}
	r.insertLocked(st, confirmed)
}

// snapshotLocked copies the room state for fan-out. Message values are
// cloned so consumers can read them without holding the reconciler's
// lock while later edits mutate the originals in place.
func (r *Reconciler) snapshotLocked(roomID string, st *roomState) Snapshot {
	msgs := cloneBatch(st.messages)
	return Snapshot{
		RoomID:       roomID,
		Messages:     msgs,
		HasMoreOlder: st.hasMoreOlder,
		Unread:       st.unread,
	}
}

func cloneBatch(msgs []*store.Message) []*store.Message {
	out := make([]*store.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func (r *Reconciler) publishSnapshot(snap Snapshot) {
	r.bus.Publish(bus.Event{Kind: bus.KindRoomSnapshot, Room: snap.RoomID, Payload: snap})
}

func (r *Reconciler) publishUnread(roomID string, count int) {
	r.bus.Publish(bus.Event{Kind: bus.KindRoomUnread, Room: roomID, Payload: count})
}

func addReaction(reactions []store.Reaction, emoji, userID string) []store.Reaction {
	for i, re := range reactions {
		if re.Emoji != emoji {
			continue
		}
		for _, u := range re.Users {
			if u == userID {
				return reactions
			}
		}
		reactions[i].Users = append(re.Users, userID)
		reactions[i].Count++
		return reactions
	}
	return append(reactions, store.Reaction{Emoji: emoji, Count: 1, Users: []string{userID}})
}

func removeReaction(reactions []store.Reaction, emoji, userID string) []store.Reaction {
	for i, re := range reactions {
		if re.Emoji != emoji {
			continue
		}
		for j, u := range re.Users {
			if u == userID {
				reactions[i].Users = append(re.Users[:j], re.Users[j+1:]...)
				reactions[i].Count--
				break
			}
		}
		if reactions[i].Count <= 0 {
			return append(reactions[:i], reactions[i+1:]...)
		}
		return reactions
	}
	return reactions
}
