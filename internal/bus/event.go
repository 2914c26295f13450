package bus

import "time"

// Event kinds published by the messaging core. Namespaces group related
// events so consumers can subscribe to a whole family with one prefix.
const (
	// conn.* — connection lifecycle, published by the realtime manager.
	KindConnStatusChanged = "conn.status_changed"
	KindConnEstablished   = "conn.established"
	KindConnLost          = "conn.lost"

	// sub.* — room subscription acknowledgements from the server.
	KindSubConfirmed = "sub.confirmed"
	KindSubRevoked   = "sub.revoked"

	// push.* — raw server pushes, consumed by the reconciler.
	KindPushMessage         = "push.message"
	KindPushMessageEdited   = "push.message_edited"
	KindPushMessageDeleted  = "push.message_deleted"
	KindPushReactionAdded   = "push.reaction_added"
	KindPushReactionRemoved = "push.reaction_removed"

	// room.* — reconciled state changes, consumed by the UI layer and the
	// persistence engine.
	KindRoomSnapshot   = "room.snapshot"
	KindRoomUnread     = "room.unread"
	KindMessageUpsert  = "room.message_upserted"
	KindMessageBatch   = "room.message_batch"
	KindMessageRemoved = "room.message_removed"

	// send.* — optimistic send outcomes.
	KindSendAck    = "send.ack"
	KindSendFailed = "send.failed"
)

// Event is one domain event. Room carries the room scope for room-bound
// events and is empty for connection-level ones.
type Event struct {
	Kind      string
	Room      string
	Timestamp time.Time
	Payload   any
}
