package proto

import (
	"encoding/json"

	"github.com/lifelink/commsync/internal/store"
)

// Frame is the envelope for client-to-server requests.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
)

// RoomData is the payload for subscribe and unsubscribe frames.
type RoomData struct {
	Room string `json:"room"`
}

// NewRoomFrame builds a subscribe or unsubscribe frame for a room.
func NewRoomFrame(frameType, roomID string) Frame {
	data, _ := json.Marshal(RoomData{Room: roomID})
	return Frame{Type: frameType, Data: data}
}

// ServerEvent is the envelope for server-to-client pushes.
type ServerEvent struct {
	Type  string          `json:"type"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ServerError    `json:"error,omitempty"`
}

const (
	EventConnectionEstablished = "connection.established"
	EventNewMessage            = "message.new"
	EventMessageEdited         = "message.edited"
	EventMessageDeleted        = "message.deleted"
	EventReactionAdded         = "reaction.added"
	EventReactionRemoved       = "reaction.removed"
	EventSubscriptionConfirmed = "subscription.confirmed"
	EventSubscriptionRevoked   = "subscription.revoked"
	EventError                 = "error"
)

// ServerError describes a protocol-level error push.
type ServerError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// SenderData is the wire shape of a message author. Individual accounts
// carry firstName/lastName, organization accounts a single name; the
// backend serializes whichever applies.
type SenderData struct {
	ID          string `json:"id"`
	AccountType string `json:"accountType,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Name        string `json:"name,omitempty"`
}

// ToSender maps the wire author onto the domain sender.
func (d SenderData) ToSender() store.Sender {
	s := store.Sender{ID: d.ID}
	if d.AccountType == string(store.AccountOrganization) || (d.FirstName == "" && d.Name != "") {
		s.Kind = store.AccountOrganization
		s.OrgName = d.Name
		return s
	}
	s.Kind = store.AccountIndividual
	s.FirstName = d.FirstName
	s.LastName = d.LastName
	return s
}

// MessageData is the wire shape of a message in push events.
type MessageData struct {
	ID        string           `json:"id"`
	Room      string           `json:"communityId"`
	Sender    SenderData       `json:"sender"`
	Content   string           `json:"content"`
	CreatedAt int64            `json:"createdAt"`
	Edited    bool             `json:"edited,omitempty"`
	Reactions []store.Reaction `json:"reactions,omitempty"`
}

// ToStoreMessage maps the wire message onto the domain message.
func (d MessageData) ToStoreMessage() *store.Message {
	return &store.Message{
		ID:        d.ID,
		RoomID:    d.Room,
		Sender:    d.Sender.ToSender(),
		Body:      d.Content,
		CreatedAt: d.CreatedAt,
		Edited:    d.Edited,
		Reactions: d.Reactions,
	}
}

// DeleteData is the payload of a message-deleted push.
type DeleteData struct {
	ID   string `json:"id"`
	Room string `json:"communityId"`
}

// ReactionEvent is the payload of reaction-added/removed pushes.
type ReactionEvent struct {
	MessageID string `json:"messageId"`
	Room      string `json:"communityId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}
