package store

import (
	"strings"
	"unicode/utf8"
)

// AccountKind distinguishes the two portal account shapes.
type AccountKind string

const (
	AccountIndividual   AccountKind = "individual"
	AccountOrganization AccountKind = "organization"
)

// Sender describes who authored a message. The field shape varies by
// account kind: individuals carry first/last names, organizations a
// single display name.
type Sender struct {
	ID        string
	Kind      AccountKind
	FirstName string
	LastName  string
	OrgName   string
}

// DisplayName computes the human-readable name for either account kind.
func (s Sender) DisplayName() string {
	if s.Kind == AccountOrganization || s.OrgName != "" {
		return s.OrgName
	}
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Initials returns up to two uppercase initials for avatar rendering.
func (s Sender) Initials() string {
	name := s.DisplayName()
	if name == "" {
		return "?"
	}
	parts := strings.Fields(name)
	initials := strings.ToUpper(firstRune(parts[0]))
	if len(parts) > 1 {
		initials += strings.ToUpper(firstRune(parts[len(parts)-1]))
	}
	return initials
}

func firstRune(s string) string {
	r, _ := utf8.DecodeRuneInString(s)
	return string(r)
}

// Matches reports whether two senders describe the same account.
// Identifier comparison wins when both sides carry one; otherwise a
// display-name comparison is used as a best-effort heuristic, because
// some push events omit the identifier depending on account kind. This
// is a rendering aid, not a security boundary.
func (s Sender) Matches(other Sender) bool {
	if s.ID != "" && other.ID != "" {
		return s.ID == other.ID
	}
	name := s.DisplayName()
	return name != "" && name == other.DisplayName()
}

// Reaction is the grouped view of one emoji on a message.
type Reaction struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Send status values for optimistic local messages. Confirmed messages
// carry an empty status.
const (
	StatusSending = "sending"
	StatusFailed  = "failed"
)

// Message represents one chat entry in a room.
type Message struct {
	ID        string
	RoomID    string
	Sender    Sender
	Body      string
	CreatedAt int64 // unix milliseconds
	Edited    bool
	Reactions []Reaction
	Status    string // "", "sending" or "failed"
}

// Pending reports whether the message is an unconfirmed optimistic send.
func (m *Message) Pending() bool {
	return m.Status == StatusSending || m.Status == StatusFailed
}

// Clone returns a deep copy of the message, reactions included.
func (m *Message) Clone() *Message {
	c := *m
	if m.Reactions != nil {
		c.Reactions = make([]Reaction, len(m.Reactions))
		for i, re := range m.Reactions {
			c.Reactions[i] = re
			c.Reactions[i].Users = append([]string(nil), re.Users...)
		}
	}
	return &c
}

// Room represents a community the profile participates in.
type Room struct {
	ID                 string
	Name               string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}
