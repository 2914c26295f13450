package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/lifelink/commsync/internal/store"
)

// MessageView displays the reconciled message list for one room.
type MessageView struct {
	*tview.TextView
	roomName string
	isOwn    func(*store.Message) bool
}

// NewMessageView creates a new message view. isOwn classifies a message
// as authored by the current session for highlighting.
func NewMessageView(isOwn func(*store.Message) bool) *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv, isOwn: isOwn}
}

// SetRoomName updates the title with the room name.
func (mv *MessageView) SetRoomName(name string) {
	mv.roomName = name
	mv.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update refreshes the view. Messages come oldest first.
func (mv *MessageView) Update(msgs []*store.Message) {
	mv.Clear()

	for _, m := range msgs {
		sender := m.Sender.DisplayName()
		if sender == "" {
			sender = m.Sender.ID
		}
		if mv.isOwn != nil && mv.isOwn(m) {
			sender = "You"
		}

		marker := ""
		switch m.Status {
		case store.StatusSending:
			marker = " [::d](sending)[-:-:-]"
		case store.StatusFailed:
			marker = " [red](failed)[-]"
		}
		edited := ""
		if m.Edited {
			edited = " [::d](edited)[-:-:-]"
		}

		ts := formatTimestamp(m.CreatedAt)
		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s%s\n%s\n", sender, ts, marker, edited, sanitizeForTerminal(m.Body))
		if reactions := formatReactions(m.Reactions); reactions != "" {
			line += reactions + "\n"
		}
		_, _ = fmt.Fprint(mv, line+"\n")
	}

	mv.ScrollToEnd()
}

func formatReactions(reactions []store.Reaction) string {
	if len(reactions) == 0 {
		return ""
	}
	parts := make([]string, 0, len(reactions))
	for _, r := range reactions {
		parts = append(parts, fmt.Sprintf("%s %d", sanitizeForTerminal(r.Emoji), r.Count))
	}
	return "[::d]" + strings.Join(parts, "  ") + "[-:-:-]"
}
