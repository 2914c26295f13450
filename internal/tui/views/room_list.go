package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/lifelink/commsync/internal/store"
)

// RoomList is the community list view.
type RoomList struct {
	*tview.Table
	rooms      []store.Room
	selectedFn func() (int, int)
}

// NewRoomList creates a new room list table.
func NewRoomList() *RoomList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Communities ")

	rl := &RoomList{Table: table}
	rl.selectedFn = table.GetSelection
	return rl
}

// Update refreshes the room list with new data.
func (rl *RoomList) Update(rooms []store.Room) {
	rl.rooms = rooms
	rl.Clear()

	// Header row.
	rl.SetCell(0, 0, tview.NewTableCell(" Community").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	rl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	rl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, room := range rooms {
		row := i + 1
		name := room.Name
		if name == "" {
			name = room.ID
		}
		if room.UnreadCount > 0 {
			name = fmt.Sprintf("* %s (%d)", name, room.UnreadCount)
		}

		rl.SetCell(row, 0, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1))
		rl.SetCell(row, 1, tview.NewTableCell(" "+sanitizeForTerminal(room.LastMessagePreview)).SetMaxWidth(40).SetExpansion(2))
		rl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(room.LastMessageAt)).SetMaxWidth(12))
	}
}

// SetUnread updates one room's unread count in place.
func (rl *RoomList) SetUnread(roomID string, count int) {
	for i := range rl.rooms {
		if rl.rooms[i].ID == roomID {
			rl.rooms[i].UnreadCount = count
			rl.Update(rl.rooms)
			return
		}
	}
}

// SelectedRoom returns the identifier of the currently selected room.
func (rl *RoomList) SelectedRoom() string {
	row, _ := rl.selectedFn()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(rl.rooms) {
		return rl.rooms[idx].ID
	}
	return ""
}

// RoomName returns a room's display name, falling back to its identifier.
func (rl *RoomList) RoomName(roomID string) string {
	for _, r := range rl.rooms {
		if r.ID == roomID && r.Name != "" {
			return r.Name
		}
	}
	return roomID
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
