package store

import "time"

// UpsertRoom inserts or updates a room. last_message_at only moves forward.
func (db *DB) UpsertRoom(r *Room) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO rooms (id, name, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE rooms.name END,
			unread_count = excluded.unread_count,
			last_message_at = MAX(rooms.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at > rooms.last_message_at THEN excluded.last_message_preview ELSE rooms.last_message_preview END,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.UnreadCount, r.LastMessageAt, r.LastMessagePreview, now)
	return err
}

// TouchRoom records message activity on a room without disturbing its
// name or unread count.
func (db *DB) TouchRoom(roomID string, lastMessageAt int64, preview string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO rooms (id, name, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, '', 0, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_at = MAX(rooms.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at > rooms.last_message_at THEN excluded.last_message_preview ELSE rooms.last_message_preview END,
			updated_at = excluded.updated_at`,
		roomID, lastMessageAt, preview, now)
	return err
}

// SetRoomUnread overwrites a room's unread counter.
func (db *DB) SetRoomUnread(roomID string, count int) error {
	_, err := db.Exec(`UPDATE rooms SET unread_count = ? WHERE id = ?`, count, roomID)
	return err
}

// ListRooms returns all cached rooms ordered by last activity.
func (db *DB) ListRooms() ([]Room, error) {
	rows, err := db.Query(`
		SELECT id, name, unread_count, last_message_at, last_message_preview
		FROM rooms
		ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.UnreadCount, &r.LastMessageAt, &r.LastMessagePreview); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}
