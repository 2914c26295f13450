package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on room_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	reactions, err := json.Marshal(m.Reactions)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO messages (room_id, msg_id, sender_id, sender_kind, sender_first_name, sender_last_name, sender_org_name, body, created_at, edited, reactions, status, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, msg_id) DO UPDATE SET
			body = excluded.body,
			edited = excluded.edited,
			reactions = excluded.reactions,
			status = excluded.status`,
		m.RoomID, m.ID, m.Sender.ID, string(m.Sender.Kind), m.Sender.FirstName, m.Sender.LastName, m.Sender.OrgName,
		m.Body, m.CreatedAt, m.Edited, string(reactions), m.Status, now)
	return err
}

// UpsertMessageTx is UpsertMessage inside an existing transaction, for
// batch page ingestion.
func UpsertMessageTx(tx *sql.Tx, m *Message) error {
	reactions, err := json.Marshal(m.Reactions)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO messages (room_id, msg_id, sender_id, sender_kind, sender_first_name, sender_last_name, sender_org_name, body, created_at, edited, reactions, status, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, msg_id) DO UPDATE SET
			body = excluded.body,
			edited = excluded.edited,
			reactions = excluded.reactions,
			status = excluded.status`,
		m.RoomID, m.ID, m.Sender.ID, string(m.Sender.Kind), m.Sender.FirstName, m.Sender.LastName, m.Sender.OrgName,
		m.Body, m.CreatedAt, m.Edited, string(reactions), m.Status, time.Now().UnixMilli())
	return err
}

// DeleteMessage removes a message by its room and message identifier.
func (db *DB) DeleteMessage(roomID, msgID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE room_id = ? AND msg_id = ?`, roomID, msgID)
	return err
}

// ListMessages returns messages for a room using keyset pagination by
// timestamp, newest first.
func (db *DB) ListMessages(roomID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT room_id, msg_id, sender_id, sender_kind, sender_first_name, sender_last_name, sender_org_name, body, created_at, edited, reactions, status
		FROM messages
		WHERE room_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, roomID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var kind, reactions string
		if err := rows.Scan(&m.RoomID, &m.ID, &m.Sender.ID, &kind, &m.Sender.FirstName, &m.Sender.LastName, &m.Sender.OrgName,
			&m.Body, &m.CreatedAt, &m.Edited, &reactions, &m.Status); err != nil {
			return nil, err
		}
		m.Sender.Kind = AccountKind(kind)
		if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
			m.Reactions = nil
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
