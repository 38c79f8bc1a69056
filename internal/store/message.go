package store

import (
	"database/sql"
	"time"
)

// MessageIDByExternal resolves a message row id from its external id.
// Returns a null id when the message was never ingested.
func (db *DB) MessageIDByExternal(externalID string) (sql.NullInt64, error) {
	var id sql.NullInt64
	err := db.QueryRow(`SELECT id FROM messages WHERE external_id = ?`, externalID).Scan(&id.Int64)
	if err == sql.ErrNoRows {
		return sql.NullInt64{}, nil
	}
	if err != nil {
		return sql.NullInt64{}, err
	}
	id.Valid = true
	return id, nil
}

// InsertMessage inserts a message and bumps the owning chat's
// aggregates in the same transaction. A duplicate external id is a
// no-op and reports created=false; the chat row is untouched in that
// case.
func (db *DB) InsertMessage(m *Message, preview string) (created bool, err error) {
	err = db.WithTx(func(tx *sql.Tx) error {
		res, txErr := tx.Exec(`
			INSERT INTO messages (external_id, chat_id, sender_id, sender_name, from_me, kind, body,
				media_mimetype, media_file_name, media_size, media_seconds, media_width, media_height,
				latitude, longitude, location_name, location_live,
				poll_name, poll_options, poll_selectable, contact_card_name, vcard,
				quoted_id, mentions, forwarded, starred, deleted, timestamp, raw, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(external_id) DO NOTHING`,
			m.ExternalID, m.ChatID, m.SenderID, m.SenderName, m.FromMe, m.Kind, m.Body,
			m.MediaMimetype, m.MediaFileName, m.MediaSize, m.MediaSeconds, m.MediaWidth, m.MediaHeight,
			m.Latitude, m.Longitude, m.LocationName, m.LocationLive,
			m.PollName, m.PollOptions, m.PollSelectable, m.ContactCardName, m.VCard,
			m.QuotedID, m.Mentions, m.Forwarded, m.Starred, m.Deleted, m.Timestamp, m.Raw,
			time.Now().UnixMilli())
		if txErr != nil {
			return txErr
		}
		n, txErr := res.RowsAffected()
		if txErr != nil {
			return txErr
		}
		if n == 0 {
			return nil
		}
		created = true

		// Preview only advances when this message is the newest seen.
		_, txErr = tx.Exec(`
			UPDATE chats SET
				last_message_at = MAX(last_message_at, ?),
				last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
				total_message_count = total_message_count + 1,
				updated_at = ?
			WHERE id = ?`,
			m.Timestamp, m.Timestamp, preview, time.Now().UnixMilli(), m.ChatID)
		return txErr
	})
	return created, err
}

// SetStarred flips the starred flag on a message by external id. A
// reference to an unknown message is ignored.
func (db *DB) SetStarred(externalID string, starred bool) error {
	_, err := db.Exec(`UPDATE messages SET starred = ? WHERE external_id = ?`, starred, externalID)
	return err
}

// SetDeleted marks a message revoked. The row is kept so history and
// quote references stay intact.
func (db *DB) SetDeleted(externalID string, deleted bool) error {
	_, err := db.Exec(`UPDATE messages SET deleted = ? WHERE external_id = ?`, deleted, externalID)
	return err
}

// ListMessages returns messages for a chat using keyset pagination by
// timestamp, newest first.
func (db *DB) ListMessages(chatID int64, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().Unix() + 1
	}
	rows, err := db.Query(messageSelect+`
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// GetMessageByExternalID returns a message by external id, nil when absent.
func (db *DB) GetMessageByExternalID(externalID string) (*Message, error) {
	rows, err := db.Query(messageSelect+` WHERE external_id = ?`, externalID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanMessage(rows)
}

const messageSelect = `
	SELECT id, external_id, chat_id, sender_id, sender_name, from_me, kind, body,
		media_mimetype, media_file_name, media_size, media_seconds, media_width, media_height,
		latitude, longitude, location_name, location_live,
		poll_name, poll_options, poll_selectable, contact_card_name, vcard,
		quoted_id, mentions, forwarded, starred, deleted, timestamp, raw
	FROM messages`

func scanMessage(rows *sql.Rows) (*Message, error) {
	var m Message
	if err := rows.Scan(&m.ID, &m.ExternalID, &m.ChatID, &m.SenderID, &m.SenderName, &m.FromMe, &m.Kind, &m.Body,
		&m.MediaMimetype, &m.MediaFileName, &m.MediaSize, &m.MediaSeconds, &m.MediaWidth, &m.MediaHeight,
		&m.Latitude, &m.Longitude, &m.LocationName, &m.LocationLive,
		&m.PollName, &m.PollOptions, &m.PollSelectable, &m.ContactCardName, &m.VCard,
		&m.QuotedID, &m.Mentions, &m.Forwarded, &m.Starred, &m.Deleted, &m.Timestamp, &m.Raw); err != nil {
		return nil, err
	}
	return &m, nil
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
