package store

import (
	"database/sql"
	"strings"
	"time"
)

// KindForExternalID derives the chat kind from the id suffix.
func KindForExternalID(externalID string) ChatKind {
	switch {
	case strings.HasSuffix(externalID, "@g.us"):
		return ChatGroup
	case strings.HasSuffix(externalID, "@broadcast"):
		return ChatBroadcast
	default:
		return ChatPrivate
	}
}

// FindOrCreateChat returns the chat row for an external id, creating a
// placeholder row on first reference. The kind is derived from the id
// and fixed at creation.
func (db *DB) FindOrCreateChat(externalID string) (*Chat, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (external_id, kind, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(external_id) DO NOTHING`,
		externalID, KindForExternalID(externalID), now, now)
	if err != nil {
		return nil, err
	}
	return db.GetChatByExternalID(externalID)
}

// GetChatByExternalID returns a chat by external id, nil when absent.
func (db *DB) GetChatByExternalID(externalID string) (*Chat, error) {
	return db.scanChat(db.QueryRow(chatSelect+` WHERE external_id = ?`, externalID))
}

// GetChat returns a chat by row id, nil when absent.
func (db *DB) GetChat(id int64) (*Chat, error) {
	return db.scanChat(db.QueryRow(chatSelect+` WHERE id = ?`, id))
}

const chatSelect = `
	SELECT id, external_id, kind, name, archived, pinned, muted,
		ephemeral_duration, last_message_at, last_message_preview, total_message_count
	FROM chats`

func (db *DB) scanChat(row *sql.Row) (*Chat, error) {
	var c Chat
	err := row.Scan(&c.ID, &c.ExternalID, &c.Kind, &c.Name, &c.Archived, &c.Pinned, &c.Muted,
		&c.EphemeralDuration, &c.LastMessageAt, &c.LastMessagePreview, &c.TotalMessageCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SeedChatName sets a chat name only when none is recorded yet.
func (db *DB) SeedChatName(chatID int64, name string) error {
	if name == "" {
		return nil
	}
	_, err := db.Exec(`
		UPDATE chats SET name = ?, updated_at = ?
		WHERE id = ? AND name = ''`,
		name, time.Now().UnixMilli(), chatID)
	return err
}

// ApplyChatPatch applies a partial update to a chat. Nil fields are
// skipped; an empty patch is a no-op.
func (db *DB) ApplyChatPatch(externalID string, p ChatPatch) error {
	chat, err := db.FindOrCreateChat(externalID)
	if err != nil {
		return err
	}

	var sets []string
	var args []any
	if p.Name != nil && *p.Name != "" {
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.Archived != nil {
		sets = append(sets, "archived = ?")
		args = append(args, *p.Archived)
	}
	if p.Pinned != nil {
		sets = append(sets, "pinned = ?")
		args = append(args, *p.Pinned)
	}
	if p.Muted != nil {
		sets = append(sets, "muted = ?")
		args = append(args, *p.Muted)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UnixMilli(), chat.ID)

	_, err = db.Exec(`UPDATE chats SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	return err
}

// UpsertChatSnapshotTx writes a full chat snapshot from a historical
// import inside an existing transaction. A snapshot never clears a name
// already learned from a live event.
func UpsertChatSnapshotTx(tx *sql.Tx, s *Chat) error {
	now := time.Now().UnixMilli()
	_, err := tx.Exec(`
		INSERT INTO chats (external_id, kind, name, archived, pinned, muted, ephemeral_duration, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
			archived = excluded.archived,
			pinned = excluded.pinned,
			muted = excluded.muted,
			ephemeral_duration = excluded.ephemeral_duration,
			updated_at = excluded.updated_at`,
		s.ExternalID, KindForExternalID(s.ExternalID), s.Name, s.Archived, s.Pinned, s.Muted,
		s.EphemeralDuration, now, now)
	return err
}

// ListChats returns chats sorted by last message timestamp descending.
// Display names fall back to the contact's push name, then the raw id.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT c.id, c.external_id, c.kind,
			COALESCE(NULLIF(c.name,''), NULLIF(ct.push_name,''), NULLIF(ct.name,''), c.external_id) AS display_name,
			c.archived, c.pinned, c.muted, c.ephemeral_duration,
			c.last_message_at, c.last_message_preview, c.total_message_count
		FROM chats c
		LEFT JOIN contacts ct ON c.external_id = ct.external_id
		ORDER BY c.last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.ExternalID, &c.Kind, &c.Name, &c.Archived, &c.Pinned, &c.Muted,
			&c.EphemeralDuration, &c.LastMessageAt, &c.LastMessagePreview, &c.TotalMessageCount); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}
