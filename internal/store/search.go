package store

// SearchMessages performs a full-text search on message bodies. Pass a
// chat id of zero to search across all chats.
func (db *DB) SearchMessages(query string, chatID int64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := messageSelectFTS
	args := []any{query}
	if chatID > 0 {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ExternalID, &r.Message.ChatID,
			&r.Message.SenderID, &r.Message.SenderName, &r.Message.FromMe,
			&r.Message.Kind, &r.Message.Body, &r.Message.Timestamp, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

const messageSelectFTS = `
	SELECT m.id, m.external_id, m.chat_id, m.sender_id, m.sender_name, m.from_me,
	       m.kind, m.body, m.timestamp,
	       snippet(messages_fts, 0, '<<', '>>', '...', 32)
	FROM messages_fts f
	JOIN messages m ON m.id = f.rowid
	WHERE messages_fts MATCH ? AND m.deleted = 0`
