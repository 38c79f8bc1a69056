package store

import (
	"database/sql"
	"strings"
	"time"
)

// EnsureContact creates or refreshes a contact from a live message. A
// non-empty push name overwrites the stored one, an empty one never
// clears it; lastSeen only moves forward.
func (db *DB) EnsureContact(externalID, pushName string, lastSeen int64) (*Contact, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (external_id, push_name, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			push_name = CASE WHEN excluded.push_name != '' THEN excluded.push_name ELSE contacts.push_name END,
			last_seen_at = MAX(contacts.last_seen_at, excluded.last_seen_at),
			updated_at = excluded.updated_at`,
		externalID, pushName, lastSeen, now, now)
	if err != nil {
		return nil, err
	}
	return db.GetContact(externalID)
}

// ApplyContactPatch applies a partial update to a contact, creating it
// first if needed. A non-empty name overwrites, an empty one is
// skipped. Any applied field also moves last_seen_at forward: a patch
// is evidence the contact was active.
func (db *DB) ApplyContactPatch(externalID string, p ContactPatch) error {
	if _, err := db.EnsureContact(externalID, "", 0); err != nil {
		return err
	}

	var sets []string
	var args []any
	if p.Name != nil && *p.Name != "" {
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.PushName != nil && *p.PushName != "" {
		sets = append(sets, "push_name = ?")
		args = append(args, *p.PushName)
	}
	if p.AvatarRef != nil {
		sets = append(sets, "avatar_ref = ?")
		args = append(args, *p.AvatarRef)
	}
	if p.StatusText != nil {
		sets = append(sets, "status_text = ?")
		args = append(args, *p.StatusText)
	}
	if len(sets) == 0 {
		return nil
	}
	now := time.Now()
	sets = append(sets, "last_seen_at = MAX(last_seen_at, ?)", "updated_at = ?")
	args = append(args, now.Unix(), now.UnixMilli(), externalID)

	_, err := db.Exec(`UPDATE contacts SET `+strings.Join(sets, ", ")+` WHERE external_id = ?`, args...)
	return err
}

// UpsertContactTx writes a contact snapshot from a historical import
// inside an existing transaction.
func UpsertContactTx(tx *sql.Tx, c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := tx.Exec(`
		INSERT INTO contacts (external_id, name, push_name, avatar_ref, status_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
			push_name = CASE WHEN excluded.push_name != '' THEN excluded.push_name ELSE contacts.push_name END,
			avatar_ref = CASE WHEN excluded.avatar_ref != '' THEN excluded.avatar_ref ELSE contacts.avatar_ref END,
			status_text = CASE WHEN excluded.status_text != '' THEN excluded.status_text ELSE contacts.status_text END,
			updated_at = excluded.updated_at`,
		c.ExternalID, c.Name, c.PushName, c.AvatarRef, c.StatusText, now, now)
	return err
}

// GetContact returns a contact by external id, nil when absent.
func (db *DB) GetContact(externalID string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT id, external_id, name, push_name, avatar_ref, status_text, last_seen_at
		FROM contacts WHERE external_id = ?`, externalID).
		Scan(&c.ID, &c.ExternalID, &c.Name, &c.PushName, &c.AvatarRef, &c.StatusText, &c.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ContactCount returns the total number of contacts.
func (db *DB) ContactCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}
