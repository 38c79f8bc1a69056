package store

import (
	"database/sql"
	"strings"
	"time"
)

// FindOrCreateGroup returns the group metadata row for a group chat,
// creating both the chat and the group row on first reference.
func (db *DB) FindOrCreateGroup(chatExternalID string) (*Group, error) {
	chat, err := db.FindOrCreateChat(chatExternalID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO groups (chat_id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO NOTHING`,
		chat.ID, now, now)
	if err != nil {
		return nil, err
	}
	return db.GetGroupByChatID(chat.ID)
}

// GetGroupByChatID returns a group by its chat row id, nil when absent.
func (db *DB) GetGroupByChatID(chatID int64) (*Group, error) {
	var g Group
	err := db.QueryRow(`
		SELECT id, chat_id, subject, owner_id, description, community_id,
			announce_only, restricted, join_approval, member_add_mode, ephemeral_duration
		FROM groups WHERE chat_id = ?`, chatID).
		Scan(&g.ID, &g.ChatID, &g.Subject, &g.OwnerID, &g.Description, &g.CommunityID,
			&g.AnnounceOnly, &g.Restricted, &g.JoinApproval, &g.MemberAddMode, &g.EphemeralDuration)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ApplyGroupPatch applies a partial metadata update to a group, creating
// it first if needed. The subject also seeds the chat name.
func (db *DB) ApplyGroupPatch(chatExternalID string, p GroupPatch) error {
	g, err := db.FindOrCreateGroup(chatExternalID)
	if err != nil {
		return err
	}

	var sets []string
	var args []any
	if p.Subject != nil && *p.Subject != "" {
		sets = append(sets, "subject = ?")
		args = append(args, *p.Subject)
	}
	if p.OwnerID != nil {
		sets = append(sets, "owner_id = ?")
		args = append(args, *p.OwnerID)
	}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *p.Description)
	}
	if p.CommunityID != nil {
		sets = append(sets, "community_id = ?")
		args = append(args, *p.CommunityID)
	}
	if p.AnnounceOnly != nil {
		sets = append(sets, "announce_only = ?")
		args = append(args, *p.AnnounceOnly)
	}
	if p.Restricted != nil {
		sets = append(sets, "restricted = ?")
		args = append(args, *p.Restricted)
	}
	if p.JoinApproval != nil {
		sets = append(sets, "join_approval = ?")
		args = append(args, *p.JoinApproval)
	}
	if p.MemberAddMode != nil {
		sets = append(sets, "member_add_mode = ?")
		args = append(args, *p.MemberAddMode)
	}
	if p.EphemeralDuration != nil {
		sets = append(sets, "ephemeral_duration = ?")
		args = append(args, *p.EphemeralDuration)
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now().UnixMilli(), g.ID)
		if _, err := db.Exec(`UPDATE groups SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
			return err
		}
	}

	if p.Subject != nil && *p.Subject != "" {
		_, err = db.Exec(`UPDATE chats SET name = ?, updated_at = ? WHERE id = ?`,
			*p.Subject, time.Now().UnixMilli(), g.ChatID)
		return err
	}
	return nil
}

// UpsertParticipant adds a participant or reactivates a removed one.
// The role only applies on creation or reactivation: an active row
// keeps its current role, so a redelivered add cannot undo a
// promotion that happened in between.
func (db *DB) UpsertParticipant(groupID int64, participantID string, role ParticipantRole, at int64) error {
	_, err := db.Exec(`
		INSERT INTO group_participants (group_id, participant_id, role, active, added_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(group_id, participant_id) DO UPDATE SET
			role = CASE WHEN group_participants.active = 0 THEN excluded.role ELSE group_participants.role END,
			added_at = CASE WHEN group_participants.active = 0 THEN excluded.added_at ELSE group_participants.added_at END,
			active = 1,
			removed_at = 0`,
		groupID, participantID, role, at)
	return err
}

// RemoveParticipant soft-deletes a membership row. Removing an unknown
// participant is a no-op.
func (db *DB) RemoveParticipant(groupID int64, participantID string, at int64) error {
	_, err := db.Exec(`
		UPDATE group_participants SET active = 0, removed_at = ?
		WHERE group_id = ? AND participant_id = ? AND active = 1`,
		at, groupID, participantID)
	return err
}

// SetParticipantRole updates the role of an active participant.
func (db *DB) SetParticipantRole(groupID int64, participantID string, role ParticipantRole) error {
	_, err := db.Exec(`
		UPDATE group_participants SET role = ?
		WHERE group_id = ? AND participant_id = ?`,
		role, groupID, participantID)
	return err
}

// ListParticipants returns participants of a group, active first.
func (db *DB) ListParticipants(groupID int64, includeRemoved bool) ([]GroupParticipant, error) {
	q := `
		SELECT id, group_id, participant_id, role, active, added_at, removed_at
		FROM group_participants
		WHERE group_id = ?`
	if !includeRemoved {
		q += ` AND active = 1`
	}
	q += ` ORDER BY active DESC, participant_id`

	rows, err := db.Query(q, groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var parts []GroupParticipant
	for rows.Next() {
		var gp GroupParticipant
		if err := rows.Scan(&gp.ID, &gp.GroupID, &gp.ParticipantID, &gp.Role, &gp.Active, &gp.AddedAt, &gp.RemovedAt); err != nil {
			return nil, err
		}
		parts = append(parts, gp)
	}
	return parts, rows.Err()
}
