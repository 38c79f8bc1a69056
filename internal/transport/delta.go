package transport

// ChatDelta is an incremental chat update. Nil pointer fields were
// absent from the upstream payload and must leave stored values
// untouched. Pinned and MutedUntil use the upstream timestamp-or-zero
// encoding; a positive value means active.
type ChatDelta struct {
	ID         string
	Name       *string
	Archived   *bool
	Pinned     *int64
	MutedUntil *int64
}

// ContactDelta is an incremental contact update with the same
// absent-field semantics as ChatDelta.
type ContactDelta struct {
	ID         string
	Name       *string
	PushName   *string
	AvatarRef  *string
	StatusText *string
}

// GroupDelta is an incremental group metadata update, keyed by the
// owning chat's external id.
type GroupDelta struct {
	ChatID            string
	Subject           *string
	OwnerID           *string
	Description       *string
	CommunityID       *string
	AnnounceOnly      *bool
	Restricted        *bool
	JoinApproval      *bool
	MemberAddMode     *bool
	EphemeralDuration *int64
}

// MembershipAction enumerates group participant changes.
type MembershipAction string

const (
	MembershipAdd     MembershipAction = "add"
	MembershipRemove  MembershipAction = "remove"
	MembershipPromote MembershipAction = "promote"
	MembershipDemote  MembershipAction = "demote"
)

// MembershipChange is the payload for KindMembership events.
type MembershipChange struct {
	ChatID       string
	Action       MembershipAction
	Participants []string
	Timestamp    int64
}

// MessageFlagChange is the payload for KindFlags events: star and
// delete-for-me state flips on an already-delivered message.
type MessageFlagChange struct {
	ExternalID string
	ChatID     string
	Starred    *bool
	Deleted    *bool
}

// ChatSnapshot is a full chat row as delivered by the backfill feed.
// Unlike ChatDelta all fields are plain values; the importer only uses
// the name when the stored one is empty.
type ChatSnapshot struct {
	ID                string
	Name              string
	Archived          bool
	Pinned            int64
	MutedUntil        int64
	EphemeralDuration int64
}

// HistoryBatch is one backfill delivery: chats, contacts and messages
// together, plus the feed's completion flag.
type HistoryBatch struct {
	Chats    []ChatSnapshot
	Contacts []ContactDelta
	Messages []MessageEvent
	IsLatest bool
}
