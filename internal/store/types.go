package store

import "database/sql"

// ChatKind classifies a chat by its external id shape. Derived once at
// creation and never recomputed.
type ChatKind string

const (
	ChatPrivate   ChatKind = "private"
	ChatGroup     ChatKind = "group"
	ChatBroadcast ChatKind = "broadcast"
)

// Chat is a conversation, private or group or broadcast.
type Chat struct {
	ID                 int64
	ExternalID         string
	Kind               ChatKind
	Name               string
	Archived           bool
	Pinned             bool
	Muted              bool
	EphemeralDuration  int64
	LastMessageAt      int64
	LastMessagePreview string
	TotalMessageCount  int64
}

// Contact is a known correspondent, created lazily on first reference.
type Contact struct {
	ID         int64
	ExternalID string
	Name       string
	PushName   string
	AvatarRef  string
	StatusText string
	LastSeenAt int64
}

// Message is one stored message. The empty string stands in for an
// absent text field throughout; QuotedID is NULL when the quoted
// message was never ingested.
type Message struct {
	ID         int64
	ExternalID string
	ChatID     int64
	SenderID   string
	SenderName string
	FromMe     bool
	Kind       string
	Body       string

	MediaMimetype string
	MediaFileName string
	MediaSize     int64
	MediaSeconds  int
	MediaWidth    int
	MediaHeight   int

	Latitude     float64
	Longitude    float64
	LocationName string
	LocationLive bool

	PollName        string
	PollOptions     string
	PollSelectable  int
	ContactCardName string
	VCard           string

	QuotedID  sql.NullInt64
	Mentions  string
	Forwarded bool
	Starred   bool
	Deleted   bool

	// Timestamp is epoch seconds as reported by the source.
	Timestamp int64
	Raw       string
}

// ParticipantRole enumerates group member roles.
type ParticipantRole string

const (
	RoleMember     ParticipantRole = "member"
	RoleAdmin      ParticipantRole = "admin"
	RoleSuperAdmin ParticipantRole = "super_admin"
)

// Group is the metadata row paired one-to-one with a group chat.
type Group struct {
	ID                int64
	ChatID            int64
	Subject           string
	OwnerID           string
	Description       string
	CommunityID       string
	AnnounceOnly      bool
	Restricted        bool
	JoinApproval      bool
	MemberAddMode     bool
	EphemeralDuration int64
}

// GroupParticipant is a group membership row. Removal flips Active and
// stamps RemovedAt; rows are never deleted.
type GroupParticipant struct {
	ID            int64
	GroupID       int64
	ParticipantID string
	Role          ParticipantRole
	Active        bool
	AddedAt       int64
	RemovedAt     int64
}

// ChatPatch is a partial chat update; nil fields are left untouched.
type ChatPatch struct {
	Name     *string
	Archived *bool
	Pinned   *bool
	Muted    *bool
}

// ContactPatch is a partial contact update; nil fields are left
// untouched. A non-empty Name overwrites, an empty one never clears.
type ContactPatch struct {
	Name       *string
	PushName   *string
	AvatarRef  *string
	StatusText *string
}

// GroupPatch is a partial group metadata update.
type GroupPatch struct {
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

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
