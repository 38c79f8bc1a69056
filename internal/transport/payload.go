package transport

// MessageEvent is one raw incoming message, the payload element of
// KindMessages ([]MessageEvent) and of HistoryBatch.Messages. Content
// carries the shape-varying part; everything else is envelope.
type MessageEvent struct {
	ExternalID string
	ChatID     string
	SenderID   string
	PushName   string
	FromMe     bool
	Starred    bool

	// Timestamp is epoch seconds when the source delivers a plain
	// integer. Sources that deliver a split 64-bit value set Parts
	// instead and leave Timestamp zero.
	Timestamp int64
	Parts     *TimestampParts

	Content RawContent
}

// TimestampParts is a split low/high 64-bit timestamp encoding.
type TimestampParts struct {
	Low  uint32
	High uint32
}

// RawContent mirrors the upstream payload's content-kind keys. At most
// a handful are non-nil for any given message; classification probes
// them in a fixed priority order.
type RawContent struct {
	Conversation string
	ExtendedText *RawExtendedText
	Image        *RawMedia
	Video        *RawMedia
	Audio        *RawMedia
	Document     *RawMedia
	Sticker      *RawMedia
	Location     *RawLocation
	ContactCard  *RawContactCard
	ContactList  *RawContactList
	Poll         *RawPoll
	PollUpdate   *RawPollUpdate
	Reaction     *RawReaction
	System       *RawSystem
	Protocol     *RawProtocol
}

// RawExtendedText is text with formatting/link metadata.
type RawExtendedText struct {
	Text    string
	Context *RawContext
}

// RawMedia is the shared shape of image/video/audio/document/sticker.
type RawMedia struct {
	Caption  string
	Mimetype string
	FileName string
	FileSize int64
	Width    int
	Height   int
	Seconds  int
	Context  *RawContext
}

// RawLocation covers static and live location shares.
type RawLocation struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
	Caption   string
	Live      bool
	Context   *RawContext
}

// RawContactCard is a shared contact (vCard).
type RawContactCard struct {
	DisplayName string
	VCard       string
	Context     *RawContext
}

// RawContactList is a multi-contact share.
type RawContactList struct {
	DisplayName string
	Cards       []RawContactCard
	Context     *RawContext
}

// RawPoll is a poll creation payload.
type RawPoll struct {
	Name            string
	Options         []string
	SelectableCount int
	Context         *RawContext
}

// RawPollUpdate is a vote on an existing poll.
type RawPollUpdate struct {
	PollExternalID string
}

// RawReaction is an emoji reaction to an existing message.
type RawReaction struct {
	Text             string
	TargetExternalID string
}

// RawSystem is a chat housekeeping notice (subject changed, member
// added by the server, and so on).
type RawSystem struct {
	StubType int
	Params   []string
}

// RawProtocol is transport plumbing (key distribution, revokes,
// history notifications). Never persisted as user content.
type RawProtocol struct {
	Type int
}

// RawContext is the nested context object that may hang off any
// content kind: quote, mentions, forwarding.
type RawContext struct {
	QuotedExternalID string
	QuotedSenderID   string
	Mentions         []string
	Forwarded        bool
	ForwardingScore  int
}
