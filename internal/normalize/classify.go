// Package normalize converts raw transport payloads into canonical
// entity deltas ready for persistence.
package normalize

import "github.com/matheus3301/chatvault/internal/transport"

// Kind is the closed message classification enum.
type Kind string

const (
	KindText        Kind = "text"
	KindImage       Kind = "image"
	KindVideo       Kind = "video"
	KindAudio       Kind = "audio"
	KindDocument    Kind = "document"
	KindSticker     Kind = "sticker"
	KindLocation    Kind = "location"
	KindContactCard Kind = "contact_card"
	KindPoll        Kind = "poll"
	KindSystem      Kind = "system"
	KindReaction    Kind = "reaction"
	KindProtocol    Kind = "protocol"
	KindUnknown     Kind = "unknown"
)

// Classify resolves the message kind by probing content keys in a fixed
// priority order. Media keys outrank plain text so a payload carrying
// both an image and a caption-bearing conversation key classifies as
// image. The order is total and deterministic.
func Classify(c transport.RawContent) Kind {
	switch {
	case c.Image != nil:
		return KindImage
	case c.Video != nil:
		return KindVideo
	case c.Audio != nil:
		return KindAudio
	case c.Document != nil:
		return KindDocument
	case c.Sticker != nil:
		return KindSticker
	case c.Location != nil:
		return KindLocation
	case c.ContactCard != nil, c.ContactList != nil:
		return KindContactCard
	case c.Poll != nil, c.PollUpdate != nil:
		return KindPoll
	case c.Reaction != nil:
		return KindReaction
	case c.System != nil:
		return KindSystem
	case c.Protocol != nil:
		return KindProtocol
	case c.Conversation != "", c.ExtendedText != nil:
		return KindText
	default:
		return KindUnknown
	}
}
