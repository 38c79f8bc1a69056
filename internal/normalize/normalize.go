package normalize

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/matheus3301/chatvault/internal/transport"
)

// Message is the canonical form of one incoming message, ready for
// persistence. Text fields use the empty string for absence.
type Message struct {
	ExternalID string
	ChatID     string
	SenderID   string
	PushName   string
	FromMe     bool
	Starred    bool
	Kind       Kind
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
	PollOptions     []string
	PollSelectable  int
	ContactCardName string
	VCard           string

	QuotedExternalID string
	Mentions         []string
	Forwarded        bool

	Timestamp int64
	Raw       string
}

// FromEvent normalizes a raw message event. Protocol payloads are
// transport plumbing, not user content, and normalize to nil so the
// caller skips persistence.
func FromEvent(evt transport.MessageEvent, now time.Time) *Message {
	kind := Classify(evt.Content)
	if kind == KindProtocol {
		return nil
	}

	m := &Message{
		ExternalID: evt.ExternalID,
		ChatID:     evt.ChatID,
		SenderID:   evt.SenderID,
		PushName:   evt.PushName,
		FromMe:     evt.FromMe,
		Starred:    evt.Starred,
		Kind:       kind,
		Body:       extractBody(evt.Content),
		Timestamp:  NormalizeTimestamp(evt.Timestamp, evt.Parts, now),
	}

	if raw, err := json.Marshal(evt); err == nil {
		m.Raw = string(raw)
	}

	if media := pickMedia(evt.Content); media != nil {
		m.MediaMimetype = media.Mimetype
		m.MediaFileName = media.FileName
		m.MediaSize = media.FileSize
		m.MediaSeconds = media.Seconds
		m.MediaWidth = media.Width
		m.MediaHeight = media.Height
	}
	if loc := evt.Content.Location; loc != nil {
		m.Latitude = loc.Latitude
		m.Longitude = loc.Longitude
		m.LocationName = firstNonEmpty(loc.Name, loc.Address)
		m.LocationLive = loc.Live
	}
	if poll := evt.Content.Poll; poll != nil {
		m.PollName = poll.Name
		m.PollOptions = poll.Options
		m.PollSelectable = poll.SelectableCount
	}
	if card := evt.Content.ContactCard; card != nil {
		m.ContactCardName = card.DisplayName
		m.VCard = card.VCard
	} else if list := evt.Content.ContactList; list != nil {
		m.ContactCardName = list.DisplayName
		if len(list.Cards) > 0 {
			m.VCard = list.Cards[0].VCard
		}
	}

	if ctx := pickContext(evt.Content); ctx != nil {
		m.QuotedExternalID = ctx.QuotedExternalID
		m.Mentions = ctx.Mentions
		m.Forwarded = ctx.Forwarded || ctx.ForwardingScore > 0
	}
	return m
}

// NormalizeTimestamp collapses the two source encodings into epoch
// seconds. Split values prefer the low word; a missing timestamp falls
// back to now rather than rejecting the message.
func NormalizeTimestamp(ts int64, parts *transport.TimestampParts, now time.Time) int64 {
	if ts > 0 {
		return ts
	}
	if parts != nil && parts.Low > 0 {
		return int64(parts.Low)
	}
	return now.Unix()
}

// extractBody walks the classification-specific text fields in a fixed
// fallback order and returns the first non-empty one.
func extractBody(c transport.RawContent) string {
	if c.Conversation != "" {
		return c.Conversation
	}
	if c.ExtendedText != nil && c.ExtendedText.Text != "" {
		return c.ExtendedText.Text
	}
	for _, media := range []*transport.RawMedia{c.Image, c.Video, c.Document} {
		if media != nil && media.Caption != "" {
			return media.Caption
		}
	}
	if c.Poll != nil && c.Poll.Name != "" {
		return c.Poll.Name
	}
	if c.Reaction != nil && c.Reaction.Text != "" {
		return c.Reaction.Text
	}
	if c.ContactCard != nil && c.ContactCard.DisplayName != "" {
		return c.ContactCard.DisplayName
	}
	if c.ContactList != nil && c.ContactList.DisplayName != "" {
		return c.ContactList.DisplayName
	}
	if c.Location != nil {
		return firstNonEmpty(c.Location.Name, c.Location.Caption)
	}
	return ""
}

func pickMedia(c transport.RawContent) *transport.RawMedia {
	for _, media := range []*transport.RawMedia{c.Image, c.Video, c.Audio, c.Document, c.Sticker} {
		if media != nil {
			return media
		}
	}
	return nil
}

// pickContext probes the context object across every content kind that
// can carry one; first non-nil wins.
func pickContext(c transport.RawContent) *transport.RawContext {
	if c.ExtendedText != nil && c.ExtendedText.Context != nil {
		return c.ExtendedText.Context
	}
	for _, media := range []*transport.RawMedia{c.Image, c.Video, c.Audio, c.Document, c.Sticker} {
		if media != nil && media.Context != nil {
			return media.Context
		}
	}
	if c.Location != nil && c.Location.Context != nil {
		return c.Location.Context
	}
	if c.ContactCard != nil && c.ContactCard.Context != nil {
		return c.ContactCard.Context
	}
	if c.ContactList != nil && c.ContactList.Context != nil {
		return c.ContactList.Context
	}
	if c.Poll != nil && c.Poll.Context != nil {
		return c.Poll.Context
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Preview renders the chat list preview for a message: the body
// truncated to maxLen runes, or a bracketed kind tag when there is no
// body.
func Preview(m *Message, maxLen int) string {
	if m.Body == "" {
		return "[" + string(m.Kind) + "]"
	}
	runes := []rune(m.Body)
	if len(runes) <= maxLen {
		return m.Body
	}
	return strings.TrimSpace(string(runes[:maxLen]))
}
