// Package ingest applies normalized entity deltas to the store with
// at-least-once, idempotent semantics. Every batch entry runs in its
// own error boundary so one bad event never aborts the rest.
package ingest

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatvault/internal/bus"
	"github.com/matheus3301/chatvault/internal/clock"
	"github.com/matheus3301/chatvault/internal/normalize"
	"github.com/matheus3301/chatvault/internal/store"
	"github.com/matheus3301/chatvault/internal/transport"
)

// Pipeline persists incoming events. Safe for concurrent use across
// event types; idempotency comes from the store's unique keys.
type Pipeline struct {
	db         *store.DB
	bus        *bus.Bus
	clk        clock.Clock
	log        *zap.Logger
	previewLen int
}

// New creates an ingestion pipeline.
func New(db *store.DB, b *bus.Bus, clk clock.Clock, log *zap.Logger, previewLen int) *Pipeline {
	if previewLen <= 0 {
		previewLen = 100
	}
	return &Pipeline{db: db, bus: b, clk: clk, log: log, previewLen: previewLen}
}

// IngestMessage normalizes and persists one message event. Duplicates
// and protocol payloads are no-ops, never errors.
func (p *Pipeline) IngestMessage(evt transport.MessageEvent) error {
	m := normalize.FromEvent(evt, p.clk.Now())
	if m == nil {
		p.log.Debug("skipping protocol payload", zap.String("external_id", evt.ExternalID))
		return nil
	}

	chat, err := p.db.FindOrCreateChat(m.ChatID)
	if err != nil {
		return err
	}
	if m.SenderID != "" {
		if _, err := p.db.EnsureContact(m.SenderID, m.PushName, m.Timestamp); err != nil {
			return err
		}
	}

	// Best-effort quote lookup. Unresolved quotes stay null for good;
	// there is no backfill when the quoted message arrives later.
	row := store.Message{
		ExternalID:      m.ExternalID,
		ChatID:          chat.ID,
		SenderID:        m.SenderID,
		SenderName:      m.PushName,
		FromMe:          m.FromMe,
		Kind:            string(m.Kind),
		Body:            m.Body,
		MediaMimetype:   m.MediaMimetype,
		MediaFileName:   m.MediaFileName,
		MediaSize:       m.MediaSize,
		MediaSeconds:    m.MediaSeconds,
		MediaWidth:      m.MediaWidth,
		MediaHeight:     m.MediaHeight,
		Latitude:        m.Latitude,
		Longitude:       m.Longitude,
		LocationName:    m.LocationName,
		LocationLive:    m.LocationLive,
		PollName:        m.PollName,
		PollOptions:     strings.Join(m.PollOptions, "\n"),
		PollSelectable:  m.PollSelectable,
		ContactCardName: m.ContactCardName,
		VCard:           m.VCard,
		Mentions:        strings.Join(m.Mentions, ","),
		Forwarded:       m.Forwarded,
		Starred:         m.Starred,
		Timestamp:       m.Timestamp,
		Raw:             m.Raw,
	}
	if m.QuotedExternalID != "" {
		quoted, err := p.db.MessageIDByExternal(m.QuotedExternalID)
		if err != nil {
			return err
		}
		row.QuotedID = quoted
	}

	created, err := p.db.InsertMessage(&row, normalize.Preview(m, p.previewLen))
	if err != nil {
		return err
	}
	if !created {
		p.log.Debug("duplicate message", zap.String("external_id", m.ExternalID))
		return nil
	}

	// Inbound private messages seed the chat name from the sender's
	// push name when nothing better is known yet.
	if chat.Kind == store.ChatPrivate && chat.Name == "" && !m.FromMe && m.PushName != "" {
		if err := p.db.SeedChatName(chat.ID, m.PushName); err != nil {
			p.log.Warn("seed chat name", zap.String("chat_id", m.ChatID), zap.Error(err))
		}
	}

	if p.bus != nil {
		p.bus.Publish(bus.Event{
			Kind:      bus.KindMessageStored,
			Timestamp: time.Now(),
			Payload:   MessageStored{ExternalID: m.ExternalID, ChatID: m.ChatID, Kind: string(m.Kind)},
		})
	}
	return nil
}

// MessageStored is the payload for ingest.message_stored bus events.
type MessageStored struct {
	ExternalID string
	ChatID     string
	Kind       string
}

// IngestMessages persists a batch, isolating each item's failure.
// Returns how many messages were handed to the store without error.
func (p *Pipeline) IngestMessages(batch []transport.MessageEvent) int {
	ok := 0
	for _, evt := range batch {
		if err := p.IngestMessage(evt); err != nil {
			p.log.Error("ingest message",
				zap.String("external_id", evt.ExternalID),
				zap.String("chat_id", evt.ChatID),
				zap.Error(err))
			continue
		}
		ok++
	}
	return ok
}

// ApplyChatDelta applies an incremental chat update. Absent fields are
// untouched; pin/mute timestamp-or-zero values collapse to booleans.
func (p *Pipeline) ApplyChatDelta(d transport.ChatDelta) error {
	patch := store.ChatPatch{
		Name:     d.Name,
		Archived: d.Archived,
		Pinned:   positiveToBool(d.Pinned),
		Muted:    positiveToBool(d.MutedUntil),
	}
	return p.db.ApplyChatPatch(d.ID, patch)
}

// ApplyChatDeltas applies a batch of chat updates with per-item
// isolation.
func (p *Pipeline) ApplyChatDeltas(batch []transport.ChatDelta) {
	for _, d := range batch {
		if err := p.ApplyChatDelta(d); err != nil {
			p.log.Error("apply chat delta", zap.String("chat_id", d.ID), zap.Error(err))
		}
	}
}

// ApplyContactDelta applies an incremental contact update.
func (p *Pipeline) ApplyContactDelta(d transport.ContactDelta) error {
	return p.db.ApplyContactPatch(d.ID, store.ContactPatch{
		Name:       d.Name,
		PushName:   d.PushName,
		AvatarRef:  d.AvatarRef,
		StatusText: d.StatusText,
	})
}

// ApplyContactDeltas applies a batch of contact updates with per-item
// isolation.
func (p *Pipeline) ApplyContactDeltas(batch []transport.ContactDelta) {
	for _, d := range batch {
		if err := p.ApplyContactDelta(d); err != nil {
			p.log.Error("apply contact delta", zap.String("contact_id", d.ID), zap.Error(err))
		}
	}
}

// ApplyGroupDelta applies a group metadata update, lazily creating the
// group row.
func (p *Pipeline) ApplyGroupDelta(d transport.GroupDelta) error {
	return p.db.ApplyGroupPatch(d.ChatID, store.GroupPatch{
		Subject:           d.Subject,
		OwnerID:           d.OwnerID,
		Description:       d.Description,
		CommunityID:       d.CommunityID,
		AnnounceOnly:      d.AnnounceOnly,
		Restricted:        d.Restricted,
		JoinApproval:      d.JoinApproval,
		MemberAddMode:     d.MemberAddMode,
		EphemeralDuration: d.EphemeralDuration,
	})
}

// ApplyGroupDeltas applies a batch of group updates with per-item
// isolation.
func (p *Pipeline) ApplyGroupDeltas(batch []transport.GroupDelta) {
	for _, d := range batch {
		if err := p.ApplyGroupDelta(d); err != nil {
			p.log.Error("apply group delta", zap.String("chat_id", d.ChatID), zap.Error(err))
		}
	}
}

// ApplyMembership applies a group participant change. Unknown actions
// are logged and ignored; each participant gets its own error boundary.
func (p *Pipeline) ApplyMembership(c transport.MembershipChange) error {
	g, err := p.db.FindOrCreateGroup(c.ChatID)
	if err != nil {
		return err
	}
	at := c.Timestamp
	if at <= 0 {
		at = p.clk.Now().Unix()
	}

	for _, pid := range c.Participants {
		var err error
		switch c.Action {
		case transport.MembershipAdd:
			err = p.db.UpsertParticipant(g.ID, pid, store.RoleMember, at)
		case transport.MembershipRemove:
			err = p.db.RemoveParticipant(g.ID, pid, at)
		case transport.MembershipPromote:
			err = p.db.SetParticipantRole(g.ID, pid, store.RoleAdmin)
		case transport.MembershipDemote:
			err = p.db.SetParticipantRole(g.ID, pid, store.RoleMember)
		default:
			p.log.Warn("unknown membership action",
				zap.String("action", string(c.Action)),
				zap.String("chat_id", c.ChatID))
			return nil
		}
		if err != nil {
			p.log.Error("apply membership",
				zap.String("chat_id", c.ChatID),
				zap.String("participant", pid),
				zap.Error(err))
		}
	}
	return nil
}

// ApplyMessageFlags applies star/delete state flips. References to
// never-ingested messages are ignored.
func (p *Pipeline) ApplyMessageFlags(c transport.MessageFlagChange) error {
	if c.Starred != nil {
		if err := p.db.SetStarred(c.ExternalID, *c.Starred); err != nil {
			return err
		}
	}
	if c.Deleted != nil {
		if err := p.db.SetDeleted(c.ExternalID, *c.Deleted); err != nil {
			return err
		}
	}
	return nil
}

func positiveToBool(v *int64) *bool {
	if v == nil {
		return nil
	}
	b := *v > 0
	return &b
}
