package ingest

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/matheus3301/chatvault/internal/clock"
	"github.com/matheus3301/chatvault/internal/store"
	"github.com/matheus3301/chatvault/internal/transport"
)

func newTestPipeline(t *testing.T) (*Pipeline, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, nil, clock.NewFake(), zap.NewNop(), 100), db
}

func textEvent(id, chatID, body string, ts int64) transport.MessageEvent {
	return transport.MessageEvent{
		ExternalID: id,
		ChatID:     chatID,
		SenderID:   "sender@s.whatsapp.net",
		Timestamp:  ts,
		Content:    transport.RawContent{Conversation: body},
	}
}

func TestIngestIdempotent(t *testing.T) {
	p, db := newTestPipeline(t)

	evt := textEvent("m1", "c@s.whatsapp.net", "hello", 1000)
	if err := p.IngestMessage(evt); err != nil {
		t.Fatal(err)
	}
	// Second delivery of the same external id is a silent no-op.
	if err := p.IngestMessage(evt); err != nil {
		t.Fatalf("duplicate delivery errored: %v", err)
	}

	n, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("message count = %d, want 1", n)
	}
}

func TestProtocolNeverPersisted(t *testing.T) {
	p, db := newTestPipeline(t)

	evt := transport.MessageEvent{
		ExternalID: "m1",
		ChatID:     "c@s.whatsapp.net",
		Timestamp:  1000,
		Content:    transport.RawContent{Protocol: &transport.RawProtocol{Type: 2}},
	}
	if err := p.IngestMessage(evt); err != nil {
		t.Fatal(err)
	}
	n, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("message count = %d, want 0 (protocol payloads are plumbing)", n)
	}
}

func TestPartialBatchResilience(t *testing.T) {
	p, db := newTestPipeline(t)

	batch := []transport.MessageEvent{
		textEvent("m1", "c@s.whatsapp.net", "one", 1),
		textEvent("m2", "c@s.whatsapp.net", "two", 2),
		// Empty external id violates the schema check and must fail
		// alone without aborting the rest.
		textEvent("", "c@s.whatsapp.net", "three", 3),
		textEvent("m4", "c@s.whatsapp.net", "four", 4),
		textEvent("m5", "c@s.whatsapp.net", "five", 5),
	}
	ok := p.IngestMessages(batch)
	if ok != 4 {
		t.Errorf("ok = %d, want 4", ok)
	}

	n, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("message count = %d, want 4", n)
	}
}

func TestQuoteResolutionNoBackfill(t *testing.T) {
	p, db := newTestPipeline(t)

	// B quotes A but arrives first.
	b := transport.MessageEvent{
		ExternalID: "B",
		ChatID:     "c@s.whatsapp.net",
		Timestamp:  2000,
		Content: transport.RawContent{
			ExtendedText: &transport.RawExtendedText{
				Text:    "replying",
				Context: &transport.RawContext{QuotedExternalID: "A"},
			},
		},
	}
	if err := p.IngestMessage(b); err != nil {
		t.Fatal(err)
	}
	if err := p.IngestMessage(textEvent("A", "c@s.whatsapp.net", "original", 1000)); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetMessageByExternalID("B")
	if err != nil {
		t.Fatal(err)
	}
	if got.QuotedID.Valid {
		t.Error("quote resolved retroactively, want permanently null")
	}

	// The reverse order does resolve.
	c := transport.MessageEvent{
		ExternalID: "C",
		ChatID:     "c@s.whatsapp.net",
		Timestamp:  3000,
		Content: transport.RawContent{
			ExtendedText: &transport.RawExtendedText{
				Text:    "also replying",
				Context: &transport.RawContext{QuotedExternalID: "A"},
			},
		},
	}
	if err := p.IngestMessage(c); err != nil {
		t.Fatal(err)
	}
	got, err = db.GetMessageByExternalID("C")
	if err != nil {
		t.Fatal(err)
	}
	if !got.QuotedID.Valid {
		t.Error("quote of already-ingested message should resolve")
	}
}

func TestContactNameLastWriterWins(t *testing.T) {
	p, db := newTestPipeline(t)

	alice := "Alice"
	if err := p.ApplyContactDelta(transport.ContactDelta{ID: "j@s", Name: &alice}); err != nil {
		t.Fatal(err)
	}
	// Absent name leaves the stored value alone.
	if err := p.ApplyContactDelta(transport.ContactDelta{ID: "j@s"}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetContact("j@s")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Alice" {
		t.Errorf("name = %q, want Alice", c.Name)
	}

	alicia := "Alicia"
	if err := p.ApplyContactDelta(transport.ContactDelta{ID: "j@s", Name: &alicia}); err != nil {
		t.Fatal(err)
	}
	c, err = db.GetContact("j@s")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Alicia" {
		t.Errorf("name = %q, want Alicia", c.Name)
	}
}

func TestChatDeltaPinMuteEncoding(t *testing.T) {
	p, db := newTestPipeline(t)

	active := int64(1650000000)
	if err := p.ApplyChatDelta(transport.ChatDelta{ID: "c@s", Pinned: &active, MutedUntil: &active}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetChatByExternalID("c@s")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Pinned || !c.Muted {
		t.Errorf("pinned=%v muted=%v, want both true", c.Pinned, c.Muted)
	}

	zero := int64(0)
	if err := p.ApplyChatDelta(transport.ChatDelta{ID: "c@s", Pinned: &zero}); err != nil {
		t.Fatal(err)
	}
	c, err = db.GetChatByExternalID("c@s")
	if err != nil {
		t.Fatal(err)
	}
	if c.Pinned {
		t.Error("zero pin timestamp should clear the flag")
	}
	if !c.Muted {
		t.Error("absent mute field must leave stored value untouched")
	}
}

func TestMembershipActions(t *testing.T) {
	p, db := newTestPipeline(t)

	if err := p.ApplyMembership(transport.MembershipChange{
		ChatID: "grp@g.us", Action: transport.MembershipAdd,
		Participants: []string{"a@s", "b@s"}, Timestamp: 100,
	}); err != nil {
		t.Fatal(err)
	}
	if err := p.ApplyMembership(transport.MembershipChange{
		ChatID: "grp@g.us", Action: transport.MembershipPromote,
		Participants: []string{"b@s"}, Timestamp: 200,
	}); err != nil {
		t.Fatal(err)
	}
	if err := p.ApplyMembership(transport.MembershipChange{
		ChatID: "grp@g.us", Action: transport.MembershipRemove,
		Participants: []string{"a@s"}, Timestamp: 300,
	}); err != nil {
		t.Fatal(err)
	}
	// Unknown action is logged and ignored, not an error.
	if err := p.ApplyMembership(transport.MembershipChange{
		ChatID: "grp@g.us", Action: "explode",
		Participants: []string{"a@s"},
	}); err != nil {
		t.Fatal(err)
	}

	chat, err := db.GetChatByExternalID("grp@g.us")
	if err != nil {
		t.Fatal(err)
	}
	g, err := db.GetGroupByChatID(chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	parts, err := db.ListParticipants(g.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d participants, want 2", len(parts))
	}
	for _, gp := range parts {
		switch gp.ParticipantID {
		case "a@s":
			if gp.Active {
				t.Error("a@s should be soft-removed")
			}
		case "b@s":
			if gp.Role != store.RoleAdmin {
				t.Errorf("b@s role = %q, want admin", gp.Role)
			}
		}
	}
}

func TestSeedPrivateChatNameFromPushName(t *testing.T) {
	p, db := newTestPipeline(t)

	evt := textEvent("m1", "c@s.whatsapp.net", "hey", 1000)
	evt.PushName = "Carol"
	if err := p.IngestMessage(evt); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChatByExternalID("c@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Carol" {
		t.Errorf("chat name = %q, want Carol", c.Name)
	}

	// Outbound messages never seed the name.
	p2, db2 := newTestPipeline(t)
	out := textEvent("m1", "d@s.whatsapp.net", "hey", 1000)
	out.PushName = "Me"
	out.FromMe = true
	if err := p2.IngestMessage(out); err != nil {
		t.Fatal(err)
	}
	c, err = db2.GetChatByExternalID("d@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "" {
		t.Errorf("chat name = %q, want empty", c.Name)
	}
}

func TestMessageFlags(t *testing.T) {
	p, db := newTestPipeline(t)

	if err := p.IngestMessage(textEvent("m1", "c@s.whatsapp.net", "hi", 1000)); err != nil {
		t.Fatal(err)
	}
	tr, fa := true, false
	if err := p.ApplyMessageFlags(transport.MessageFlagChange{ExternalID: "m1", Starred: &tr, Deleted: &tr}); err != nil {
		t.Fatal(err)
	}
	m, err := db.GetMessageByExternalID("m1")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Starred || !m.Deleted {
		t.Errorf("starred=%v deleted=%v, want both true", m.Starred, m.Deleted)
	}

	if err := p.ApplyMessageFlags(transport.MessageFlagChange{ExternalID: "m1", Starred: &fa}); err != nil {
		t.Fatal(err)
	}
	m, err = db.GetMessageByExternalID("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Starred || !m.Deleted {
		t.Errorf("starred=%v deleted=%v, want false/true", m.Starred, m.Deleted)
	}

	// Flags on unknown messages are ignored.
	if err := p.ApplyMessageFlags(transport.MessageFlagChange{ExternalID: "ghost", Starred: &tr}); err != nil {
		t.Fatal(err)
	}
}
