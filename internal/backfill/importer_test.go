package backfill

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatvault/internal/clock"
	"github.com/matheus3301/chatvault/internal/ingest"
	"github.com/matheus3301/chatvault/internal/store"
	"github.com/matheus3301/chatvault/internal/transport"
)

func newTestImporter(t *testing.T, clk clock.Clock, opts Options) (*Importer, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	pipe := ingest.New(db, nil, clk, zap.NewNop(), 100)
	return New(db, pipe, clk, zap.NewNop(), opts), db
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

func TestImportSingleLatestBatch(t *testing.T) {
	clk := clock.NewFake()
	imp, db := newTestImporter(t, clk, Options{IdleTimeout: 90 * time.Second, MaxWait: 30 * time.Minute})
	imp.Start()

	alice := "Alice"
	batch := transport.HistoryBatch{
		Chats: []transport.ChatSnapshot{
			{ID: "a@s.whatsapp.net", Name: "Alice"},
			{ID: "grp@g.us", Name: "Friends", Pinned: 1650000000},
		},
		Contacts: []transport.ContactDelta{
			{ID: "a@s.whatsapp.net", Name: &alice},
			{ID: "b@s.whatsapp.net"},
		},
		Messages: []transport.MessageEvent{
			textEvent("m1", "a@s.whatsapp.net", "one", 1),
			textEvent("m2", "a@s.whatsapp.net", "two", 2),
			textEvent("m3", "grp@g.us", "three", 3),
		},
		IsLatest: true,
	}
	if err := imp.HandleBatch(batch); err != nil {
		t.Fatal(err)
	}

	p, err := imp.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !p.Complete || p.Reason != ReasonLatest {
		t.Errorf("complete=%v reason=%q, want latest_flag completion", p.Complete, p.Reason)
	}
	if p.Chats != 2 || p.Contacts != 2 || p.Messages != 3 {
		t.Errorf("totals = %+v, want 2/2/3", p)
	}

	for _, check := range []struct {
		name  string
		count func() (int64, error)
		want  int64
	}{
		{"chats", db.ChatCount, 2},
		{"contacts", db.ContactCount, 2},
		{"messages", db.MessageCount, 3},
	} {
		n, err := check.count()
		if err != nil {
			t.Fatal(err)
		}
		if n != check.want {
			t.Errorf("%s = %d, want %d", check.name, n, check.want)
		}
	}

	grp, err := db.GetChatByExternalID("grp@g.us")
	if err != nil {
		t.Fatal(err)
	}
	if grp.Kind != store.ChatGroup || !grp.Pinned {
		t.Errorf("group chat kind=%q pinned=%v", grp.Kind, grp.Pinned)
	}
}

func TestSnapshotNeverClearsLiveName(t *testing.T) {
	clk := clock.NewFake()
	imp, db := newTestImporter(t, clk, Options{IdleTimeout: time.Minute})
	imp.Start()

	// Chat already has a name learned from a live event.
	c, err := db.FindOrCreateChat("a@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SeedChatName(c.ID, "Live Name"); err != nil {
		t.Fatal(err)
	}

	if err := imp.HandleBatch(transport.HistoryBatch{
		Chats: []transport.ChatSnapshot{{ID: "a@s.whatsapp.net", Name: ""}},
	}); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetChat(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Live Name" {
		t.Errorf("name = %q, want Live Name", got.Name)
	}
}

func TestIdleTimeoutCompletion(t *testing.T) {
	clk := clock.NewFake()
	imp, _ := newTestImporter(t, clk, Options{IdleTimeout: 90 * time.Second, MaxWait: 30 * time.Minute})
	imp.Start()

	if err := imp.HandleBatch(transport.HistoryBatch{
		Messages: []transport.MessageEvent{textEvent("m1", "a@s.whatsapp.net", "hi", 1)},
	}); err != nil {
		t.Fatal(err)
	}

	// Just under the idle window: still waiting.
	clk.Advance(89 * time.Second)
	if imp.Progress().Complete {
		t.Fatal("completed before idle window elapsed")
	}
	clk.Advance(2 * time.Second)

	p, err := imp.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p.Reason != ReasonIdle {
		t.Errorf("reason = %q, want idle_timeout", p.Reason)
	}
}

func TestBatchResetsIdleTimer(t *testing.T) {
	clk := clock.NewFake()
	imp, _ := newTestImporter(t, clk, Options{IdleTimeout: 90 * time.Second})
	imp.Start()

	clk.Advance(60 * time.Second)
	if err := imp.HandleBatch(transport.HistoryBatch{}); err != nil {
		t.Fatal(err)
	}
	// The original deadline has passed but the batch re-armed the timer.
	clk.Advance(60 * time.Second)
	if imp.Progress().Complete {
		t.Fatal("idle timer was not reset by the batch")
	}
	clk.Advance(31 * time.Second)
	if !imp.Progress().Complete {
		t.Fatal("expected idle completion after full window with no batches")
	}
}

func TestMaxWaitCeiling(t *testing.T) {
	clk := clock.NewFake()
	imp, _ := newTestImporter(t, clk, Options{IdleTimeout: time.Hour, MaxWait: 30 * time.Minute})
	imp.Start()

	clk.Advance(30 * time.Minute)
	p, err := imp.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p.Reason != ReasonMaxWait {
		t.Errorf("reason = %q, want max_wait", p.Reason)
	}
}

func TestWaitCancellable(t *testing.T) {
	clk := clock.NewFake()
	imp, _ := newTestImporter(t, clk, Options{IdleTimeout: time.Hour})
	imp.Start()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := imp.Wait(ctx); err == nil {
		t.Fatal("expected context error from cancelled Wait")
	}
}

func TestBatchAfterCompletionIgnored(t *testing.T) {
	clk := clock.NewFake()
	imp, db := newTestImporter(t, clk, Options{IdleTimeout: time.Minute})
	imp.Start()

	if err := imp.HandleBatch(transport.HistoryBatch{IsLatest: true}); err != nil {
		t.Fatal(err)
	}
	if err := imp.HandleBatch(transport.HistoryBatch{
		Messages: []transport.MessageEvent{textEvent("m1", "a@s.whatsapp.net", "late", 1)},
	}); err != nil {
		t.Fatal(err)
	}

	n, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("message count = %d, want 0 (late batch must be dropped)", n)
	}
	if imp.Progress().Batches != 1 {
		t.Errorf("batches = %d, want 1", imp.Progress().Batches)
	}
}
