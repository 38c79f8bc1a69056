// Package backfill drains the historical batch feed into the store.
// Chat and contact snapshots for a batch commit in one transaction;
// messages go through the ingestion pipeline in fixed-size sub-batches
// outside any long-lived transaction so a large import never holds row
// locks for its whole duration.
package backfill

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/chatvault/internal/clock"
	"github.com/matheus3301/chatvault/internal/ingest"
	"github.com/matheus3301/chatvault/internal/store"
	"github.com/matheus3301/chatvault/internal/transport"
)

const progressLogInterval = 500

// Options tunes the completion heuristics. The feed's batch cadence is
// unbounded, so idle and max-wait detection are best-effort.
type Options struct {
	IdleTimeout  time.Duration
	MaxWait      time.Duration
	SubBatchSize int
}

// Progress is a snapshot of the running totals.
type Progress struct {
	Batches  int
	Chats    int
	Contacts int
	Messages int
	Complete bool
	Reason   string
}

// Completion reasons.
const (
	ReasonLatest  = "latest_flag"
	ReasonIdle    = "idle_timeout"
	ReasonMaxWait = "max_wait"
)

// Importer consumes history batches until the feed signals completion
// or a timeout heuristic fires.
type Importer struct {
	db   *store.DB
	pipe *ingest.Pipeline
	clk  clock.Clock
	log  *zap.Logger
	opts Options

	runID string

	mu        sync.Mutex
	progress  Progress
	sinceLog  int
	idleTimer clock.Timer
	maxTimer  clock.Timer
	done      chan struct{}
}

// New creates an importer. Call Start before feeding batches so the
// timeout heuristics are armed.
func New(db *store.DB, pipe *ingest.Pipeline, clk clock.Clock, log *zap.Logger, opts Options) *Importer {
	if opts.SubBatchSize <= 0 {
		opts.SubBatchSize = 100
	}
	runID := uuid.NewString()
	return &Importer{
		db:    db,
		pipe:  pipe,
		clk:   clk,
		log:   log.With(zap.String("run_id", runID)),
		opts:  opts,
		runID: runID,
		done:  make(chan struct{}),
	}
}

// RunID identifies this import run in logs.
func (imp *Importer) RunID() string { return imp.runID }

// Start arms the idle and max-wait timers.
func (imp *Importer) Start() {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	if imp.opts.IdleTimeout > 0 {
		imp.idleTimer = imp.clk.AfterFunc(imp.opts.IdleTimeout, func() { imp.complete(ReasonIdle) })
	}
	if imp.opts.MaxWait > 0 {
		imp.maxTimer = imp.clk.AfterFunc(imp.opts.MaxWait, func() { imp.complete(ReasonMaxWait) })
	}
	imp.log.Info("backfill started",
		zap.Duration("idle_timeout", imp.opts.IdleTimeout),
		zap.Duration("max_wait", imp.opts.MaxWait))
}

// HandleBatch applies one history batch. A chat/contact transaction
// failure aborts the whole batch, which is safe to redeliver since all
// the writes are idempotent. Message failures are isolated per item and
// never roll back the committed metadata phase.
func (imp *Importer) HandleBatch(b transport.HistoryBatch) error {
	imp.mu.Lock()
	if imp.progress.Complete {
		imp.mu.Unlock()
		return nil
	}
	if imp.idleTimer != nil {
		imp.idleTimer.Stop()
		imp.idleTimer = imp.clk.AfterFunc(imp.opts.IdleTimeout, func() { imp.complete(ReasonIdle) })
	}
	imp.mu.Unlock()

	err := imp.db.WithTx(func(tx *sql.Tx) error {
		for _, snap := range b.Chats {
			c := store.Chat{
				ExternalID:        snap.ID,
				Name:              snap.Name,
				Archived:          snap.Archived,
				Pinned:            snap.Pinned > 0,
				Muted:             snap.MutedUntil > 0,
				EphemeralDuration: snap.EphemeralDuration,
			}
			if err := store.UpsertChatSnapshotTx(tx, &c); err != nil {
				return err
			}
		}
		for _, d := range b.Contacts {
			c := store.Contact{ExternalID: d.ID}
			if d.Name != nil {
				c.Name = *d.Name
			}
			if d.PushName != nil {
				c.PushName = *d.PushName
			}
			if d.AvatarRef != nil {
				c.AvatarRef = *d.AvatarRef
			}
			if d.StatusText != nil {
				c.StatusText = *d.StatusText
			}
			if err := store.UpsertContactTx(tx, &c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		imp.log.Error("metadata phase failed, batch aborted",
			zap.Int("chats", len(b.Chats)),
			zap.Int("contacts", len(b.Contacts)),
			zap.Error(err))
		return err
	}

	stored := 0
	for start := 0; start < len(b.Messages); start += imp.opts.SubBatchSize {
		end := start + imp.opts.SubBatchSize
		if end > len(b.Messages) {
			end = len(b.Messages)
		}
		stored += imp.pipe.IngestMessages(b.Messages[start:end])
	}

	imp.mu.Lock()
	imp.progress.Batches++
	imp.progress.Chats += len(b.Chats)
	imp.progress.Contacts += len(b.Contacts)
	imp.progress.Messages += stored
	imp.sinceLog += stored
	logNow := imp.sinceLog >= progressLogInterval
	if logNow {
		imp.sinceLog = 0
	}
	snapshot := imp.progress
	imp.mu.Unlock()

	if logNow {
		imp.logProgress("backfill progress", snapshot)
	}
	if b.IsLatest {
		imp.complete(ReasonLatest)
	}
	return nil
}

// Wait blocks until the import completes or ctx is cancelled.
func (imp *Importer) Wait(ctx context.Context) (Progress, error) {
	select {
	case <-ctx.Done():
		return imp.Progress(), ctx.Err()
	case <-imp.done:
		return imp.Progress(), nil
	}
}

// Progress returns the current running totals.
func (imp *Importer) Progress() Progress {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.progress
}

func (imp *Importer) complete(reason string) {
	imp.mu.Lock()
	if imp.progress.Complete {
		imp.mu.Unlock()
		return
	}
	imp.progress.Complete = true
	imp.progress.Reason = reason
	if imp.idleTimer != nil {
		imp.idleTimer.Stop()
	}
	if imp.maxTimer != nil {
		imp.maxTimer.Stop()
	}
	snapshot := imp.progress
	imp.mu.Unlock()

	imp.logProgress("backfill complete", snapshot)
	close(imp.done)
}

func (imp *Importer) logProgress(msg string, p Progress) {
	imp.log.Info(msg,
		zap.Int("batches", p.Batches),
		zap.Int("chats", p.Chats),
		zap.Int("contacts", p.Contacts),
		zap.Int("messages", p.Messages),
		zap.String("reason", p.Reason))
}
