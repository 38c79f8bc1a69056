// Package daemon composes the chatvaultd process: transport, connection
// manager, ingestion pipeline, backfill importer and the HTTP query
// server, wired together with fx.
package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatvault/internal/api"
	"github.com/matheus3301/chatvault/internal/backfill"
	"github.com/matheus3301/chatvault/internal/bus"
	"github.com/matheus3301/chatvault/internal/clock"
	"github.com/matheus3301/chatvault/internal/config"
	"github.com/matheus3301/chatvault/internal/conn"
	"github.com/matheus3301/chatvault/internal/ingest"
	"github.com/matheus3301/chatvault/internal/lock"
	"github.com/matheus3301/chatvault/internal/logging"
	"github.com/matheus3301/chatvault/internal/session"
	"github.com/matheus3301/chatvault/internal/store"
	"github.com/matheus3301/chatvault/internal/transport"
	"github.com/matheus3301/chatvault/internal/transport/wa"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ListenAddr  string // optional override; empty = use config
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideClock,
			provideLock,
			provideStore,
			provideAdapter,
			provideManager,
			providePipeline,
			provideImporter,
			provideAPIHandler,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.LoadOrDefaults(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideClock() clock.Clock {
	return clock.Real()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.ArchiveDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAdapter(p Params, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), session.TransportDBPath(p.SessionName), logger)
}

func provideManager(p Params, adapter *wa.Adapter, b *bus.Bus, clk clock.Clock, sd fx.Shutdowner, logger *zap.Logger) *conn.Manager {
	saveCreds := func(snap transport.CredentialSnapshot) error {
		return os.WriteFile(session.CredentialsPath(p.SessionName), snap.Payload, 0600)
	}
	onFatal := func(err error) {
		logger.Error("terminal connection condition", zap.Error(err))
		_ = sd.Shutdown()
	}
	return conn.NewManager(adapter, b, clk, saveCreds, onFatal, logger)
}

func providePipeline(db *store.DB, b *bus.Bus, clk clock.Clock, cfg *config.Config, logger *zap.Logger) *ingest.Pipeline {
	return ingest.New(db, b, clk, logger, cfg.Ingest.PreviewLength)
}

func provideImporter(db *store.DB, pipe *ingest.Pipeline, clk clock.Clock, cfg *config.Config, logger *zap.Logger) *backfill.Importer {
	return backfill.New(db, pipe, clk, logger, backfill.Options{
		IdleTimeout:  time.Duration(cfg.Backfill.IdleTimeoutSeconds) * time.Second,
		MaxWait:      time.Duration(cfg.Backfill.MaxWaitSeconds) * time.Second,
		SubBatchSize: cfg.Backfill.SubBatchSize,
	})
}

func provideAPIHandler(p Params, db *store.DB, mgr *conn.Manager, imp *backfill.Importer, b *bus.Bus, logger *zap.Logger) *api.Handler {
	status := func() (conn.State, int) { return mgr.State(), mgr.Attempts() }
	return api.NewHandler(db, status, imp, b, logger, p.SessionName)
}

func provideServer(p Params, h *api.Handler, cfg *config.Config, logger *zap.Logger) *Server {
	addr := p.ListenAddr
	if addr == "" {
		addr = cfg.API.ListenAddr
	}
	return NewServer(h, addr, logger)
}

// registerSubscriptions binds every ingestion path to the manager's
// persistent registry so a reconnect re-attaches all of them.
func registerSubscriptions(mgr *conn.Manager, pipe *ingest.Pipeline, imp *backfill.Importer, logger *zap.Logger) {
	mgr.RegisterPersistent(transport.KindMessages, func(evt transport.Event) {
		if batch, ok := evt.Payload.([]transport.MessageEvent); ok {
			pipe.IngestMessages(batch)
		}
	})
	mgr.RegisterPersistent(transport.KindChats, func(evt transport.Event) {
		if batch, ok := evt.Payload.([]transport.ChatDelta); ok {
			pipe.ApplyChatDeltas(batch)
		}
	})
	mgr.RegisterPersistent(transport.KindContacts, func(evt transport.Event) {
		if batch, ok := evt.Payload.([]transport.ContactDelta); ok {
			pipe.ApplyContactDeltas(batch)
		}
	})
	mgr.RegisterPersistent(transport.KindGroups, func(evt transport.Event) {
		if batch, ok := evt.Payload.([]transport.GroupDelta); ok {
			pipe.ApplyGroupDeltas(batch)
		}
	})
	mgr.RegisterPersistent(transport.KindMembership, func(evt transport.Event) {
		if change, ok := evt.Payload.(transport.MembershipChange); ok {
			if err := pipe.ApplyMembership(change); err != nil {
				logger.Error("apply membership", zap.Error(err))
			}
		}
	})
	mgr.RegisterPersistent(transport.KindFlags, func(evt transport.Event) {
		if change, ok := evt.Payload.(transport.MessageFlagChange); ok {
			if err := pipe.ApplyMessageFlags(change); err != nil {
				logger.Error("apply message flags", zap.Error(err))
			}
		}
	})
	mgr.RegisterPersistent(transport.KindHistory, func(evt transport.Event) {
		if batch, ok := evt.Payload.(transport.HistoryBatch); ok {
			if err := imp.HandleBatch(batch); err != nil {
				logger.Error("handle history batch", zap.Error(err))
			}
		}
	})
	mgr.RegisterPersistent(transport.KindState, func(evt transport.Event) {
		sc, ok := evt.Payload.(transport.StateChange)
		if !ok || sc.PairingChallenge == "" {
			return
		}
		fmt.Fprintf(os.Stderr, "\nScan this QR code with the phone:\n\n%s\n", wa.RenderQR(sc.PairingChallenge))
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, mgr *conn.Manager, pipe *ingest.Pipeline, imp *backfill.Importer, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			registerSubscriptions(mgr, pipe, imp, logger)
			imp.Start()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			go func() {
				if err := mgr.Connect(context.Background()); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mgr.Disconnect()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
