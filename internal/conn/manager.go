// Package conn owns the single live transport session: it establishes
// it, keeps a registry of event subscriptions that survive reconnects,
// and retries transient failures with bounded exponential backoff.
package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatvault/internal/bus"
	"github.com/matheus3301/chatvault/internal/clock"
	"github.com/matheus3301/chatvault/internal/transport"
)

const (
	maxAttempts = 10
	baseDelay   = time.Second
	maxDelay    = 60 * time.Second
)

var (
	// ErrLoggedOut means the server revoked the session's credentials.
	// Reconnecting cannot help; the session must be re-paired.
	ErrLoggedOut = errors.New("session logged out by server")

	// ErrRetryBudgetExhausted means the reconnect attempt cap was hit
	// without reaching an open connection.
	ErrRetryBudgetExhausted = errors.New("reconnect attempt budget exhausted")
)

// SaveCredentialsFunc persists one credential snapshot. It is invoked
// on every update, with no batching: a dropped snapshot can lock the
// session out permanently.
type SaveCredentialsFunc func(transport.CredentialSnapshot) error

type subscription struct {
	kind    transport.Kind
	handler transport.Handler
}

// Manager is the connection lifecycle manager. All mutation of the
// session handle and the subscription registry goes through it.
type Manager struct {
	t         transport.Transport
	machine   *machine
	clk       clock.Clock
	saveCreds SaveCredentialsFunc
	onFatal   func(error)
	logger    *zap.Logger

	mu         sync.Mutex
	subs       []subscription
	connecting bool
	attempts   int
	pending    clock.Timer
}

// NewManager creates a manager around the given transport. onFatal is
// called (at most once per terminal condition) with ErrLoggedOut or
// ErrRetryBudgetExhausted; it may be nil.
func NewManager(t transport.Transport, b *bus.Bus, clk clock.Clock, saveCreds SaveCredentialsFunc, onFatal func(error), logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		t:         t,
		machine:   newMachine(b),
		clk:       clk,
		saveCreds: saveCreds,
		onFatal:   onFatal,
		logger:    logger,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return m.machine.Current()
}

// Attempts returns the current reconnect attempt counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// RegisterPersistent adds an event subscription that is re-attached to
// every connection instance the manager establishes. If a connection
// is already open the handler is attached immediately as well.
func (m *Manager) RegisterPersistent(kind transport.Kind, h transport.Handler) {
	m.mu.Lock()
	m.subs = append(m.subs, subscription{kind: kind, handler: h})
	open := m.machine.Current() == Open
	m.mu.Unlock()

	if open {
		m.t.On(kind, h)
	}
}

// Connect establishes the transport session. If an attempt is already
// in flight, or the connection is already open, it returns nil without
// starting a second one.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	cur := m.machine.Current()
	if m.connecting || cur == Open {
		m.mu.Unlock()
		return nil
	}
	if cur == LoggedOut {
		m.mu.Unlock()
		return ErrLoggedOut
	}
	m.connecting = true
	m.mu.Unlock()

	_ = m.machine.Transition(Connecting)

	// Attach before dialing so events delivered during session setup
	// are not lost.
	m.t.On(transport.KindState, m.handleState)
	m.t.On(transport.KindCredentials, m.handleCredentials)
	m.applySubscriptions()

	if err := m.t.Connect(ctx); err != nil {
		// The handlers attached for this attempt die with it, so the
		// next dial starts from a clean registry instead of stacking
		// another copy on top.
		m.t.Disconnect()
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
		m.logger.Warn("connect failed", zap.Error(err))
		m.scheduleReconnect()
		return err
	}

	m.mu.Lock()
	m.connecting = false
	m.attempts = 0
	m.mu.Unlock()
	_ = m.machine.Transition(Open)
	m.logger.Info("transport connected")
	return nil
}

// Disconnect shuts the session down gracefully. Safe to call at any
// time, including when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.cancelPendingLocked()
	m.connecting = false
	m.attempts = 0
	m.mu.Unlock()

	switch m.machine.Current() {
	case Open:
		_ = m.machine.Transition(Closing)
		m.t.Disconnect()
		_ = m.machine.Transition(Idle)
		m.logger.Info("transport disconnected")
	case Connecting, Reconnecting:
		m.t.Disconnect()
		_ = m.machine.Transition(Idle)
	}
}

func (m *Manager) applySubscriptions() {
	m.mu.Lock()
	subs := make([]subscription, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, s := range subs {
		m.t.On(s.kind, s.handler)
	}
}

func (m *Manager) handleCredentials(evt transport.Event) {
	snap, ok := evt.Payload.(transport.CredentialSnapshot)
	if !ok {
		return
	}
	if m.saveCreds == nil {
		return
	}
	if err := m.saveCreds(snap); err != nil {
		m.logger.Error("failed to persist credential snapshot",
			zap.String("device_id", snap.DeviceID), zap.Error(err))
	}
}

func (m *Manager) handleState(evt transport.Event) {
	sc, ok := evt.Payload.(transport.StateChange)
	if !ok {
		return
	}
	switch sc.State {
	case transport.ConnPairing:
		m.logger.Info("pairing challenge received")
	case transport.ConnClosed:
		m.handleClosed(sc.Reason)
	}
}

func (m *Manager) handleClosed(reason transport.CloseReason) {
	if reason == transport.ReasonLoggedOut {
		m.mu.Lock()
		m.cancelPendingLocked()
		m.connecting = false
		m.mu.Unlock()
		_ = m.machine.Transition(LoggedOut)
		m.logger.Error("logged out by server, not reconnecting")
		m.fatal(ErrLoggedOut)
		return
	}
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.machine.Current() == LoggedOut || m.pending != nil {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempt := m.attempts
	if attempt > maxAttempts {
		m.mu.Unlock()
		_ = m.machine.Transition(Idle)
		m.logger.Error("giving up after repeated reconnect failures",
			zap.Int("attempts", maxAttempts))
		m.fatal(ErrRetryBudgetExhausted)
		return
	}
	delay := backoffDelay(attempt)
	m.pending = m.clk.AfterFunc(delay, m.reconnectNow)
	m.mu.Unlock()

	_ = m.machine.Transition(Reconnecting)
	m.logger.Warn("connection closed, reconnect scheduled",
		zap.Int("attempt", attempt), zap.Duration("delay", delay))
}

func (m *Manager) reconnectNow() {
	m.mu.Lock()
	m.pending = nil
	skip := m.machine.Current() != Reconnecting
	m.mu.Unlock()
	if skip {
		// Terminal transition or explicit disconnect happened while
		// the timer was armed.
		return
	}
	_ = m.Connect(context.Background())
}

func (m *Manager) cancelPendingLocked() {
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}

func (m *Manager) fatal(err error) {
	if m.onFatal != nil {
		m.onFatal(err)
	}
}

// backoffDelay returns min(baseDelay * 2^attempt, maxDelay).
func backoffDelay(attempt int) time.Duration {
	if attempt > 6 {
		return maxDelay
	}
	d := baseDelay << uint(attempt)
	if d > maxDelay {
		d = maxDelay
	}
	return d
}
