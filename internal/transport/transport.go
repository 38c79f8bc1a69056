// Package transport defines the contract between chatvault and the
// messaging backend. The daemon never talks to a protocol library
// directly: it consumes typed events from a Transport and hands back
// nothing but a credential snapshot when asked to persist one.
package transport

import "context"

// Kind identifies an event stream emitted by a Transport.
type Kind string

const (
	KindCredentials Kind = "credentials.updated"
	KindState       Kind = "connection.state"
	KindMessages    Kind = "messages.received"
	KindChats       Kind = "chats.changed"
	KindContacts    Kind = "contacts.changed"
	KindGroups      Kind = "group.changed"
	KindMembership  Kind = "group.membership"
	KindFlags       Kind = "message.flags"
	KindHistory     Kind = "history.batch"
)

// Handler receives one event. Handlers for different kinds may run
// concurrently; the store's unique-key semantics make that safe.
type Handler func(evt Event)

// Event is a single delivery from the transport. Payload holds one of
// the typed structs below depending on Kind.
type Event struct {
	Kind    Kind
	Payload any
}

// Transport is a single messaging session. Handlers registered with On
// are attached to the current session instance only and are dropped
// when the session closes; re-attaching across reconnects is the
// connection manager's job.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	On(kind Kind, h Handler)
}

// ConnState describes the transport connection status.
type ConnState string

const (
	ConnOpen    ConnState = "open"
	ConnClosed  ConnState = "closed"
	ConnPairing ConnState = "pairing"
)

// CloseReason explains why a session closed.
type CloseReason string

const (
	ReasonNone      CloseReason = ""
	ReasonNetwork   CloseReason = "network"
	ReasonReplaced  CloseReason = "stream_replaced"
	ReasonLoggedOut CloseReason = "logged_out"
)

// StateChange is the payload for KindState events.
type StateChange struct {
	State            ConnState
	Reason           CloseReason
	PairingChallenge string
}

// CredentialSnapshot is the payload for KindCredentials events. The
// transport emits one whenever session credentials change; the caller
// must persist every snapshot, losing one can lock the session out.
type CredentialSnapshot struct {
	DeviceID string
	Payload  []byte
}
