package bus

import "time"

// Event kinds published by the daemon.
const (
	// KindMessageStored fires once per newly persisted message,
	// never for duplicates.
	KindMessageStored = "ingest.message_stored"
	// KindStateChanged fires on every connection lifecycle
	// transition.
	KindStateChanged = "conn.state_changed"
)

// Event is one domain notification.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
