// Package wa is the WhatsApp implementation of transport.Transport,
// built on whatsmeow. It owns the protocol session database and
// translates whatsmeow events into the typed payloads the ingestion
// side consumes.
package wa

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/matheus3301/chatvault/internal/transport"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client behind the transport contract.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	log       *zap.Logger

	mu       sync.Mutex
	handlers map[transport.Kind][]transport.Handler
}

// NewAdapter creates an adapter backed by the protocol session database
// at dbPath.
func NewAdapter(ctx context.Context, dbPath string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("ChatVault", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)
	// The connection manager owns reconnects; the client must not race
	// it with its own redials.
	client.EnableAutoReconnect = false

	a := &Adapter{
		client:    client,
		container: container,
		log:       logger,
		handlers:  make(map[transport.Kind][]transport.Handler),
	}
	a.client.AddEventHandler(a.handle)
	return a, nil
}

// IsLoggedIn reports whether the session database holds credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// On registers a handler for the current session instance. Handlers
// are dropped when the session closes, whether by Disconnect or by the
// transport going away; the connection manager re-attaches its
// registry on every connect.
func (a *Adapter) On(kind transport.Kind, h transport.Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[kind] = append(a.handlers[kind], h)
}

// Connect opens the session. When no credentials exist yet it runs the
// QR pairing flow first, surfacing each challenge as a pairing state
// event, and blocks until pairing succeeds or times out.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.IsLoggedIn() {
		a.log.Info("connecting with stored credentials")
		return a.client.Connect()
	}
	return a.pair(ctx)
}

func (a *Adapter) pair(ctx context.Context) error {
	// GetQRChannel must be called before Connect.
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("connect for pairing: %w", err)
	}

	for item := range qrChan {
		switch item.Event {
		case "code":
			a.log.Info("pairing challenge received, scan the QR code")
			a.emit(transport.KindState, transport.StateChange{
				State:            transport.ConnPairing,
				PairingChallenge: item.Code,
			})
		case "success":
			a.log.Info("pairing complete")
			return nil
		case "timeout":
			return fmt.Errorf("pairing timed out")
		default:
			if item.Error != nil {
				return fmt.Errorf("pairing failed: %w", item.Error)
			}
		}
	}
	return fmt.Errorf("pairing channel closed before success")
}

// Disconnect closes the session and drops all registered handlers.
func (a *Adapter) Disconnect() {
	a.client.Disconnect()
	a.dropHandlers()
	a.log.Info("transport session closed")
}

func (a *Adapter) dropHandlers() {
	a.mu.Lock()
	a.handlers = make(map[transport.Kind][]transport.Handler)
	a.mu.Unlock()
}

// Logout revokes the stored credentials upstream.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

func (a *Adapter) emit(kind transport.Kind, payload any) {
	a.mu.Lock()
	hs := append([]transport.Handler(nil), a.handlers[kind]...)
	a.mu.Unlock()
	for _, h := range hs {
		h(transport.Event{Kind: kind, Payload: payload})
	}
}

// handle translates whatsmeow events into transport payloads.
func (a *Adapter) handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		a.emit(transport.KindMessages, []transport.MessageEvent{convertLiveMessage(evt)})

	case *events.HistorySync:
		batch := convertHistorySync(evt)
		a.emit(transport.KindHistory, batch)

	case *events.Connected:
		a.emit(transport.KindState, transport.StateChange{State: transport.ConnOpen})
		a.emitCredentials()

	case *events.PairSuccess:
		a.emitCredentials()

	case *events.Disconnected:
		a.emit(transport.KindState, transport.StateChange{
			State:  transport.ConnClosed,
			Reason: transport.ReasonNetwork,
		})
		// The session is gone; its handlers go with it so the next
		// connect cannot stack a second copy.
		a.dropHandlers()

	case *events.StreamReplaced:
		a.log.Warn("stream replaced by another client")
		a.emit(transport.KindState, transport.StateChange{
			State:  transport.ConnClosed,
			Reason: transport.ReasonReplaced,
		})
		a.dropHandlers()

	case *events.LoggedOut:
		a.log.Warn("logged out by server", zap.String("reason", evt.Reason.String()))
		a.emit(transport.KindState, transport.StateChange{
			State:  transport.ConnClosed,
			Reason: transport.ReasonLoggedOut,
		})
		a.dropHandlers()

	case *events.PushName:
		name := evt.NewPushName
		a.emit(transport.KindContacts, []transport.ContactDelta{{
			ID:       evt.JID.ToNonAD().String(),
			PushName: &name,
		}})

	case *events.Contact:
		name := evt.Action.GetFullName()
		a.emit(transport.KindContacts, []transport.ContactDelta{{
			ID:   evt.JID.ToNonAD().String(),
			Name: &name,
		}})

	case *events.GroupInfo:
		a.handleGroupInfo(evt)

	case *events.JoinedGroup:
		a.handleJoinedGroup(evt)

	case *events.Archive:
		archived := evt.Action.GetArchived()
		a.emit(transport.KindChats, []transport.ChatDelta{{
			ID:       evt.JID.String(),
			Archived: &archived,
		}})

	case *events.Pin:
		var pinned int64
		if evt.Action.GetPinned() {
			pinned = evt.Timestamp.Unix()
		}
		a.emit(transport.KindChats, []transport.ChatDelta{{
			ID:     evt.JID.String(),
			Pinned: &pinned,
		}})

	case *events.Mute:
		var mutedUntil int64
		if evt.Action.GetMuted() {
			mutedUntil = evt.Action.GetMuteEndTimestamp()
		}
		a.emit(transport.KindChats, []transport.ChatDelta{{
			ID:         evt.JID.String(),
			MutedUntil: &mutedUntil,
		}})

	case *events.Star:
		starred := evt.Action.GetStarred()
		a.emit(transport.KindFlags, transport.MessageFlagChange{
			ExternalID: evt.MessageID,
			ChatID:     evt.ChatJID.String(),
			Starred:    &starred,
		})

	case *events.DeleteForMe:
		deleted := true
		a.emit(transport.KindFlags, transport.MessageFlagChange{
			ExternalID: evt.MessageID,
			ChatID:     evt.ChatJID.String(),
			Deleted:    &deleted,
		})
	}
}

func (a *Adapter) handleGroupInfo(evt *events.GroupInfo) {
	delta := transport.GroupDelta{ChatID: evt.JID.String()}
	if evt.Name != nil {
		subject := evt.Name.Name
		delta.Subject = &subject
	}
	if evt.Topic != nil {
		desc := evt.Topic.Topic
		delta.Description = &desc
	}
	if evt.Announce != nil {
		announce := evt.Announce.IsAnnounce
		delta.AnnounceOnly = &announce
	}
	if evt.Locked != nil {
		locked := evt.Locked.IsLocked
		delta.Restricted = &locked
	}
	if evt.Ephemeral != nil {
		dur := int64(evt.Ephemeral.DisappearingTimer)
		delta.EphemeralDuration = &dur
	}
	a.emit(transport.KindGroups, []transport.GroupDelta{delta})

	ts := evt.Timestamp.Unix()
	for action, jids := range map[transport.MembershipAction][]string{
		transport.MembershipAdd:     jidStrings(evt.Join),
		transport.MembershipRemove:  jidStrings(evt.Leave),
		transport.MembershipPromote: jidStrings(evt.Promote),
		transport.MembershipDemote:  jidStrings(evt.Demote),
	} {
		if len(jids) == 0 {
			continue
		}
		a.emit(transport.KindMembership, transport.MembershipChange{
			ChatID:       evt.JID.String(),
			Action:       action,
			Participants: jids,
			Timestamp:    ts,
		})
	}
}

func (a *Adapter) handleJoinedGroup(evt *events.JoinedGroup) {
	subject := evt.Name
	owner := evt.OwnerJID.ToNonAD().String()
	announce := evt.IsAnnounce
	locked := evt.IsLocked
	delta := transport.GroupDelta{
		ChatID:       evt.JID.String(),
		Subject:      &subject,
		OwnerID:      &owner,
		AnnounceOnly: &announce,
		Restricted:   &locked,
	}
	a.emit(transport.KindGroups, []transport.GroupDelta{delta})

	var members []string
	for _, p := range evt.Participants {
		members = append(members, p.JID.ToNonAD().String())
	}
	if len(members) > 0 {
		a.emit(transport.KindMembership, transport.MembershipChange{
			ChatID:       evt.JID.String(),
			Action:       transport.MembershipAdd,
			Participants: members,
		})
	}
}

// emitCredentials publishes a snapshot identifying the paired device.
// whatsmeow keeps the actual key material in the session database; the
// snapshot binds the archive to the device so a mismatch is detectable.
func (a *Adapter) emitCredentials() {
	id := a.client.Store.ID
	if id == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"device_id": id.String(),
		"push_name": a.client.Store.PushName,
		"platform":  a.client.Store.Platform,
	})
	if err != nil {
		return
	}
	a.emit(transport.KindCredentials, transport.CredentialSnapshot{
		DeviceID: id.String(),
		Payload:  payload,
	})
}
