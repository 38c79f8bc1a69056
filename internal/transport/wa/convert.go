package wa

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/matheus3301/chatvault/internal/transport"
)

func jidStrings(jids []types.JID) []string {
	out := make([]string, 0, len(jids))
	for _, j := range jids {
		out = append(out, j.ToNonAD().String())
	}
	return out
}

func convertLiveMessage(evt *events.Message) transport.MessageEvent {
	return transport.MessageEvent{
		ExternalID: evt.Info.ID,
		ChatID:     evt.Info.Chat.String(),
		SenderID:   evt.Info.Sender.ToNonAD().String(),
		PushName:   evt.Info.PushName,
		FromMe:     evt.Info.IsFromMe,
		Timestamp:  evt.Info.Timestamp.Unix(),
		Content:    convertContent(evt.Message),
	}
}

// convertContent maps the waE2E protobuf onto the tagged content union.
// Wrapped ephemeral and view-once messages are unwrapped first so the
// inner payload classifies normally.
func convertContent(msg *waE2E.Message) transport.RawContent {
	if msg == nil {
		return transport.RawContent{}
	}
	if eph := msg.GetEphemeralMessage(); eph != nil && eph.GetMessage() != nil {
		msg = eph.GetMessage()
	}
	if vo := msg.GetViewOnceMessage(); vo != nil && vo.GetMessage() != nil {
		msg = vo.GetMessage()
	} else if vo2 := msg.GetViewOnceMessageV2(); vo2 != nil && vo2.GetMessage() != nil {
		msg = vo2.GetMessage()
	}

	var c transport.RawContent
	c.Conversation = msg.GetConversation()
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		c.ExtendedText = &transport.RawExtendedText{
			Text:    ext.GetText(),
			Context: convertContext(ext.GetContextInfo()),
		}
	}
	if img := msg.GetImageMessage(); img != nil {
		c.Image = &transport.RawMedia{
			Caption:  img.GetCaption(),
			Mimetype: img.GetMimetype(),
			FileSize: int64(img.GetFileLength()),
			Width:    int(img.GetWidth()),
			Height:   int(img.GetHeight()),
			Context:  convertContext(img.GetContextInfo()),
		}
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		c.Video = &transport.RawMedia{
			Caption:  vid.GetCaption(),
			Mimetype: vid.GetMimetype(),
			FileSize: int64(vid.GetFileLength()),
			Width:    int(vid.GetWidth()),
			Height:   int(vid.GetHeight()),
			Seconds:  int(vid.GetSeconds()),
			Context:  convertContext(vid.GetContextInfo()),
		}
	}
	if aud := msg.GetAudioMessage(); aud != nil {
		c.Audio = &transport.RawMedia{
			Mimetype: aud.GetMimetype(),
			FileSize: int64(aud.GetFileLength()),
			Seconds:  int(aud.GetSeconds()),
			Context:  convertContext(aud.GetContextInfo()),
		}
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		c.Document = &transport.RawMedia{
			Caption:  doc.GetCaption(),
			Mimetype: doc.GetMimetype(),
			FileName: doc.GetFileName(),
			FileSize: int64(doc.GetFileLength()),
			Context:  convertContext(doc.GetContextInfo()),
		}
	}
	if stk := msg.GetStickerMessage(); stk != nil {
		c.Sticker = &transport.RawMedia{
			Mimetype: stk.GetMimetype(),
			FileSize: int64(stk.GetFileLength()),
			Width:    int(stk.GetWidth()),
			Height:   int(stk.GetHeight()),
			Context:  convertContext(stk.GetContextInfo()),
		}
	}
	if loc := msg.GetLocationMessage(); loc != nil {
		c.Location = &transport.RawLocation{
			Latitude:  loc.GetDegreesLatitude(),
			Longitude: loc.GetDegreesLongitude(),
			Name:      loc.GetName(),
			Address:   loc.GetAddress(),
			Context:   convertContext(loc.GetContextInfo()),
		}
	} else if live := msg.GetLiveLocationMessage(); live != nil {
		c.Location = &transport.RawLocation{
			Latitude:  live.GetDegreesLatitude(),
			Longitude: live.GetDegreesLongitude(),
			Caption:   live.GetCaption(),
			Live:      true,
			Context:   convertContext(live.GetContextInfo()),
		}
	}
	if card := msg.GetContactMessage(); card != nil {
		c.ContactCard = &transport.RawContactCard{
			DisplayName: card.GetDisplayName(),
			VCard:       card.GetVcard(),
			Context:     convertContext(card.GetContextInfo()),
		}
	}
	if arr := msg.GetContactsArrayMessage(); arr != nil {
		list := &transport.RawContactList{
			DisplayName: arr.GetDisplayName(),
			Context:     convertContext(arr.GetContextInfo()),
		}
		for _, card := range arr.GetContacts() {
			list.Cards = append(list.Cards, transport.RawContactCard{
				DisplayName: card.GetDisplayName(),
				VCard:       card.GetVcard(),
			})
		}
		c.ContactList = list
	}
	if poll := pickPollCreation(msg); poll != nil {
		p := &transport.RawPoll{
			Name:            poll.GetName(),
			SelectableCount: int(poll.GetSelectableOptionsCount()),
			Context:         convertContext(poll.GetContextInfo()),
		}
		for _, opt := range poll.GetOptions() {
			p.Options = append(p.Options, opt.GetOptionName())
		}
		c.Poll = p
	}
	if vote := msg.GetPollUpdateMessage(); vote != nil {
		c.PollUpdate = &transport.RawPollUpdate{
			PollExternalID: vote.GetPollCreationMessageKey().GetID(),
		}
	}
	if rm := msg.GetReactionMessage(); rm != nil {
		c.Reaction = &transport.RawReaction{
			Text:             rm.GetText(),
			TargetExternalID: rm.GetKey().GetID(),
		}
	}
	if pm := msg.GetProtocolMessage(); pm != nil {
		c.Protocol = &transport.RawProtocol{Type: int(pm.GetType())}
	}
	return c
}

func pickPollCreation(msg *waE2E.Message) *waE2E.PollCreationMessage {
	if p := msg.GetPollCreationMessage(); p != nil {
		return p
	}
	if p := msg.GetPollCreationMessageV2(); p != nil {
		return p
	}
	if p := msg.GetPollCreationMessageV3(); p != nil {
		return p
	}
	return nil
}

func convertContext(ctx *waE2E.ContextInfo) *transport.RawContext {
	if ctx == nil {
		return nil
	}
	out := &transport.RawContext{
		QuotedExternalID: ctx.GetStanzaID(),
		QuotedSenderID:   ctx.GetParticipant(),
		Mentions:         ctx.GetMentionedJID(),
		Forwarded:        ctx.GetIsForwarded(),
		ForwardingScore:  int(ctx.GetForwardingScore()),
	}
	if out.QuotedExternalID == "" && len(out.Mentions) == 0 && !out.Forwarded && out.ForwardingScore == 0 {
		return nil
	}
	return out
}

// convertHistorySync flattens one history sync delivery into a batch.
// The progress field only reaches 100 on the final delivery, which is
// the feed's completion signal.
func convertHistorySync(evt *events.HistorySync) transport.HistoryBatch {
	batch := transport.HistoryBatch{}
	data := evt.Data
	if data == nil {
		return batch
	}
	batch.IsLatest = data.GetProgress() >= 100

	for _, pn := range data.GetPushnames() {
		if pn.GetID() == "" {
			continue
		}
		name := pn.GetPushname()
		batch.Contacts = append(batch.Contacts, transport.ContactDelta{
			ID:       pn.GetID(),
			PushName: &name,
		})
	}

	for _, conv := range data.GetConversations() {
		chatID := conv.GetID()
		if chatID == "" {
			continue
		}
		batch.Chats = append(batch.Chats, transport.ChatSnapshot{
			ID:                chatID,
			Name:              conv.GetDisplayName(),
			Archived:          conv.GetArchived(),
			Pinned:            int64(conv.GetPinned()),
			MutedUntil:        int64(conv.GetMuteEndTime()),
			EphemeralDuration: int64(conv.GetEphemeralExpiration()),
		})

		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			sender := wmsg.GetKey().GetParticipant()
			if sender == "" && !wmsg.GetKey().GetFromMe() {
				sender = chatID
			}
			batch.Messages = append(batch.Messages, transport.MessageEvent{
				ExternalID: wmsg.GetKey().GetID(),
				ChatID:     chatID,
				SenderID:   sender,
				PushName:   wmsg.GetPushName(),
				FromMe:     wmsg.GetKey().GetFromMe(),
				Starred:    wmsg.GetStarred(),
				Timestamp:  int64(wmsg.GetMessageTimestamp()),
				Content:    convertContent(wmsg.GetMessage()),
			})
		}
	}
	return batch
}
