package normalize

import (
	"testing"
	"time"

	"github.com/matheus3301/chatvault/internal/transport"
)

var testNow = time.Unix(1700000000, 0)

func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		name    string
		content transport.RawContent
		want    Kind
	}{
		{"plain text", transport.RawContent{Conversation: "hi"}, KindText},
		{"extended text", transport.RawContent{ExtendedText: &transport.RawExtendedText{Text: "hi"}}, KindText},
		{"image", transport.RawContent{Image: &transport.RawMedia{Mimetype: "image/jpeg"}}, KindImage},
		// Media outranks plain text.
		{"image with conversation", transport.RawContent{Conversation: "caption", Image: &transport.RawMedia{}}, KindImage},
		{"video over audio", transport.RawContent{Video: &transport.RawMedia{}, Audio: &transport.RawMedia{}}, KindVideo},
		{"sticker", transport.RawContent{Sticker: &transport.RawMedia{}}, KindSticker},
		{"location", transport.RawContent{Location: &transport.RawLocation{Latitude: 1}}, KindLocation},
		{"contact card", transport.RawContent{ContactCard: &transport.RawContactCard{DisplayName: "A"}}, KindContactCard},
		{"contact list", transport.RawContent{ContactList: &transport.RawContactList{}}, KindContactCard},
		{"poll", transport.RawContent{Poll: &transport.RawPoll{Name: "lunch?"}}, KindPoll},
		{"poll update", transport.RawContent{PollUpdate: &transport.RawPollUpdate{}}, KindPoll},
		{"reaction", transport.RawContent{Reaction: &transport.RawReaction{Text: "👍"}}, KindReaction},
		{"system", transport.RawContent{System: &transport.RawSystem{StubType: 1}}, KindSystem},
		{"protocol", transport.RawContent{Protocol: &transport.RawProtocol{Type: 3}}, KindProtocol},
		{"empty", transport.RawContent{}, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.content); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFromEventSkipsProtocol(t *testing.T) {
	evt := transport.MessageEvent{
		ExternalID: "m1",
		ChatID:     "c@s.whatsapp.net",
		Content:    transport.RawContent{Protocol: &transport.RawProtocol{Type: 0}},
	}
	if m := FromEvent(evt, testNow); m != nil {
		t.Errorf("protocol payload normalized to %+v, want nil", m)
	}
}

func TestBodyFallbackChain(t *testing.T) {
	tests := []struct {
		name    string
		content transport.RawContent
		want    string
	}{
		{"conversation wins", transport.RawContent{Conversation: "a", ExtendedText: &transport.RawExtendedText{Text: "b"}}, "a"},
		{"extended text", transport.RawContent{ExtendedText: &transport.RawExtendedText{Text: "b"}}, "b"},
		{"image caption", transport.RawContent{Image: &transport.RawMedia{Caption: "pic"}}, "pic"},
		{"image caption before video", transport.RawContent{Image: &transport.RawMedia{Caption: "pic"}, Video: &transport.RawMedia{Caption: "vid"}}, "pic"},
		{"poll name", transport.RawContent{Poll: &transport.RawPoll{Name: "lunch?"}}, "lunch?"},
		{"reaction text", transport.RawContent{Reaction: &transport.RawReaction{Text: "👍"}}, "👍"},
		{"location name", transport.RawContent{Location: &transport.RawLocation{Name: "Office"}}, "Office"},
		{"no body", transport.RawContent{Audio: &transport.RawMedia{}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractBody(tt.content); got != tt.want {
				t.Errorf("extractBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	if got := NormalizeTimestamp(1650000000, nil, testNow); got != 1650000000 {
		t.Errorf("plain timestamp = %d, want 1650000000", got)
	}
	parts := &transport.TimestampParts{Low: 1650000001, High: 7}
	if got := NormalizeTimestamp(0, parts, testNow); got != 1650000001 {
		t.Errorf("split timestamp = %d, want low word 1650000001", got)
	}
	if got := NormalizeTimestamp(0, nil, testNow); got != testNow.Unix() {
		t.Errorf("missing timestamp = %d, want now fallback %d", got, testNow.Unix())
	}
}

func TestContextExtraction(t *testing.T) {
	evt := transport.MessageEvent{
		ExternalID: "m2",
		ChatID:     "c@s.whatsapp.net",
		Timestamp:  100,
		Content: transport.RawContent{
			Image: &transport.RawMedia{
				Caption: "look",
				Context: &transport.RawContext{
					QuotedExternalID: "m1",
					Mentions:         []string{"a@s.whatsapp.net"},
					ForwardingScore:  2,
				},
			},
		},
	}
	m := FromEvent(evt, testNow)
	if m == nil {
		t.Fatal("expected a normalized message")
	}
	if m.QuotedExternalID != "m1" {
		t.Errorf("quoted = %q, want m1", m.QuotedExternalID)
	}
	if len(m.Mentions) != 1 {
		t.Errorf("mentions = %v, want one entry", m.Mentions)
	}
	if !m.Forwarded {
		t.Error("forwarding score > 0 should mark forwarded")
	}
	if m.Kind != KindImage || m.Body != "look" {
		t.Errorf("kind=%q body=%q, want image/look", m.Kind, m.Body)
	}
}

func TestLocationExtraction(t *testing.T) {
	evt := transport.MessageEvent{
		ExternalID: "m3",
		ChatID:     "c@s.whatsapp.net",
		Timestamp:  100,
		Content: transport.RawContent{
			Location: &transport.RawLocation{Latitude: -23.55, Longitude: -46.63, Name: "HQ", Live: true},
		},
	}
	m := FromEvent(evt, testNow)
	if m == nil {
		t.Fatal("expected a normalized message")
	}
	if m.Latitude != -23.55 || m.Longitude != -46.63 {
		t.Errorf("coords = %v,%v", m.Latitude, m.Longitude)
	}
	if m.LocationName != "HQ" || !m.LocationLive {
		t.Errorf("name=%q live=%v, want HQ/true", m.LocationName, m.LocationLive)
	}
}

func TestPreview(t *testing.T) {
	long := &Message{Kind: KindText, Body: "0123456789"}
	if got := Preview(long, 5); got != "01234" {
		t.Errorf("Preview = %q, want 01234", got)
	}
	short := &Message{Kind: KindText, Body: "hi"}
	if got := Preview(short, 5); got != "hi" {
		t.Errorf("Preview = %q, want hi", got)
	}
	empty := &Message{Kind: KindSticker}
	if got := Preview(empty, 5); got != "[sticker]" {
		t.Errorf("Preview = %q, want [sticker]", got)
	}
}
