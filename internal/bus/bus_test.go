package bus

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event within a second")
		return Event{}
	}
}

func assertEmpty(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %q", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishReachesMatchingSubscriber(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("ingest.", 8)
	defer cancel()

	b.Publish(Event{Kind: KindMessageStored, Timestamp: time.Now()})

	if evt := recv(t, ch); evt.Kind != KindMessageStored {
		t.Errorf("kind = %q, want %q", evt.Kind, KindMessageStored)
	}
}

func TestPrefixFiltersOtherKinds(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("conn.", 8)
	defer cancel()

	b.Publish(Event{Kind: KindMessageStored})
	b.Publish(Event{Kind: KindStateChanged})

	if evt := recv(t, ch); evt.Kind != KindStateChanged {
		t.Errorf("kind = %q, want %q", evt.Kind, KindStateChanged)
	}
	assertEmpty(t, ch)
}

func TestEmptyPrefixMatchesEverything(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("", 8)
	defer cancel()

	b.Publish(Event{Kind: KindMessageStored})
	b.Publish(Event{Kind: KindStateChanged})

	if got := len(ch); got != 2 {
		t.Errorf("buffered events = %d, want 2", got)
	}
}

func TestCancelDetachesSubscriber(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("ingest.", 8)
	cancel()

	b.Publish(Event{Kind: KindMessageStored})
	assertEmpty(t, ch)
}

func TestStalledSubscriberDropsNotBlocks(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("ingest.", 1)
	defer cancel()

	b.Publish(Event{Kind: KindMessageStored, Payload: 1})
	b.Publish(Event{Kind: KindMessageStored, Payload: 2})

	if evt := recv(t, ch); evt.Payload != 1 {
		t.Errorf("payload = %v, want the first event kept", evt.Payload)
	}
	assertEmpty(t, ch)
}
