package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatvault/internal/bus"
	"github.com/matheus3301/chatvault/internal/conn"
	"github.com/matheus3301/chatvault/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *store.DB) {
	t.Helper()
	h, db, _ := newTestHandlerWithBus(t)
	return h, db
}

func newTestHandlerWithBus(t *testing.T) (*Handler, *store.DB, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	b := bus.New()
	status := func() (conn.State, int) { return conn.Open, 0 }
	return NewHandler(db, status, nil, b, zap.NewNop(), "main"), db, b
}

func doRequest(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return w, body
}

func TestStatusEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	w, body := doRequest(t, h, "/v1/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	connInfo, ok := body["connection"].(map[string]any)
	if !ok {
		t.Fatalf("missing connection block: %v", body)
	}
	if connInfo["state"] != "OPEN" {
		t.Errorf("state = %v, want OPEN", connInfo["state"])
	}
	if body["session"] != "main" {
		t.Errorf("session = %v, want main", body["session"])
	}
}

func TestListChatsAndMessages(t *testing.T) {
	h, db := newTestHandler(t)

	chat, err := db.FindOrCreateChat("c@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertMessage(&store.Message{
		ExternalID: "m1", ChatID: chat.ID, Kind: "text", Body: "hello", Timestamp: 1000,
	}, "hello"); err != nil {
		t.Fatal(err)
	}

	w, body := doRequest(t, h, "/v1/chats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	chats, ok := body["chats"].([]any)
	if !ok || len(chats) != 1 {
		t.Fatalf("chats = %v, want one entry", body["chats"])
	}

	w, body = doRequest(t, h, "/v1/chats/1/messages")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("messages = %v, want one entry", body["messages"])
	}
}

func TestListMessagesBadChatID(t *testing.T) {
	h, _ := newTestHandler(t)
	w, _ := doRequest(t, h, "/v1/chats/nope/messages")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	h, _ := newTestHandler(t)
	w, _ := doRequest(t, h, "/v1/search")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSearchFindsMessage(t *testing.T) {
	h, db := newTestHandler(t)

	chat, err := db.FindOrCreateChat("c@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertMessage(&store.Message{
		ExternalID: "m1", ChatID: chat.ID, Kind: "text", Body: "needle in haystack", Timestamp: 1000,
	}, "needle in haystack"); err != nil {
		t.Fatal(err)
	}

	w, body := doRequest(t, h, "/v1/search?q=needle")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	results, ok := body["results"].([]any)
	if !ok || len(results) != 1 {
		t.Fatalf("results = %v, want one entry", body["results"])
	}
}

func TestWatchEventsStreamsStoredMessages(t *testing.T) {
	h, _, b := newTestHandlerWithBus(t)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	ctx, cancelReq := context.WithCancel(context.Background())
	defer cancelReq()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events?ns=ingest.", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Publish until the stream picks one up; the subscription is only
	// live once the handler is running.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				b.Publish(bus.Event{
					Kind:      bus.KindMessageStored,
					Timestamp: time.Now(),
					Payload:   map[string]string{"external_id": "m1"},
				})
			}
		}
	}()

	guard := time.AfterFunc(5*time.Second, cancelReq)
	defer guard.Stop()
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended before an event arrived: %v", err)
		}
		if strings.Contains(line, bus.KindMessageStored) {
			break
		}
	}
}

func TestGroupNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	w, _ := doRequest(t, h, "/v1/groups/42")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
