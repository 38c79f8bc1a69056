// Package api exposes the read-only query surface over the archive:
// chats, messages, search, groups and daemon status.
package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/chatvault/internal/backfill"
	"github.com/matheus3301/chatvault/internal/bus"
	"github.com/matheus3301/chatvault/internal/conn"
	"github.com/matheus3301/chatvault/internal/store"
)

// StatusFunc reports the current connection state and attempt counter.
type StatusFunc func() (conn.State, int)

// Handler serves the HTTP query API.
type Handler struct {
	db       *store.DB
	status   StatusFunc
	importer *backfill.Importer
	bus      *bus.Bus
	log      *zap.Logger
	session  string
}

// NewHandler builds the API handler. importer may be nil when no
// backfill run is active.
func NewHandler(db *store.DB, status StatusFunc, importer *backfill.Importer, b *bus.Bus, log *zap.Logger, session string) *Handler {
	return &Handler{db: db, status: status, importer: importer, bus: b, log: log, session: session}
}

// Router builds the gin engine with all routes mounted.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), h.requestID)

	v1 := r.Group("/v1")
	v1.GET("/status", h.getStatus)
	v1.GET("/chats", h.listChats)
	v1.GET("/chats/:id/messages", h.listMessages)
	v1.GET("/groups/:id", h.getGroup)
	v1.GET("/search", h.search)
	v1.GET("/events", h.watchEvents)
	return r
}

func (h *Handler) requestID(c *gin.Context) {
	c.Header("X-Request-ID", uuid.NewString())
	c.Next()
}

func (h *Handler) getStatus(c *gin.Context) {
	state, attempts := h.status()

	counts := gin.H{}
	if n, err := h.db.ChatCount(); err == nil {
		counts["chats"] = n
	}
	if n, err := h.db.ContactCount(); err == nil {
		counts["contacts"] = n
	}
	if n, err := h.db.MessageCount(); err == nil {
		counts["messages"] = n
	}

	resp := gin.H{
		"session":    h.session,
		"connection": gin.H{"state": state, "reconnect_attempts": attempts},
		"counts":     counts,
	}
	if h.importer != nil {
		p := h.importer.Progress()
		resp["backfill"] = gin.H{
			"run_id":   h.importer.RunID(),
			"batches":  p.Batches,
			"messages": p.Messages,
			"complete": p.Complete,
			"reason":   p.Reason,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listChats(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	chats, err := h.db.ListChats(limit, offset)
	if err != nil {
		h.log.Error("list chats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}

	type chatResponse struct {
		ID            int64  `json:"id"`
		ExternalID    string `json:"external_id"`
		Kind          string `json:"kind"`
		Name          string `json:"name"`
		Archived      bool   `json:"archived"`
		Pinned        bool   `json:"pinned"`
		Muted         bool   `json:"muted"`
		LastMessageAt int64  `json:"last_message_at"`
		Preview       string `json:"preview"`
		MessageCount  int64  `json:"message_count"`
	}
	responses := make([]chatResponse, 0, len(chats))
	for _, chat := range chats {
		responses = append(responses, chatResponse{
			ID:            chat.ID,
			ExternalID:    chat.ExternalID,
			Kind:          string(chat.Kind),
			Name:          chat.Name,
			Archived:      chat.Archived,
			Pinned:        chat.Pinned,
			Muted:         chat.Muted,
			LastMessageAt: chat.LastMessageAt,
			Preview:       chat.LastMessagePreview,
			MessageCount:  chat.TotalMessageCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"chats": responses})
}

func (h *Handler) listMessages(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	limit := intQuery(c, "limit", 50)
	before := int64(intQuery(c, "before", 0))

	msgs, err := h.db.ListMessages(chatID, before, limit)
	if err != nil {
		h.log.Error("list messages", zap.Int64("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messageResponses(msgs)})
}

func (h *Handler) getGroup(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	g, err := h.db.GetGroupByChatID(chatID)
	if err != nil {
		h.log.Error("get group", zap.Int64("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load group"})
		return
	}
	if g == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}
	parts, err := h.db.ListParticipants(g.ID, false)
	if err != nil {
		h.log.Error("list participants", zap.Int64("group_id", g.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}

	type participantResponse struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		AddedAt int64  `json:"added_at"`
	}
	members := make([]participantResponse, 0, len(parts))
	for _, p := range parts {
		members = append(members, participantResponse{
			ID:      p.ParticipantID,
			Role:    string(p.Role),
			AddedAt: p.AddedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"group": gin.H{
			"chat_id":       g.ChatID,
			"subject":       g.Subject,
			"owner_id":      g.OwnerID,
			"description":   g.Description,
			"announce_only": g.AnnounceOnly,
			"restricted":    g.Restricted,
		},
		"participants": members,
	})
}

func (h *Handler) search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
		return
	}
	chatID := int64(intQuery(c, "chat_id", 0))
	limit := intQuery(c, "limit", 50)

	results, err := h.db.SearchMessages(query, chatID, limit)
	if err != nil {
		h.log.Error("search", zap.String("query", query), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	type searchResponse struct {
		Message messageResponse `json:"message"`
		Snippet string          `json:"snippet"`
	}
	responses := make([]searchResponse, 0, len(results))
	for _, r := range results {
		responses = append(responses, searchResponse{
			Message: toMessageResponse(r.Message),
			Snippet: r.Snippet,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": responses})
}

// watchEvents streams bus events to the client as server-sent events
// until it disconnects. ns narrows the feed to kinds with the given
// prefix; empty means everything.
func (h *Handler) watchEvents(c *gin.Context) {
	ch, cancel := h.bus.Subscribe(c.Query("ns"), 256)
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case evt := <-ch:
			c.SSEvent(evt.Kind, evt.Payload)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type messageResponse struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`
	ChatID     int64  `json:"chat_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	FromMe     bool   `json:"from_me"`
	Kind       string `json:"kind"`
	Body       string `json:"body"`
	Starred    bool   `json:"starred"`
	Deleted    bool   `json:"deleted"`
	Timestamp  int64  `json:"timestamp"`
}

func toMessageResponse(m store.Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		ExternalID: m.ExternalID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		FromMe:     m.FromMe,
		Kind:       m.Kind,
		Body:       m.Body,
		Starred:    m.Starred,
		Deleted:    m.Deleted,
		Timestamp:  m.Timestamp,
	}
}

func messageResponses(msgs []store.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
