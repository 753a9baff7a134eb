package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/crmchat/internal/domain"
	"github.com/ashureev/crmchat/internal/session"
	"github.com/go-chi/chi/v5"
)

// ChatHandler handles message exchange with the chat service.
type ChatHandler struct {
	*Handler
	limiter *RateLimiter
}

// NewChatHandler creates a new chat handler. limiter may be nil.
func NewChatHandler(base *Handler, limiter *RateLimiter) *ChatHandler {
	return &ChatHandler{Handler: base, limiter: limiter}
}

// RegisterRoutes registers chat routes on the /api router.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.With(h.limiter.Middleware).Post("/chat", h.Send)
	r.With(h.limiter.Middleware).Post("/chat/reset", h.Reset)
}

type sendRequest struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id"`
	Context   map[string]any `json:"context"`
}

type sendResponse struct {
	SessionID string            `json:"session_id"`
	Session   *domain.Session   `json:"session"`
	Reply     *domain.ChatReply `json:"reply,omitempty"`
	Failed    bool              `json:"failed"`
}

// Send records a user turn and the chat service reply. A failed exchange is
// still 200: the session carries an error message and Failed is set.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := c.SendMessage(r.Context(), session.SendRequest{
		Content:   req.Message,
		SessionID: strings.TrimSpace(req.SessionID),
		Context:   req.Context,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, sendResponse{
		SessionID: res.SessionID,
		Session:   res.Session,
		Reply:     res.Reply,
		Failed:    res.Failed,
	})
}

type resetRequest struct {
	Scope domain.ResetScope `json:"reset_type"`
}

// Reset clears remote conversation state and starts a fresh session.
func (h *ChatHandler) Reset(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := c.ResetConversation(r.Context(), req.Scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}
