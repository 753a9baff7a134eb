package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/crmchat/internal/domain"
	"github.com/ashureev/crmchat/internal/history"
	"github.com/go-chi/chi/v5"
)

// SessionHandler handles session history endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes on the /api router.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/current", h.Current)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Post("/{id}/switch", h.Switch)
		r.Post("/{id}/messages", h.AddMessage)
	})
	r.Get("/legacy/session", h.Legacy)
}

type createSessionRequest struct {
	Title string `json:"title"`
}

// Create starts a new chat and makes it current.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s, err := c.NewChat(r.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, s)
}

type sessionListResponse struct {
	Sessions         []*domain.Session `json:"sessions"`
	CurrentSessionID string            `json:"current_session_id"`
}

// List returns every session, most recently updated first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	sessions, err := c.SessionsList(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	currentID, err := c.Registry().CurrentSessionID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	JSON(w, http.StatusOK, sessionListResponse{Sessions: sessions, CurrentSessionID: currentID})
}

// Current returns the current session, creating one when none exists.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	s, err := c.CurrentSession(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// Get returns one session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	s, err := c.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, s)
}

type updateSessionRequest struct {
	Title  *string `json:"title"`
	UserID *string `json:"user_id"`
}

// Update renames a session or rebinds it to a user.
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	var req updateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			Error(w, http.StatusBadRequest, "title cannot be empty")
			return
		}
		req.Title = &title
	}

	s, err := c.UpdateSession(r.Context(), chi.URLParam(r, "id"), history.SessionPatch{Title: req.Title, UserID: req.UserID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, s)
}

// Delete removes a session. Deleting the current one re-points the current
// pointer, creating a fresh session when none remain.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	ok, err := c.DeleteSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Switch makes a session current.
func (h *SessionHandler) Switch(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	s, err := c.SwitchToSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, s)
}

type addMessageRequest struct {
	Type     domain.MessageType `json:"type"`
	Content  string             `json:"content"`
	Metadata map[string]any     `json:"metadata"`
}

// AddMessage appends a message without contacting the chat service.
func (h *SessionHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	var req addMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s, err := c.AddMessage(r.Context(), chi.URLParam(r, "id"), domain.Message{
		Type:     req.Type,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusCreated, s)
}

type legacyResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []domain.Message `json:"messages"`
	Migrated  bool             `json:"migrated"`
}

// Legacy serves single-session clients: pending legacy state is migrated
// first, then the current session's id and transcript are returned.
func (h *SessionHandler) Legacy(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	migrated, err := c.MigrateLegacy(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := c.LegacySessionID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	messages, err := c.LegacyMessages(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	JSON(w, http.StatusOK, legacyResponse{SessionID: id, Messages: messages, Migrated: migrated})
}
