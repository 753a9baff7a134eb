package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/crmchat/internal/domain"
	"github.com/ashureev/crmchat/internal/session"
	"github.com/go-chi/chi/v5"
)

// ConversationLister lists a CRM user's past conversations.
type ConversationLister interface {
	Conversations(ctx context.Context, userID string, page, perPage int) (*domain.ConversationPage, error)
}

// UserHandler handles active user endpoints.
type UserHandler struct {
	*Handler
	conversations ConversationLister
}

// NewUserHandler creates a new user handler. conversations may be nil.
func NewUserHandler(base *Handler, conversations ConversationLister) *UserHandler {
	return &UserHandler{Handler: base, conversations: conversations}
}

// RegisterRoutes registers user routes on the /api router.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Route("/user", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/", h.Store)
		r.Get("/binding", h.Binding)
		r.Post("/load/{id}", h.Load)
		r.Post("/lookup", h.Lookup)
		r.Get("/conversations", h.Conversations)
	})
}

type userResponse struct {
	User    *domain.ActiveUser   `json:"user"`
	Binding session.BindingState `json:"binding"`
}

func respondUser(w http.ResponseWriter, user *domain.ActiveUser) {
	JSON(w, http.StatusOK, userResponse{User: user, Binding: session.StateOf(user)})
}

// Get returns the active user, creating an anonymous one when none exists.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	user, err := c.GetOrCreateSessionUser(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondUser(w, user)
}

// Store replaces the active user and binds the current session to it.
func (h *UserHandler) Store(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	var user domain.ActiveUser
	if !decodeJSON(w, r, &user) {
		return
	}
	user.ID = strings.TrimSpace(user.ID)

	if err := c.StoreUser(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}
	respondUser(w, &user)
}

// Binding reports the binding state without creating a user.
func (h *UserHandler) Binding(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	user, err := c.ActiveUser(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondUser(w, user)
}

type lookupResponse struct {
	User  *domain.ActiveUser `json:"user"`
	Found bool               `json:"found"`
}

// Load resolves a CRM user by id and makes it active. An unknown user or an
// unreachable CRM yields found=false so the client continues anonymously.
func (h *UserHandler) Load(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	user, err := c.LoadUserForSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, lookupResponse{User: user, Found: user != nil})
}

type lookupRequest struct {
	Email string `json:"email"`
}

// Lookup resolves a CRM user by email and makes it active.
func (h *UserHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	var req lookupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		Error(w, http.StatusBadRequest, "email is required")
		return
	}

	user, err := c.FindUserByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, lookupResponse{User: user, Found: user != nil})
}

// Conversations lists the identified user's CRM conversations.
func (h *UserHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	if h.conversations == nil {
		Error(w, http.StatusServiceUnavailable, "crm is not configured")
		return
	}
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 20)

	user, err := c.ActiveUser(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if session.StateOf(user) != session.IdentifiedBound {
		JSON(w, http.StatusOK, domain.ConversationPage{Conversations: []domain.Conversation{}, Page: page, PerPage: perPage})
		return
	}

	result, err := h.conversations.Conversations(r.Context(), user.ID, page, perPage)
	if err != nil {
		slog.Warn("Failed to load CRM conversations", "user_id", user.ID, "error", err)
		Error(w, http.StatusBadGateway, "failed to load conversations")
		return
	}
	if result == nil {
		result = &domain.ConversationPage{Conversations: []domain.Conversation{}, Page: page, PerPage: perPage}
	}
	JSON(w, http.StatusOK, result)
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
