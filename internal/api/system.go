package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthTimeout = 3 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// ClientConfig is what the frontend needs to know about the server.
type ClientConfig struct {
	WelcomeMessage  string `json:"welcome_message"`
	ChatEnabled     bool   `json:"chat_enabled"`
	CRMEnabled      bool   `json:"crm_enabled"`
	RealtimeEnabled bool   `json:"realtime_enabled"`
}

// SystemHandler serves health and frontend configuration.
type SystemHandler struct {
	store  Pinger
	chat   Pinger
	client ClientConfig
}

// NewSystemHandler creates a new system handler. chat may be nil.
func NewSystemHandler(store, chat Pinger, client ClientConfig) *SystemHandler {
	return &SystemHandler{store: store, chat: chat, client: client}
}

// RegisterHealth registers /health on the root router.
func (h *SystemHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// RegisterRoutes registers /config on the /api router.
func (h *SystemHandler) RegisterRoutes(r chi.Router) {
	r.Get("/config", h.Config)
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Chat   string `json:"chat"`
}

// Health reports store and chat service reachability. Only the store
// decides the status code; the app degrades without chat.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok", Chat: "disabled"}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if h.chat != nil {
		resp.Chat = "ok"
		if err := h.chat.Ping(ctx); err != nil {
			resp.Chat = "unavailable"
		}
	}
	JSON(w, status, resp)
}

// Config returns the frontend configuration.
func (h *SystemHandler) Config(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.client)
}
