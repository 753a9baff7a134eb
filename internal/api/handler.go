// Package api provides HTTP handlers for the crmchat API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/crmchat/internal/history"
	"github.com/ashureev/crmchat/internal/identity"
	"github.com/ashureev/crmchat/internal/session"
	"github.com/ashureev/crmchat/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	sessions *session.Pool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions *session.Pool) *Handler {
	return &Handler{sessions: sessions}
}

// coordinator returns the caller's coordinator, or writes 401 and returns nil
// when the identity middleware did not run.
func (h *Handler) coordinator(w http.ResponseWriter, r *http.Request) *session.Coordinator {
	clientID := identity.ClientIDFromContext(r.Context())
	if clientID == "" {
		Error(w, http.StatusUnauthorized, "missing client identity")
		return nil
	}
	return h.sessions.For(clientID)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// writeError maps a coordinator error onto a status code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrUnavailable):
		slog.Error("Storage unavailable", "error", err, "path", r.URL.Path, "namespace", identity.ClientIDFromContext(r.Context()))
		Error(w, http.StatusServiceUnavailable, "storage unavailable")
	case errors.Is(err, history.ErrInvalidMessage),
		errors.Is(err, history.ErrInvalidSession),
		errors.Is(err, session.ErrInvalidUser),
		errors.Is(err, session.ErrInvalidScope):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrIdentityDowngrade):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrChatUnavailable):
		Error(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled):
		slog.Debug("Request canceled", "path", r.URL.Path)
	default:
		slog.Error("Request failed", "error", err, "path", r.URL.Path)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
