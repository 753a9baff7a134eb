package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/ashureev/crmchat/internal/history"
	"github.com/ashureev/crmchat/internal/identity"
	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// ConnectionCounter observes open connections.
type ConnectionCounter interface {
	ConnectionOpened()
	ConnectionClosed()
}

// WebSocketHandler upgrades /ws/sessions and streams the caller's
// namespace events until either side closes.
type WebSocketHandler struct {
	hub            *Hub
	allowedOrigins []string
	isDev          bool
	counter        ConnectionCounter
}

// NewWebSocketHandler creates a new WebSocket handler. counter may be nil.
func NewWebSocketHandler(hub *Hub, allowedOrigins []string, isDev bool, counter ConnectionCounter) *WebSocketHandler {
	return &WebSocketHandler{
		hub:            hub,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		counter:        counter,
	}
}

// wsMessage is the envelope of every frame in both directions.
type wsMessage struct {
	Type  string         `json:"type"`
	Event *history.Event `json:"event,omitempty"`
	TabID string         `json:"tab_id,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	if clientID == "" {
		http.Error(w, "missing client identity", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "namespace", clientID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "namespace", clientID)
		}
	}()

	if h.counter != nil {
		h.counter.ConnectionOpened()
		defer h.counter.ConnectionClosed()
	}
	sub := h.hub.Register(clientID, tabID)
	defer h.hub.Unregister(clientID, tabID, sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := writeJSON(ctx, ws, wsMessage{Type: "ready", TabID: tabID}); err != nil {
		return
	}

	go func() {
		defer cancel()
		h.inputLoop(ctx, ws, clientID)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				slog.Debug("Realtime subscriber dropped by hub", "namespace", clientID, "tab_id", tabID)
				return
			}
			if err := writeJSON(ctx, ws, wsMessage{Type: "event", Event: &ev}); err != nil {
				slog.Debug("WebSocket write error", "error", err, "namespace", clientID)
				return
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

// inputLoop answers pings and returns when the client goes away.
func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, clientID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "namespace", clientID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "namespace", clientID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := writeJSON(ctx, ws, wsMessage{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
