// Package identity provides anonymous per-device identity primitives.
//
// Every browser gets a random client id in an HttpOnly cookie. The id is the
// namespace that scopes all of its chat history.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	ClientCookieName   = "crmchat_client_id"
	TabHeaderName      = "X-CRM-Tab-ID"
	DefaultTabIDValue  = "default"
	clientCookieMaxAge = 365 * 24 * time.Hour
)

type contextKey int

const (
	clientIDKey contextKey = iota
	tabIDKey
	newClientKey
)

var (
	clientIDPattern = regexp.MustCompile(`^client_[a-f0-9]{32}$`)
	tabIDPattern    = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// ClientIDFromContext extracts the client ID from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

// TabIDFromContext extracts the browser tab ID from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return DefaultTabIDValue
}

// IsNewClient reports whether the client id was minted for this request
// because the cookie was missing or invalid.
func IsNewClient(ctx context.Context) bool {
	v, _ := ctx.Value(newClientKey).(bool)
	return v
}

// WithClientID returns a context carrying clientID, as the middleware does.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// NewClientID returns a fresh random client id.
func NewClientID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return "client_" + hex.EncodeToString(buf), nil
}

// IsValidClientID reports whether id has the shape NewClientID produces.
func IsValidClientID(id string) bool {
	return clientIDPattern.MatchString(id)
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !tabIDPattern.MatchString(id) {
		return DefaultTabIDValue
	}
	return id
}

func setClientCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(clientCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(clientCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateClientID(w http.ResponseWriter, r *http.Request, isDev bool) (id string, minted bool, err error) {
	if c, err := r.Cookie(ClientCookieName); err == nil && IsValidClientID(c.Value) {
		setClientCookie(w, c.Value, isDev)
		return c.Value, false, nil
	}

	id, err = NewClientID()
	if err != nil {
		return "", false, err
	}
	setClientCookie(w, id, isDev)
	return id, true, nil
}

func tabIDFromRequest(r *http.Request) string {
	tid := r.Header.Get(TabHeaderName)
	if tid == "" {
		tid = r.URL.Query().Get("tab_id")
	}
	return sanitizeTabID(tid)
}

// Middleware injects the anonymous client id and the per-request tab id.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, minted, err := getOrCreateClientID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), clientIDKey, clientID)
			ctx = context.WithValue(ctx, tabIDKey, tabIDFromRequest(r))
			ctx = context.WithValue(ctx, newClientKey, minted)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
