package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func newCRMServer(t *testing.T) *httptest.Server {
	t.Helper()
	users := []map[string]any{
		{"id": "u1", "name": "Ann", "email": "ann@example.com"},
		{"id": "u2", "name": "Bob", "email": "Bob@Example.com"},
		{"id": "u3", "name": "Cy", "email": "cy@example.com"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /crm/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		for _, u := range users {
			if u["id"] == r.PathValue("id") {
				writeJSON(t, w, http.StatusOK, map[string]any{"success": true, "data": u})
				return
			}
		}
		writeJSON(t, w, http.StatusNotFound, map[string]any{"detail": "User not found"})
	})
	mux.HandleFunc("GET /crm/users", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		// Serve one user per page to exercise paging.
		if page < 1 || page > len(users) {
			writeJSON(t, w, http.StatusOK, map[string]any{"success": true, "data": []any{}, "pages": len(users)})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"success": true, "data": []any{users[page-1]}, "total": len(users), "page": page, "per_page": 1, "pages": len(users),
		})
	})
	mux.HandleFunc("GET /crm/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "u1" {
			writeJSON(t, w, http.StatusNotFound, map[string]any{"detail": "User not found"})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"success": true,
			"data": []any{map[string]any{
				"id": "c1", "user_id": "u1", "session_id": "s1", "status": "active", "message_count": 4,
			}},
			"total": 1, "page": 1, "per_page": 10, "pages": 1,
		})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"status": "healthy"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewHTTPClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPClient("  ", 0); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}

func TestHTTPClient_GetByID(t *testing.T) {
	srv := newCRMServer(t)
	c, err := NewHTTPClient(srv.URL+"/", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	ctx := context.Background()

	u, err := c.GetByID(ctx, "u1")
	if err != nil || u["name"] != "Ann" {
		t.Fatalf("GetByID = (%v, %v)", u, err)
	}

	u, err = c.GetByID(ctx, "nobody")
	if err != nil || u != nil {
		t.Errorf("GetByID(unknown) = (%v, %v), want (nil, nil)", u, err)
	}
}

func TestHTTPClient_FindByEmailPages(t *testing.T) {
	srv := newCRMServer(t)
	c, _ := NewHTTPClient(srv.URL, time.Second)
	ctx := context.Background()

	u, err := c.FindByEmail(ctx, "bob@example.COM")
	if err != nil || u == nil || u["id"] != "u2" {
		t.Fatalf("FindByEmail = (%v, %v), want u2", u, err)
	}
	u, err = c.FindByEmail(ctx, "cy@example.com")
	if err != nil || u == nil || u["id"] != "u3" {
		t.Fatalf("FindByEmail(last page) = (%v, %v), want u3", u, err)
	}
	u, err = c.FindByEmail(ctx, "zed@example.com")
	if err != nil || u != nil {
		t.Errorf("FindByEmail(unknown) = (%v, %v), want (nil, nil)", u, err)
	}
}

func TestHTTPClient_Conversations(t *testing.T) {
	srv := newCRMServer(t)
	c, _ := NewHTTPClient(srv.URL, time.Second)
	ctx := context.Background()

	page, err := c.Conversations(ctx, "u1", 0, 0)
	if err != nil {
		t.Fatalf("Conversations failed: %v", err)
	}
	if page.Total != 1 || len(page.Conversations) != 1 || page.Conversations[0].MessageCount != 4 {
		t.Errorf("page = %+v", page)
	}

	empty, err := c.Conversations(ctx, "ghost", 1, 10)
	if err != nil || len(empty.Conversations) != 0 {
		t.Errorf("Conversations(unknown) = (%+v, %v), want empty page", empty, err)
	}
}

func TestHTTPClient_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/boom"):
			http.Error(w, "internal", http.StatusInternalServerError)
		case strings.HasSuffix(r.URL.Path, "/garbled"):
			_, _ = w.Write([]byte("<html>"))
		default:
			writeJSON(t, w, http.StatusOK, map[string]any{"success": false, "error": "db down"})
		}
	}))
	defer srv.Close()

	c, _ := NewHTTPClient(srv.URL, time.Second)
	ctx := context.Background()

	for _, id := range []string{"boom", "garbled", "unsuccessful"} {
		if _, err := c.GetByID(ctx, id); !errors.Is(err, ErrLookupFailed) {
			t.Errorf("GetByID(%s) error = %v, want ErrLookupFailed", id, err)
		}
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	srv.Close()
	if _, err := c.GetByID(ctx, "u1"); !errors.Is(err, ErrLookupFailed) {
		t.Errorf("closed server error = %v, want ErrLookupFailed", err)
	}
	if err := c.Ping(ctx); !errors.Is(err, ErrLookupFailed) {
		t.Errorf("Ping on closed server error = %v, want ErrLookupFailed", err)
	}
}

type countingLookup struct {
	calls atomic.Int32
	user  map[string]any
	err   error
}

func (c *countingLookup) GetByID(context.Context, string) (map[string]any, error) {
	c.calls.Add(1)
	return c.user, c.err
}

func (c *countingLookup) FindByEmail(context.Context, string) (map[string]any, error) {
	c.calls.Add(1)
	return c.user, c.err
}

func TestCached(t *testing.T) {
	next := &countingLookup{user: map[string]any{"id": "u1"}}
	c := NewCached(next, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		u, err := c.GetByID(ctx, "u1")
		if err != nil || u["id"] != "u1" {
			t.Fatalf("GetByID = (%v, %v)", u, err)
		}
		u["id"] = "mutated"
	}
	if n := next.calls.Load(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}

	_, _ = c.FindByEmail(ctx, "Ann@x.com")
	_, _ = c.FindByEmail(ctx, " ann@x.com")
	if n := next.calls.Load(); n != 2 {
		t.Errorf("backend calls = %d, want 2 (email keys normalised)", n)
	}

	c.(*Cached).Invalidate()
	_, _ = c.GetByID(ctx, "u1")
	if n := next.calls.Load(); n != 3 {
		t.Errorf("backend calls after Invalidate = %d, want 3", n)
	}
}

func TestCached_DoesNotCacheMissesOrErrors(t *testing.T) {
	next := &countingLookup{}
	c := NewCached(next, time.Minute)
	ctx := context.Background()

	_, _ = c.GetByID(ctx, "u1")
	_, _ = c.GetByID(ctx, "u1")
	next.err = errors.New("down")
	_, _ = c.GetByID(ctx, "u1")
	_, _ = c.GetByID(ctx, "u1")
	if n := next.calls.Load(); n != 4 {
		t.Errorf("backend calls = %d, want 4", n)
	}
}

func TestNewCached_ZeroTTL(t *testing.T) {
	next := &countingLookup{}
	if got := NewCached(next, 0); got != Lookup(next) {
		t.Error("zero ttl should return the backend unchanged")
	}
}

func TestSupabaseLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/rest/v1/users") {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		rows := []map[string]any{}
		if q.Get("id") == "eq.u1" || strings.EqualFold(q.Get("email"), "ilike.ann@example.com") {
			rows = append(rows, map[string]any{"id": "u1", "name": "Ann"})
		}
		writeJSON(t, w, http.StatusOK, rows)
	}))
	defer srv.Close()

	s, err := NewSupabaseLookup(srv.URL, "anon-key")
	if err != nil {
		t.Fatalf("NewSupabaseLookup failed: %v", err)
	}
	ctx := context.Background()

	u, err := s.GetByID(ctx, "u1")
	if err != nil || u == nil || u["name"] != "Ann" {
		t.Fatalf("GetByID = (%v, %v)", u, err)
	}
	if u, err := s.GetByID(ctx, "u9"); err != nil || u != nil {
		t.Errorf("GetByID(unknown) = (%v, %v), want (nil, nil)", u, err)
	}
	if u, err := s.FindByEmail(ctx, "ann@example.com"); err != nil || u == nil {
		t.Errorf("FindByEmail = (%v, %v)", u, err)
	}
}

func TestNewSupabaseLookup_Validation(t *testing.T) {
	if _, err := NewSupabaseLookup("", "key"); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := NewSupabaseLookup("http://x", ""); err == nil {
		t.Error("expected error for empty key")
	}
}
