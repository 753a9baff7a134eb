package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/crmchat/internal/domain"
	"github.com/ashureev/crmchat/internal/session"
)

func TestSessions_CreateListGet(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodPost, "/api/sessions", `{"title":"Pricing"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	created := decode[domain.Session](t, rec)
	if created.Title != "Pricing" || len(created.Messages) != 1 || created.Messages[0].Type != domain.MessageTypeBot {
		t.Fatalf("created = %+v, want titled session with welcome", created)
	}

	rec = env.do(t, http.MethodPost, "/api/sessions", "")
	second := decode[domain.Session](t, rec)

	rec = env.do(t, http.MethodGet, "/api/sessions", "")
	list := decode[sessionListResponse](t, rec)
	if len(list.Sessions) != 2 {
		t.Fatalf("list has %d sessions, want 2", len(list.Sessions))
	}
	if list.CurrentSessionID != second.ID {
		t.Errorf("current = %q, want newest %q", list.CurrentSessionID, second.ID)
	}

	rec = env.do(t, http.MethodGet, "/api/sessions/"+created.ID, "")
	if rec.Code != http.StatusOK || decode[domain.Session](t, rec).ID != created.ID {
		t.Errorf("get status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/sessions/session_missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown get status = %d, want 404", rec.Code)
	}
}

func TestSessions_EmptyListIsArray(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := env.do(t, http.MethodGet, "/api/sessions", "")

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["sessions"]) != "[]" {
		t.Errorf("sessions = %s, want []", raw["sessions"])
	}
}

func TestSessions_CurrentCreatesOnDemand(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	first := decode[domain.Session](t, env.do(t, http.MethodGet, "/api/sessions/current", ""))
	again := decode[domain.Session](t, env.do(t, http.MethodGet, "/api/sessions/current", ""))
	if first.ID == "" || first.ID != again.ID {
		t.Errorf("current ids %q then %q, want the same", first.ID, again.ID)
	}
}

func TestSessions_UpdateSwitchDelete(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	a := decode[domain.Session](t, env.do(t, http.MethodPost, "/api/sessions", ""))
	b := decode[domain.Session](t, env.do(t, http.MethodPost, "/api/sessions", ""))

	rec := env.do(t, http.MethodPatch, "/api/sessions/"+a.ID, `{"title":"  Renamed  "}`)
	if rec.Code != http.StatusOK || decode[domain.Session](t, rec).Title != "Renamed" {
		t.Fatalf("rename status = %d: %s", rec.Code, rec.Body)
	}
	if rec := env.do(t, http.MethodPatch, "/api/sessions/"+a.ID, `{"title":"  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("blank title status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodPatch, "/api/sessions/nope", `{"title":"x"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown patch status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/sessions/"+a.ID+"/switch", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("switch status = %d", rec.Code)
	}
	list := decode[sessionListResponse](t, env.do(t, http.MethodGet, "/api/sessions", ""))
	if list.CurrentSessionID != a.ID {
		t.Errorf("current = %q after switch, want %q", list.CurrentSessionID, a.ID)
	}
	if rec := env.do(t, http.MethodPost, "/api/sessions/nope/switch", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown switch status = %d, want 404", rec.Code)
	}

	if rec := env.do(t, http.MethodDelete, "/api/sessions/"+a.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	list = decode[sessionListResponse](t, env.do(t, http.MethodGet, "/api/sessions", ""))
	if len(list.Sessions) != 1 || list.CurrentSessionID != b.ID {
		t.Errorf("after delete: %d sessions, current %q; want 1 and %q", len(list.Sessions), list.CurrentSessionID, b.ID)
	}
	if rec := env.do(t, http.MethodDelete, "/api/sessions/"+a.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestSessions_AddMessage(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	s := decode[domain.Session](t, env.do(t, http.MethodPost, "/api/sessions", ""))

	rec := env.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/messages", `{"type":"user","content":"How do refunds work for annual plans?"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body)
	}
	got := decode[domain.Session](t, rec)
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
	if got.Title != "How do refunds work for annual..." {
		t.Errorf("title = %q, want derived title", got.Title)
	}

	if rec := env.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/messages", `{"type":"system","content":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid type status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/sessions/nope/messages", `{"type":"user","content":"x"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestSessions_NamespacesAreIsolated(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.do(t, http.MethodPost, "/api/sessions", "")

	// A request without the cookie gets a fresh client id and sees nothing.
	rec := newRecorder(env, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	list := decode[sessionListResponse](t, rec)
	if len(list.Sessions) != 0 {
		t.Errorf("foreign namespace sees %d sessions", len(list.Sessions))
	}
}

func TestSessions_Legacy(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := t.Context()
	legacy := `[{"id":"1","type":"user","content":"old question","timestamp":"2024-01-01T00:00:00.000Z"},{"id":"2","type":"bot","content":"old answer","timestamp":"2024-01-01T00:00:01.000Z"}]`
	if err := env.store.Set(ctx, testClientID, session.LegacyKeyMessages, []byte(legacy)); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/api/legacy/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("legacy status = %d: %s", rec.Code, rec.Body)
	}
	got := decode[legacyResponse](t, rec)
	if !got.Migrated || len(got.Messages) != 2 || got.SessionID == "" {
		t.Fatalf("legacy = %+v, want migrated transcript", got)
	}

	again := decode[legacyResponse](t, env.do(t, http.MethodGet, "/api/legacy/session", ""))
	if again.Migrated || again.SessionID != got.SessionID {
		t.Errorf("second call = %+v, want same session and no migration", again)
	}
}
