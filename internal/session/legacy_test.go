package session

import (
	"context"
	"testing"

	"github.com/ashureev/crmchat/internal/domain"
)

func TestMigrateLegacy(t *testing.T) {
	c, _, st := newTestCoordinator()
	ctx := context.Background()
	ns := c.Registry().Namespace()

	_ = st.Set(ctx, ns, LegacyKeyUser, []byte(`{"id":"crm-1","name":"Jo","is_anonymous":false}`))
	_ = st.Set(ctx, ns, LegacyKeyMessages, []byte(`[
		{"id":"1","type":"bot","content":"Hello","timestamp":"2024-01-01T00:00:00.000Z"},
		{"id":"2","type":"user","content":"Find leads in Denver please","timestamp":"2024-01-01T00:00:01.000Z"},
		{"id":"3","type":"system","content":"dropped"}
	]`))

	migrated, err := c.MigrateLegacy(ctx)
	if err != nil || !migrated {
		t.Fatalf("MigrateLegacy = (%v, %v), want (true, nil)", migrated, err)
	}

	u, _ := c.ActiveUser(ctx)
	if u == nil || u.ID != "crm-1" || *u.Name != "Jo" {
		t.Errorf("active user = %+v", u)
	}

	s, err := c.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession failed: %v", err)
	}
	if len(s.Messages) != 2 || s.Messages[1].Content != "Find leads in Denver please" {
		t.Errorf("migrated messages = %+v", s.Messages)
	}
	if s.Title != "Find leads in Denver please" || s.BoundUserID() != "crm-1" {
		t.Errorf("migrated session = %q bound to %q", s.Title, s.BoundUserID())
	}

	for _, key := range []string{LegacyKeyUser, LegacyKeyMessages} {
		if _, found, _ := st.Get(ctx, ns, key); found {
			t.Errorf("legacy key %s still present", key)
		}
	}

	again, err := c.MigrateLegacy(ctx)
	if err != nil || again {
		t.Errorf("second MigrateLegacy = (%v, %v), want (false, nil)", again, err)
	}
	if list, _ := c.SessionsList(ctx); len(list) != 1 {
		t.Errorf("sessions = %d after second migration, want 1", len(list))
	}
}

func TestMigrateLegacy_KeepsExistingActiveUser(t *testing.T) {
	c, _, st := newTestCoordinator()
	ctx := context.Background()
	ns := c.Registry().Namespace()

	_ = c.StoreUser(ctx, domain.ActiveUser{ID: "crm-new"})
	_ = st.Set(ctx, ns, LegacyKeyUser, []byte(`{"id":"crm-old"}`))

	if migrated, err := c.MigrateLegacy(ctx); err != nil || !migrated {
		t.Fatalf("MigrateLegacy = (%v, %v)", migrated, err)
	}
	if u, _ := c.ActiveUser(ctx); u.ID != "crm-new" {
		t.Errorf("active user = %q, want crm-new", u.ID)
	}
}

func TestMigrateLegacy_Nothing(t *testing.T) {
	c, _, _ := newTestCoordinator()
	if migrated, err := c.MigrateLegacy(context.Background()); migrated || err != nil {
		t.Errorf("= (%v, %v), want (false, nil)", migrated, err)
	}
}

func TestLegacyAccessors(t *testing.T) {
	c, _, _ := newTestCoordinator()
	ctx := context.Background()

	id, err := c.LegacySessionID(ctx)
	if err != nil || id == "" {
		t.Fatalf("LegacySessionID = (%q, %v)", id, err)
	}
	_, _ = c.AddMessage(ctx, id, domain.Message{Type: domain.MessageTypeUser, Content: "hi"})

	msgs, err := c.LegacyMessages(ctx)
	if err != nil {
		t.Fatalf("LegacyMessages failed: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "hi" {
		t.Errorf("messages = %+v", msgs)
	}

	again, _ := c.LegacySessionID(ctx)
	if again != id {
		t.Errorf("LegacySessionID changed from %q to %q", id, again)
	}
}
