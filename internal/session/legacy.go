package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashureev/crmchat/internal/domain"
	"github.com/ashureev/crmchat/internal/history"
	"github.com/ashureev/crmchat/internal/store"
)

// Keys written by the single-session client before sessions existed.
const (
	LegacyKeyUser     = "session_user"
	LegacyKeyMessages = "chat_messages"
)

// MigrateLegacy moves single-session state into the session layout: the old
// user becomes the active user (unless one is already stored) and the old
// transcript becomes the current session. The old keys are removed afterwards,
// so a second call is a no-op. It reports whether anything was migrated.
func (c *Coordinator) MigrateLegacy(ctx context.Context) (bool, error) {
	st := c.registry.Store()
	ns := c.registry.Namespace()

	var (
		legacyUser *domain.ActiveUser
		messages   []domain.Message
	)
	userFound, err := readLegacy(ctx, st, ns, LegacyKeyUser, &legacyUser)
	if err != nil {
		return false, err
	}
	msgFound, err := readLegacy(ctx, st, ns, LegacyKeyMessages, &messages)
	if err != nil {
		return false, err
	}
	if !userFound && !msgFound {
		return false, nil
	}

	if legacyUser != nil && legacyUser.ID != "" {
		existing, err := c.registry.ActiveUser(ctx)
		if err != nil {
			return false, err
		}
		if existing == nil {
			if _, err := c.registry.SetActiveUser(ctx, *legacyUser, false); err != nil {
				return false, err
			}
		}
	}

	if len(messages) > 0 {
		if err := c.importTranscript(ctx, messages, legacyUser); err != nil {
			return false, err
		}
	}

	for _, key := range []string{LegacyKeyUser, LegacyKeyMessages} {
		if err := st.Remove(ctx, ns, key); err != nil {
			return false, err
		}
	}
	c.logger.Info("Legacy state migrated", "messages", len(messages), "user", legacyUser != nil)
	return true, nil
}

func (c *Coordinator) importTranscript(ctx context.Context, messages []domain.Message, user *domain.ActiveUser) error {
	now := c.registry.Now()
	s := domain.Session{
		ID:        fmt.Sprintf("session_%d_legacy", now.UnixMilli()),
		Title:     "Chat 1",
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, m := range messages {
		if !m.Type.Valid() {
			continue
		}
		if m.ID == "" {
			m.ID = fmt.Sprintf("%d-%d", now.UnixMilli(), i)
		}
		if m.Timestamp == "" {
			m.Timestamp = history.FormatTimestamp(now)
		}
		if m.Type == domain.MessageTypeUser && !s.HasUserMessage() {
			if title := history.DeriveTitle(m.Content); title != "" {
				s.Title = title
			}
		}
		s.Messages = append(s.Messages, m)
	}
	if len(s.Messages) == 0 {
		return nil
	}
	if user != nil && user.ID != "" {
		uid := user.ID
		s.UserID = &uid
	}
	return c.registry.Import(ctx, s, true)
}

func readLegacy(ctx context.Context, st store.Store, ns, key string, dst any) (bool, error) {
	data, found, err := st.Get(ctx, ns, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, &store.StorageError{Op: "decode", Namespace: ns, Key: key, Err: err}
	}
	return true, nil
}

// LegacySessionID returns the id single-session callers should use: the
// current session's id.
func (c *Coordinator) LegacySessionID(ctx context.Context) (string, error) {
	s, err := c.registry.CurrentOrNewSession(ctx)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// LegacyMessages returns the transcript single-session callers expect: the
// messages of the current session.
func (c *Coordinator) LegacyMessages(ctx context.Context) ([]domain.Message, error) {
	s, err := c.registry.CurrentOrNewSession(ctx)
	if err != nil {
		return nil, err
	}
	return s.Messages, nil
}
