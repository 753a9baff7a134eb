package domain

import (
	"time"
)

// MessageType tags a chat turn. The set is closed.
type MessageType string

const (
	// MessageTypeUser is a message typed by the person at the keyboard.
	MessageTypeUser MessageType = "user"
	// MessageTypeBot is a reply produced by the assistant.
	MessageTypeBot MessageType = "bot"
	// MessageTypeError is a synthetic entry recording a failed exchange.
	MessageTypeError MessageType = "error"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeUser, MessageTypeBot, MessageTypeError:
		return true
	}
	return false
}

// Message is one chat turn inside a Session.
type Message struct {
	ID             string         `json:"id"`
	Type           MessageType    `json:"type"`
	Content        string         `json:"content"`
	Timestamp      string         `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Sources        []any          `json:"sources,omitempty"`
	ProcessingTime *float64       `json:"processing_time,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// Session is one chat thread with its ordered history.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    *string   `json:"user_id"`
}

// Clone returns a deep enough copy that callers cannot mutate registry state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	if s.UserID != nil {
		id := *s.UserID
		c.UserID = &id
	}
	return &c
}

// BoundUserID returns the bound user id or "" when the session is unbound.
func (s *Session) BoundUserID() string {
	if s == nil || s.UserID == nil {
		return ""
	}
	return *s.UserID
}

// HasUserMessage reports whether any user-typed message is already present.
func (s *Session) HasUserMessage() bool {
	for _, m := range s.Messages {
		if m.Type == MessageTypeUser {
			return true
		}
	}
	return false
}

// LastMessage returns the newest message, or nil for an empty history.
func (s *Session) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}
