package domain

// ChatRequest is the payload sent to the remote chat service.
type ChatRequest struct {
	Message   string         `json:"message"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// ChatReply is the remote chat service answer.
type ChatReply struct {
	Response       string         `json:"response"`
	UserID         string         `json:"user_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Sources        []any          `json:"sources,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ProcessingTime *float64       `json:"processing_time,omitempty"`
}

// ResetScope selects what a remote reset clears.
type ResetScope string

const (
	ResetConversation ResetScope = "conversation"
	ResetUser         ResetScope = "user"
	ResetAll          ResetScope = "all"
)

// Valid reports whether s is an accepted reset scope.
func (s ResetScope) Valid() bool {
	switch s {
	case ResetConversation, ResetUser, ResetAll:
		return true
	}
	return false
}

// ResetAck acknowledges a remote reset.
type ResetAck struct {
	Message         string `json:"message"`
	ResetType       string `json:"reset_type"`
	AffectedRecords int    `json:"affected_records"`
}

// Conversation is a CRM-side conversation summary.
type Conversation struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id"`
	Title        string `json:"title,omitempty"`
	Category     string `json:"category,omitempty"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
	MessageCount int    `json:"message_count"`
}

// ConversationPage is one page of CRM conversations.
type ConversationPage struct {
	Conversations []Conversation `json:"data"`
	Total         int            `json:"total"`
	Page          int            `json:"page"`
	PerPage       int            `json:"per_page"`
	Pages         int            `json:"pages"`
}
