package session

import (
	"context"
	"time"

	"github.com/ashureev/crmchat/internal/domain"
)

// UserLookup resolves CRM users. Payloads are loosely shaped and go through
// NormalizeProfile. A missing user is (nil, nil).
type UserLookup interface {
	FindByEmail(ctx context.Context, email string) (map[string]any, error)
	GetByID(ctx context.Context, id string) (map[string]any, error)
}

// ChatClient talks to the remote chat service.
type ChatClient interface {
	Send(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error)
	ResetConversation(ctx context.Context, scope domain.ResetScope, userID string) (*domain.ResetAck, error)
}

// RemoteRecorder observes the outcome of every remote call.
type RemoteRecorder interface {
	ObserveRemote(collaborator, operation string, err error, elapsed time.Duration)
}

// Collaborator names used when recording remote calls.
const (
	CollaboratorCRM  = "crm"
	CollaboratorChat = "chat"
)
