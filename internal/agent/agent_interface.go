package agent

import (
	"context"

	"github.com/ashureev/crmchat/internal/domain"
)

// Client is the contract every chat transport implements.
type Client interface {
	// Send delivers one user message and returns the assistant reply.
	Send(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error)

	// ResetConversation asks the service to forget state for userID.
	ResetConversation(ctx context.Context, scope domain.ResetScope, userID string) (*domain.ResetAck, error)

	// Health checks that the service answers.
	Health(ctx context.Context) error

	// Close releases resources
	Close()
}

// Ensure both transports implement Client.
var (
	_ Client = (*GrpcClient)(nil)
	_ Client = (*HTTPClient)(nil)
)
