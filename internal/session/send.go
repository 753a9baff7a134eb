package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/crmchat/internal/domain"
	"github.com/ashureev/crmchat/internal/history"
)

// MetadataUserInfo is the reply metadata key carrying attributes the chat
// service extracted from the conversation.
const MetadataUserInfo = "user_info_extracted"

// SendRequest is one user turn.
type SendRequest struct {
	Content string
	// SessionID targets a specific session. Empty means the current one.
	SessionID string
	Context   map[string]any
}

// SendResult reports the outcome of SendMessage.
type SendResult struct {
	SessionID string
	Session   *domain.Session
	Reply     *domain.ChatReply
	// Failed is set when the remote call failed and an error message was
	// appended instead of a reply.
	Failed bool
}

// SendMessage records a user turn and its reply. The target session is fixed
// when the call starts and the user message is committed before the remote
// call, so a slow or failed reply never lands in another session or loses the
// user's own message. A remote failure is recorded as an error message and is
// not returned as an error. It returns nil when SessionID names an unknown
// session.
func (c *Coordinator) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty message", history.ErrInvalidMessage)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		current, err := c.registry.CurrentOrNewSession(ctx)
		if err != nil {
			return nil, err
		}
		sessionID = current.ID
	}

	user, err := c.GetOrCreateSessionUser(ctx)
	if err != nil {
		return nil, err
	}

	s, err := c.registry.AddMessage(ctx, sessionID, domain.Message{
		Type:    domain.MessageTypeUser,
		Content: content,
	})
	if err != nil || s == nil {
		return nil, err
	}

	result := &SendResult{SessionID: sessionID, Session: s}

	reply, sendErr := c.send(ctx, domain.ChatRequest{
		Message:   content,
		UserID:    user.ID,
		SessionID: sessionID,
		Context:   req.Context,
	})
	if sendErr != nil {
		c.logger.Warn("Chat send failed", "session_id", sessionID, "error", sendErr)
		s, err = c.registry.AddMessage(context.WithoutCancel(ctx), sessionID, domain.Message{
			Type:     domain.MessageTypeError,
			Content:  "Sorry, I encountered an error. Please try again.",
			Metadata: map[string]any{"error": sendErr.Error()},
		})
		if err != nil {
			return nil, err
		}
		result.Failed = true
		result.Session = s
		return result, nil
	}

	s, err = c.registry.AddMessage(context.WithoutCancel(ctx), sessionID, domain.Message{
		Type:           domain.MessageTypeBot,
		Content:        reply.Response,
		Metadata:       reply.Metadata,
		Sources:        reply.Sources,
		ProcessingTime: reply.ProcessingTime,
		ConversationID: reply.ConversationID,
	})
	if err != nil {
		return nil, err
	}
	result.Reply = reply
	result.Session = s

	if err := c.mergeExtracted(ctx, sessionID, reply); err != nil {
		return nil, err
	}
	if updated, err := c.registry.Session(ctx, sessionID); err == nil && updated != nil {
		result.Session = updated
	}
	return result, nil
}

func (c *Coordinator) send(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error) {
	if c.chat == nil {
		return nil, ErrChatUnavailable
	}
	start := time.Now()
	reply, err := c.chat.Send(ctx, req)
	c.observe(CollaboratorChat, "send", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, fmt.Errorf("chat service returned an empty reply")
	}
	return reply, nil
}

// mergeExtracted folds attributes extracted by the chat service into the
// active user and binds the session the reply belongs to.
func (c *Coordinator) mergeExtracted(ctx context.Context, sessionID string, reply *domain.ChatReply) error {
	info, _ := reply.Metadata[MetadataUserInfo].(map[string]any)
	profile := NormalizeProfile(info)
	remoteID := reply.UserID
	if strings.HasPrefix(remoteID, AnonymousPrefix) {
		remoteID = ""
	}
	if profile.IsEmpty() && remoteID == "" {
		return nil
	}

	user, err := c.registry.UpdateActiveUser(ctx, false, func(cur *domain.ActiveUser) (*domain.ActiveUser, error) {
		next := domain.ActiveUser{IsAnonymous: true}
		if cur != nil {
			next = *cur
		}
		next = next.Apply(profile)
		if remoteID != "" {
			next.ID = remoteID
			next.IsAnonymous = false
		}
		if next.ID == "" {
			return nil, nil
		}
		return &next, nil
	})
	if err != nil || user == nil {
		return err
	}

	uid := user.ID
	_, err = c.registry.UpdateSession(ctx, sessionID, history.SessionPatch{UserID: &uid})
	if err == nil {
		c.logger.Info("User attributes merged from reply", "session_id", sessionID, "user_id", uid)
	}
	return err
}

// ResetResult reports the outcome of ResetConversation.
type ResetResult struct {
	Session *domain.Session   `json:"session"`
	Ack     *domain.ResetAck  `json:"ack,omitempty"`
	Remote  bool              `json:"remote_reset"`
	Scope   domain.ResetScope `json:"scope"`
}

// ResetConversation asks the chat service to forget the active user's
// conversation state and starts a fresh local session. Remote failures are
// reported through Remote=false. Scope all also clears the active user.
func (c *Coordinator) ResetConversation(ctx context.Context, scope domain.ResetScope) (*ResetResult, error) {
	if scope == "" {
		scope = domain.ResetConversation
	}
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	user, err := c.registry.ActiveUser(ctx)
	if err != nil {
		return nil, err
	}

	result := &ResetResult{Scope: scope}
	if c.chat != nil && user != nil {
		start := time.Now()
		ack, err := c.chat.ResetConversation(ctx, scope, user.ID)
		c.observe(CollaboratorChat, "reset", err, time.Since(start))
		if err != nil {
			c.logger.Warn("Chat reset failed", "scope", scope, "error", err)
		} else {
			result.Ack = ack
			result.Remote = true
		}
	}

	if scope == domain.ResetAll {
		if err := c.registry.ClearActiveUser(ctx); err != nil {
			return nil, err
		}
	}

	s, err := c.registry.CreateSession(ctx, "")
	if err != nil {
		return nil, err
	}
	result.Session = s
	return result, nil
}
