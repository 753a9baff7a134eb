// Package session binds a history registry to user identity and the remote
// CRM and chat collaborators.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/crmchat/internal/domain"
	"github.com/ashureev/crmchat/internal/history"
)

// AnonymousPrefix starts every fabricated user id.
const AnonymousPrefix = "anonymous-"

// DefaultEnrichTimeout bounds the background profile load started by SwitchToSession.
const DefaultEnrichTimeout = 10 * time.Second

var (
	// ErrIdentityDowngrade is returned when an anonymous user would replace an
	// identified one.
	ErrIdentityDowngrade = errors.New("identified user cannot be replaced by an anonymous user")
	// ErrInvalidUser is returned for a user without an id.
	ErrInvalidUser = errors.New("invalid user")
	// ErrInvalidScope is returned for an unknown reset scope.
	ErrInvalidScope = errors.New("invalid reset scope")
	// ErrChatUnavailable is returned when no chat client is configured.
	ErrChatUnavailable = errors.New("chat service is not configured")
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithUserLookup sets the CRM collaborator.
func WithUserLookup(users UserLookup) Option {
	return func(c *Coordinator) {
		c.users = users
	}
}

// WithChatClient sets the chat collaborator.
func WithChatClient(chat ChatClient) Option {
	return func(c *Coordinator) {
		c.chat = chat
	}
}

// WithEnrichTimeout bounds background profile loads.
func WithEnrichTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.enrichTimeout = d
		}
	}
}

// WithRemoteRecorder records remote call outcomes.
func WithRemoteRecorder(rec RemoteRecorder) Option {
	return func(c *Coordinator) {
		c.recorder = rec
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Coordinator is the façade the HTTP layer uses for one namespace.
type Coordinator struct {
	registry *history.Registry
	users    UserLookup
	chat     ChatClient
	recorder RemoteRecorder
	logger   *slog.Logger

	enrichTimeout time.Duration
	background    *sync.WaitGroup
}

// New creates a Coordinator over registry.
func New(registry *history.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:      registry,
		logger:        slog.Default(),
		enrichTimeout: DefaultEnrichTimeout,
		background:    &sync.WaitGroup{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("namespace", registry.Namespace())
	return c
}

// Registry returns the underlying registry.
func (c *Coordinator) Registry() *history.Registry {
	return c.registry
}

// Wait blocks until background enrichment started by SwitchToSession finishes.
func (c *Coordinator) Wait() {
	c.background.Wait()
}

// GetOrCreateSessionUser returns the active user, fabricating and storing an
// anonymous one when none exists. Repeated calls return the same user.
func (c *Coordinator) GetOrCreateSessionUser(ctx context.Context) (*domain.ActiveUser, error) {
	return c.registry.UpdateActiveUser(ctx, false, func(cur *domain.ActiveUser) (*domain.ActiveUser, error) {
		if cur != nil {
			return nil, nil
		}
		u := &domain.ActiveUser{
			ID:          fmt.Sprintf("%s%d", AnonymousPrefix, c.registry.Now().UnixMilli()),
			IsAnonymous: true,
		}
		c.logger.Info("Anonymous user created", "user_id", u.ID)
		return u, nil
	})
}

// ActiveUser returns the stored active user without creating one.
func (c *Coordinator) ActiveUser(ctx context.Context) (*domain.ActiveUser, error) {
	return c.registry.ActiveUser(ctx)
}

// BindingState reports how the browsing context is bound to a user.
func (c *Coordinator) BindingState(ctx context.Context) (BindingState, error) {
	u, err := c.registry.ActiveUser(ctx)
	if err != nil {
		return Unbound, err
	}
	return StateOf(u), nil
}

// StoreUser makes user the active user and binds the current session to it
// in one step. An identified user is never replaced by an anonymous one.
func (c *Coordinator) StoreUser(ctx context.Context, user domain.ActiveUser) error {
	return c.storeUser(ctx, user, true)
}

func (c *Coordinator) storeUser(ctx context.Context, user domain.ActiveUser, bindCurrent bool) error {
	if user.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidUser)
	}
	_, err := c.registry.UpdateActiveUser(ctx, bindCurrent, func(cur *domain.ActiveUser) (*domain.ActiveUser, error) {
		if cur != nil && !cur.IsAnonymous && user.IsAnonymous {
			return nil, ErrIdentityDowngrade
		}
		return &user, nil
	})
	return err
}

// LoadUserForSession resolves userID against the CRM and stores the result.
// Remote failures are logged and reported as nil so callers proceed
// anonymously; only storage errors are returned.
func (c *Coordinator) LoadUserForSession(ctx context.Context, userID string) (*domain.ActiveUser, error) {
	return c.loadUser(ctx, userID, true)
}

func (c *Coordinator) loadUser(ctx context.Context, userID string, bindCurrent bool) (*domain.ActiveUser, error) {
	if c.users == nil || userID == "" {
		return nil, nil
	}

	start := time.Now()
	payload, err := c.users.GetByID(ctx, userID)
	c.observe(CollaboratorCRM, "get_user", err, time.Since(start))
	if err != nil {
		c.logger.Warn("Failed to load user for session", "user_id", userID, "error", err)
		return nil, nil
	}
	return c.storeRemoteUser(ctx, payload, userID, bindCurrent)
}

// FindUserByEmail resolves email against the CRM and stores the result.
// It degrades the same way LoadUserForSession does.
func (c *Coordinator) FindUserByEmail(ctx context.Context, email string) (*domain.ActiveUser, error) {
	email = strings.TrimSpace(email)
	if c.users == nil || email == "" {
		return nil, nil
	}

	start := time.Now()
	payload, err := c.users.FindByEmail(ctx, email)
	c.observe(CollaboratorCRM, "find_by_email", err, time.Since(start))
	if err != nil {
		c.logger.Warn("Failed to find user by email", "error", err)
		return nil, nil
	}
	return c.storeRemoteUser(ctx, payload, "", true)
}

func (c *Coordinator) storeRemoteUser(ctx context.Context, payload map[string]any, fallbackID string, bindCurrent bool) (*domain.ActiveUser, error) {
	if payload == nil {
		return nil, nil
	}
	id := PayloadUserID(payload)
	if id == "" {
		id = fallbackID
	}
	if id == "" {
		c.logger.Warn("CRM payload carries no user id")
		return nil, nil
	}

	user := domain.ActiveUser{ID: id}.Apply(NormalizeProfile(payload))
	if err := c.storeUser(ctx, user, bindCurrent); err != nil {
		return nil, err
	}
	return &user, nil
}

// SwitchToSession makes id current. When the session is bound to a CRM user
// the profile is reloaded in the background; the switch never waits for it.
// It returns nil when the session does not exist.
func (c *Coordinator) SwitchToSession(ctx context.Context, id string) (*domain.Session, error) {
	s, err := c.registry.SwitchToSession(ctx, id)
	if err != nil || s == nil {
		return s, err
	}

	uid := s.BoundUserID()
	if uid == "" || strings.HasPrefix(uid, AnonymousPrefix) || c.users == nil {
		return s, nil
	}

	c.background.Add(1)
	go func() {
		defer c.background.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.enrichTimeout)
		defer cancel()
		// The session already carries uid; only the active user is refreshed.
		if _, err := c.loadUser(bg, uid, false); err != nil {
			c.logger.Warn("Background user enrichment failed", "session_id", s.ID, "user_id", uid, "error", err)
		}
	}()
	return s, nil
}

// NewChat creates a session and makes it current.
func (c *Coordinator) NewChat(ctx context.Context, title string) (*domain.Session, error) {
	return c.registry.CreateSession(ctx, title)
}

// CurrentSession returns the current session, creating one when needed.
func (c *Coordinator) CurrentSession(ctx context.Context) (*domain.Session, error) {
	return c.registry.CurrentOrNewSession(ctx)
}

// Session returns a session by id, nil when unknown.
func (c *Coordinator) Session(ctx context.Context, id string) (*domain.Session, error) {
	return c.registry.Session(ctx, id)
}

// UpdateSession patches a session, nil when unknown.
func (c *Coordinator) UpdateSession(ctx context.Context, id string, patch history.SessionPatch) (*domain.Session, error) {
	return c.registry.UpdateSession(ctx, id, patch)
}

// DeleteSession removes a session and reports whether it existed.
func (c *Coordinator) DeleteSession(ctx context.Context, id string) (bool, error) {
	return c.registry.DeleteSession(ctx, id)
}

// SessionsList returns sessions, most recently updated first.
func (c *Coordinator) SessionsList(ctx context.Context) ([]*domain.Session, error) {
	return c.registry.SessionsList(ctx)
}

// AddMessage appends a message to a session, nil when unknown.
func (c *Coordinator) AddMessage(ctx context.Context, id string, msg domain.Message) (*domain.Session, error) {
	return c.registry.AddMessage(ctx, id, msg)
}

func (c *Coordinator) observe(collaborator, op string, err error, elapsed time.Duration) {
	if c.recorder != nil {
		c.recorder.ObserveRemote(collaborator, op, err, elapsed)
	}
}
