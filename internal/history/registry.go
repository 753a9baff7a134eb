// Package history owns the persisted chat sessions of one browsing context:
// the session map, the current-session pointer and the active-user pointer.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/crmchat/internal/domain"
	"github.com/ashureev/crmchat/internal/store"
)

// Store keys. They stay three independent entries.
const (
	KeySessions       = "chat_sessions"
	KeyCurrentSession = "current_session_id"
	KeyActiveUser     = "active_user"
)

// DefaultWelcome seeds every new session.
const DefaultWelcome = "Hello! I'm your AI assistant. How can I help you today?"

var (
	// ErrInvalidMessage is returned when a message carries an unknown type.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidSession is returned when an imported session has no id.
	ErrInvalidSession = errors.New("invalid session")
)

// SessionPatch lists the fields UpdateSession may change. Nil fields are left alone.
type SessionPatch struct {
	Title  *string `json:"title,omitempty"`
	UserID *string `json:"user_id,omitempty"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithWelcome sets the content of the welcome message.
func WithWelcome(content string) Option {
	return func(r *Registry) {
		if content != "" {
			r.welcome = content
		}
	}
}

// WithObserver registers an observer for committed mutations.
func WithObserver(obs Observer) Option {
	return func(r *Registry) {
		r.observer = obs
	}
}

// Registry provides CRUD over the sessions of a single namespace.
// All methods are safe for concurrent use; each one is a single atomic step
// with respect to other calls on the same Registry, and on any Registry of
// the same namespace handed out by one Registries pool.
type Registry struct {
	store     store.Store
	namespace string

	mu       *sync.Mutex
	now      func() time.Time
	welcome  string
	observer Observer
}

// New creates a Registry for namespace backed by s.
func New(s store.Store, namespace string, opts ...Option) *Registry {
	r := &Registry{
		store:     s,
		namespace: namespace,
		mu:        &sync.Mutex{},
		now:       time.Now,
		welcome:   DefaultWelcome,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Namespace returns the namespace this registry is bound to.
func (r *Registry) Namespace() string {
	return r.namespace
}

// Store returns the backing store.
func (r *Registry) Store() store.Store {
	return r.store
}

// Now returns the registry clock reading.
func (r *Registry) Now() time.Time {
	return r.now()
}

// lock serializes one operation on the namespace: the in-process mutex first,
// then the store lease when the store supports cross-process locking.
func (r *Registry) lock(ctx context.Context) (func(), error) {
	r.mu.Lock()
	locker, ok := r.store.(store.Locker)
	if !ok {
		return r.mu.Unlock, nil
	}
	release, err := locker.Lock(ctx, r.namespace)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	return func() {
		release()
		r.mu.Unlock()
	}, nil
}

// CreateSession creates a session, makes it current and returns it.
// An empty title defaults to "Chat N" where N is the new session count.
func (r *Registry) CreateSession(ctx context.Context, title string) (*domain.Session, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sessions, err := r.loadSessions(ctx)
	if err != nil {
		return nil, err
	}
	return r.createLocked(ctx, sessions, title)
}

func (r *Registry) createLocked(ctx context.Context, sessions map[string]*domain.Session, title string) (*domain.Session, error) {
	now := r.now()
	if title == "" {
		title = fmt.Sprintf("Chat %d", len(sessions)+1)
	}

	s := &domain.Session{
		ID:    newSessionID(now),
		Title: title,
		Messages: []domain.Message{{
			ID:        newMessageID(now, 0),
			Type:      domain.MessageTypeBot,
			Content:   r.welcome,
			Timestamp: FormatTimestamp(now),
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	sessions[s.ID] = s

	if err := r.saveSessions(ctx, sessions); err != nil {
		return nil, err
	}
	if err := r.setCurrentID(ctx, s.ID); err != nil {
		return nil, err
	}

	slog.Debug("Session created", "namespace", r.namespace, "session_id", s.ID)
	r.publish(EventSessionCreated, s.ID, "")
	return s.Clone(), nil
}

// Session returns the session with id, or nil when it does not exist.
func (r *Registry) Session(ctx context.Context, id string) (*domain.Session, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sessions, err := r.loadSessions(ctx)
	if err != nil {
		return nil, err
	}
	return sessions[id].Clone(), nil
}

// CurrentSessionID returns the raw current-session pointer, "" when unset.
// It does not check that the pointer resolves.
func (r *Registry) CurrentSessionID(ctx context.Context) (string, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()
	return r.currentID(ctx)
}

// CurrentOrNewSession returns the current session. When the pointer is unset
// or dangling it creates a new session, makes it current and returns that.
func (r *Registry) CurrentOrNewSession(ctx context.Context) (*domain.Session, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sessions, err := r.loadSessions(ctx)
	if err != nil {
		return nil, err
	}
	id, err := r.currentID(ctx)
	if err != nil {
		return nil, err
	}
	if s, ok := sessions[id]; ok {
		return s.Clone(), nil
	}

	if id != "" {
		slog.Warn("Current session pointer is dangling, creating a new session",
			"namespace", r.namespace, "session_id", id)
	}
	return r.createLocked(ctx, sessions, "")
}

// UpdateSession applies patch to the session and stamps updated_at.
// It returns nil when the session does not exist.
func (r *Registry) UpdateSession(ctx context.Context, id string, patch SessionPatch) (*domain.Session, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sessions, err := r.loadSessions(ctx)
	if err != nil {
		return nil, err
	}
	s, ok := sessions[id]
	if !ok {
		return nil, nil
	}

	if patch.Title != nil {
		s.Title = *patch.Title
	}
	if patch.UserID != nil {
		uid := *patch.UserID
		s.UserID = &uid
	}
	s.UpdatedAt = r.now()

	if err := r.saveSessions(ctx, sessions); err != nil {
		return nil, err
	}
	r.publish(EventSessionUpdated, id, "")
	return s.Clone(), nil
}

// AddMessage appends msg to the session, filling the id and timestamp when
// absent. The first user message of a session also sets its title.
// It returns nil when the session does not exist.
func (r *Registry) AddMessage(ctx context.Context, id string, msg domain.Message) (*domain.Session, error) {
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}

	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sessions, err := r.loadSessions(ctx)
	if err != nil {
		return nil, err
	}
	s, ok := sessions[id]
	if !ok {
		return nil, nil
	}

	now := r.now()
	if msg.ID == "" {
		msg.ID = newMessageID(now, len(s.Messages))
	}
	if msg.Timestamp == "" {
		msg.Timestamp = FormatTimestamp(now)
	}

	firstUser := msg.Type == domain.MessageTypeUser && !s.HasUserMessage()
	s.Messages = append(s.Messages, msg)
	if firstUser {
		if title := DeriveTitle(msg.Content); title != "" {
			s.Title = title
		}
	}
	s.UpdatedAt = now

	if err := r.saveSessions(ctx, sessions); err != nil {
		return nil, err
	}
	r.publish(EventMessageAdded, id, msg.Type)
	return s.Clone(), nil
}

// DeleteSession removes the session and reports whether it existed.
// Deleting the current session moves the pointer to the most recently
// updated remaining session, or to a fresh session when none remain.
func (r *Registry) DeleteSession(ctx context.Context, id string) (bool, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	sessions, err := r.loadSessions(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := sessions[id]; !ok {
		return false, nil
	}
	delete(sessions, id)

	if err := r.saveSessions(ctx, sessions); err != nil {
		return false, err
	}
	r.publish(EventSessionDeleted, id, "")

	current, err := r.currentID(ctx)
	if err != nil {
		return true, err
	}
	if current != id {
		return true, nil
	}

	remaining := sortSessions(sessions)
	if len(remaining) == 0 {
		if _, err := r.createLocked(ctx, sessions, ""); err != nil {
			return true, err
		}
		return true, nil
	}

	next := remaining[0].ID
	if err := r.setCurrentID(ctx, next); err != nil {
		return true, err
	}
	r.publish(EventCurrentChanged, next, "")
	return true, nil
}

// SessionsList returns every session, most recently updated first.
func (r *Registry) SessionsList(ctx context.Context) ([]*domain.Session, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sessions, err := r.loadSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := sortSessions(sessions)
	for i, s := range out {
		out[i] = s.Clone()
	}
	return out, nil
}

// SwitchToSession makes id the current session. It returns nil, and leaves
// the pointer untouched, when the session does not exist.
func (r *Registry) SwitchToSession(ctx context.Context, id string) (*domain.Session, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sessions, err := r.loadSessions(ctx)
	if err != nil {
		return nil, err
	}
	s, ok := sessions[id]
	if !ok {
		return nil, nil
	}
	if err := r.setCurrentID(ctx, id); err != nil {
		return nil, err
	}
	r.publish(EventCurrentChanged, id, "")
	return s.Clone(), nil
}

// Import stores a fully formed session, replacing any session with the same
// id, and optionally makes it current.
func (r *Registry) Import(ctx context.Context, s domain.Session, makeCurrent bool) error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSession)
	}

	unlock, err := r.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	sessions, err := r.loadSessions(ctx)
	if err != nil {
		return err
	}
	sessions[s.ID] = s.Clone()
	if err := r.saveSessions(ctx, sessions); err != nil {
		return err
	}
	r.publish(EventSessionCreated, s.ID, "")

	if makeCurrent {
		if err := r.setCurrentID(ctx, s.ID); err != nil {
			return err
		}
		r.publish(EventCurrentChanged, s.ID, "")
	}
	return nil
}

// ActiveUser returns the active user, or nil when none is stored.
func (r *Registry) ActiveUser(ctx context.Context) (*domain.ActiveUser, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return r.activeUser(ctx)
}

// SetActiveUser stores user as the active user. With bindCurrent set, the
// current session (if the pointer resolves) is rebound to user.ID in the same
// step; the rebound session is returned.
func (r *Registry) SetActiveUser(ctx context.Context, user domain.ActiveUser, bindCurrent bool) (*domain.Session, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return r.setActiveUserLocked(ctx, user, bindCurrent)
}

// UpdateActiveUser reads the active user, passes it to fn and stores the
// result in one step. fn receives nil when no user is stored; returning nil
// leaves the store untouched.
func (r *Registry) UpdateActiveUser(ctx context.Context, bindCurrent bool, fn func(*domain.ActiveUser) (*domain.ActiveUser, error)) (*domain.ActiveUser, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := r.activeUser(ctx)
	if err != nil {
		return nil, err
	}
	next, err := fn(current)
	if err != nil || next == nil {
		return current, err
	}
	if _, err := r.setActiveUserLocked(ctx, *next, bindCurrent); err != nil {
		return nil, err
	}
	return next, nil
}

// ClearActiveUser removes the active user. Session bindings are left intact.
func (r *Registry) ClearActiveUser(ctx context.Context) error {
	unlock, err := r.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.store.Remove(ctx, r.namespace, KeyActiveUser); err != nil {
		return err
	}
	r.publish(EventUserChanged, "", "")
	return nil
}

func (r *Registry) setActiveUserLocked(ctx context.Context, user domain.ActiveUser, bindCurrent bool) (*domain.Session, error) {
	data, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("marshal active user: %w", err)
	}
	if err := r.store.Set(ctx, r.namespace, KeyActiveUser, data); err != nil {
		return nil, err
	}
	r.publish(EventUserChanged, "", "")

	if !bindCurrent {
		return nil, nil
	}

	sessions, err := r.loadSessions(ctx)
	if err != nil {
		return nil, err
	}
	id, err := r.currentID(ctx)
	if err != nil {
		return nil, err
	}
	s, ok := sessions[id]
	if !ok {
		return nil, nil
	}

	uid := user.ID
	s.UserID = &uid
	s.UpdatedAt = r.now()
	if err := r.saveSessions(ctx, sessions); err != nil {
		return nil, err
	}
	r.publish(EventSessionUpdated, id, "")
	return s.Clone(), nil
}

func (r *Registry) activeUser(ctx context.Context) (*domain.ActiveUser, error) {
	data, found, err := r.store.Get(ctx, r.namespace, KeyActiveUser)
	if err != nil || !found {
		return nil, err
	}
	var u domain.ActiveUser
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, r.decodeError(KeyActiveUser, err)
	}
	return &u, nil
}

func (r *Registry) loadSessions(ctx context.Context) (map[string]*domain.Session, error) {
	data, found, err := r.store.Get(ctx, r.namespace, KeySessions)
	if err != nil {
		return nil, err
	}
	sessions := make(map[string]*domain.Session)
	if !found || len(data) == 0 {
		return sessions, nil
	}
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, r.decodeError(KeySessions, err)
	}
	return sessions, nil
}

func (r *Registry) saveSessions(ctx context.Context, sessions map[string]*domain.Session) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	return r.store.Set(ctx, r.namespace, KeySessions, data)
}

func (r *Registry) currentID(ctx context.Context) (string, error) {
	data, found, err := r.store.Get(ctx, r.namespace, KeyCurrentSession)
	if err != nil || !found {
		return "", err
	}
	return string(data), nil
}

func (r *Registry) setCurrentID(ctx context.Context, id string) error {
	return r.store.Set(ctx, r.namespace, KeyCurrentSession, []byte(id))
}

func (r *Registry) decodeError(key string, err error) error {
	return &store.StorageError{
		Op:        "decode",
		Namespace: r.namespace,
		Key:       key,
		Err:       err,
	}
}

func (r *Registry) publish(kind EventKind, sessionID string, msgType domain.MessageType) {
	if r.observer == nil {
		return
	}
	r.observer.Publish(Event{
		Kind:        kind,
		Namespace:   r.namespace,
		SessionID:   sessionID,
		MessageType: msgType,
		At:          r.now(),
	})
}

// sortSessions orders by updated_at descending, then created_at descending,
// then id so the order is total.
func sortSessions(sessions map[string]*domain.Session) []*domain.Session {
	out := make([]*domain.Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}
