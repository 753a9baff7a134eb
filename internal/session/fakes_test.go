package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashureev/crmchat/internal/domain"
	"github.com/ashureev/crmchat/internal/history"
	"github.com/ashureev/crmchat/internal/store"
)

var errRemote = errors.New("remote unavailable")

type fakeLookup struct {
	mu      sync.Mutex
	users   map[string]map[string]any
	byEmail map[string]map[string]any
	err     error
	block   chan struct{}
	calls   int
}

func (f *fakeLookup) GetByID(ctx context.Context, id string) (map[string]any, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.users[id], nil
}

func (f *fakeLookup) FindByEmail(_ context.Context, email string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byEmail[email], nil
}

type fakeChat struct {
	mu       sync.Mutex
	reply    *domain.ChatReply
	err      error
	requests []domain.ChatRequest
	resets   []domain.ResetScope
	resetErr error
	// started is signalled when Send is entered; release unblocks it.
	started chan struct{}
	release chan struct{}
}

func (f *fakeChat) Send(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.reply == nil {
		return &domain.ChatReply{Response: "echo: " + req.Message, SessionID: req.SessionID}, nil
	}
	r := *f.reply
	return &r, nil
}

func (f *fakeChat) ResetConversation(_ context.Context, scope domain.ResetScope, _ string) (*domain.ResetAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, scope)
	if f.resetErr != nil {
		return nil, f.resetErr
	}
	return &domain.ResetAck{Message: "reset", ResetType: string(scope), AffectedRecords: 1}, nil
}

type recordedCall struct {
	collaborator, operation string
	failed                  bool
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (f *fakeRecorder) ObserveRemote(collaborator, operation string, err error, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{collaborator, operation, err != nil})
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCoordinator(opts ...Option) (*Coordinator, *fakeClock, store.Store) {
	st := store.NewMemory()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg := history.New(st, "client_test", history.WithClock(clock.Now))
	return New(reg, opts...), clock, st
}

func strPtr(s string) *string { return &s }
