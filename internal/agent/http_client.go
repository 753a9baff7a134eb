package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/crmchat/internal/domain"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxReplyBytes      = 8 << 20
)

// HTTPClient talks to the chat service REST API (POST /chat, POST /reset).
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a client for baseURL. A zero timeout uses 60s.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("chat base url is required")
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Send implements Client.
func (c *HTTPClient) Send(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error) {
	var reply domain.ChatReply
	if err := c.post(ctx, "/chat", req, &reply); err != nil {
		c.logger.Warn("Chat send failed", "error", err, "user_id", req.UserID, "session_id", req.SessionID)
		return nil, err
	}
	if err := validateReply(&reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// ResetConversation implements Client.
func (c *HTTPClient) ResetConversation(ctx context.Context, scope domain.ResetScope, userID string) (*domain.ResetAck, error) {
	var ack domain.ResetAck
	if err := c.post(ctx, "/reset", resetRequest{UserID: userID, ResetType: string(scope)}, &ack); err != nil {
		c.logger.Warn("Chat reset failed", "error", err, "user_id", userID, "scope", scope)
		return nil, err
	}
	return &ack, nil
}

// Health implements Client.
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// Close implements Client.
func (c *HTTPClient) Close() {
	c.http.CloseIdleConnections()
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d: %s", ErrBadResponse, path, resp.StatusCode, errorDetail(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

// errorDetail extracts the FastAPI {"detail": ...} message when present.
func errorDetail(body []byte) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != nil {
		return fmt.Sprint(payload.Detail)
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
