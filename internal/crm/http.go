// Package crm resolves users and conversations held by the CRM service.
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/crmchat/internal/domain"
)

const (
	defaultTimeout   = 10 * time.Second
	usersPageSize    = 100
	maxUserPages     = 50
	maxResponseBytes = 4 << 20
)

var (
	// ErrLookupFailed wraps every transport or protocol failure.
	ErrLookupFailed = errors.New("crm lookup failed")
	// ErrNotConfigured is returned when no base URL is set.
	ErrNotConfigured = errors.New("crm client is not configured")
)

// envelope is the {success, data} response wrapper of the CRM API.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
	Pages   int             `json:"pages"`
}

// HTTPClient talks to the CRM REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for baseURL. A zero timeout uses 10s.
func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse crm base url: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// GetByID returns the user payload, or nil when the CRM has no such user.
func (c *HTTPClient) GetByID(ctx context.Context, id string) (map[string]any, error) {
	env, err := c.get(ctx, "/crm/users/"+url.PathEscape(id), nil)
	if err != nil || env == nil {
		return nil, err
	}
	var user map[string]any
	if err := json.Unmarshal(env.Data, &user); err != nil {
		return nil, fmt.Errorf("%w: decode user: %v", ErrLookupFailed, err)
	}
	return user, nil
}

// FindByEmail pages through the user list looking for email, compared
// case-insensitively. It returns nil when no user matches.
func (c *HTTPClient) FindByEmail(ctx context.Context, email string) (map[string]any, error) {
	want := strings.ToLower(strings.TrimSpace(email))
	if want == "" {
		return nil, nil
	}

	for page := 1; page <= maxUserPages; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(usersPageSize))
		q.Set("active_only", "false")

		env, err := c.get(ctx, "/crm/users", q)
		if err != nil {
			return nil, err
		}
		if env == nil {
			return nil, nil
		}

		var users []map[string]any
		if err := json.Unmarshal(env.Data, &users); err != nil {
			return nil, fmt.Errorf("%w: decode users: %v", ErrLookupFailed, err)
		}
		for _, u := range users {
			if e, ok := u["email"].(string); ok && strings.ToLower(e) == want {
				return u, nil
			}
		}
		if len(users) == 0 || page >= env.Pages {
			return nil, nil
		}
	}
	return nil, nil
}

// Conversations returns one page of the user's CRM conversations.
// A user unknown to the CRM yields an empty page.
func (c *HTTPClient) Conversations(ctx context.Context, userID string, page, perPage int) (*domain.ConversationPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 10
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	env, err := c.get(ctx, "/crm/conversations/"+url.PathEscape(userID), q)
	if err != nil {
		return nil, err
	}
	out := &domain.ConversationPage{Conversations: []domain.Conversation{}, Page: page, PerPage: perPage}
	if env == nil {
		return out, nil
	}
	if err := json.Unmarshal(env.Data, &out.Conversations); err != nil {
		return nil, fmt.Errorf("%w: decode conversations: %v", ErrLookupFailed, err)
	}
	out.Total, out.Pages = env.Total, env.Pages
	if env.Page > 0 {
		out.Page = env.Page
	}
	if env.PerPage > 0 {
		out.PerPage = env.PerPage
	}
	return out, nil
}

// Ping checks the CRM health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrLookupFailed, resp.StatusCode)
	}
	return nil
}

// get performs a GET and decodes the envelope. A 404 is (nil, nil).
func (c *HTTPClient) get(ctx context.Context, path string, query url.Values) (*envelope, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrLookupFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s returned %d", ErrLookupFailed, path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrLookupFailed, err)
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: %s", ErrLookupFailed, firstNonEmpty(env.Error, env.Message, "unsuccessful response"))
	}
	return &env, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
