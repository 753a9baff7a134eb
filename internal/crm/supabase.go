package crm

import (
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

const usersTable = "users"

// SupabaseLookup resolves users straight from the CRM's PostgREST users table.
type SupabaseLookup struct {
	client *supabase.Client
}

// NewSupabaseLookup creates a lookup against the project at url.
func NewSupabaseLookup(url, apiKey string) (*SupabaseLookup, error) {
	if url == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	client, err := supabase.NewClient(url, apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseLookup{client: client}, nil
}

// GetByID returns the user row, or nil when no row matches.
func (s *SupabaseLookup) GetByID(_ context.Context, id string) (map[string]any, error) {
	var rows []map[string]any
	_, err := s.client.From(usersTable).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("%w: get user: %v", ErrLookupFailed, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// FindByEmail returns the user row whose email matches case-insensitively.
func (s *SupabaseLookup) FindByEmail(_ context.Context, email string) (map[string]any, error) {
	var rows []map[string]any
	_, err := s.client.From(usersTable).
		Select("*", "", false).
		Ilike("email", email).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("%w: find user by email: %v", ErrLookupFailed, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}
