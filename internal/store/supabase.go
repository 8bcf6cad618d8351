package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/supabase-community/supabase-go"
)

// Supabase table names.
const (
	callLogsTable      = "call_logs"
	agentsTable        = "agents"
	systemConfigsTable = "system_configs"
)

// SupabaseConfig configures the Supabase (PostgREST) backend.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
}

// SupabaseStore implements Store on top of Supabase's PostgREST API.
type SupabaseStore struct {
	client *supabase.Client
}

type systemConfigRow struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NewSupabaseStore constructs a new Supabase store.
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	client, err := supabase.NewClient(strings.TrimRight(cfg.URL, "/"), cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

// FindCallBySID returns the call_logs row for callSID.
func (s *SupabaseStore) FindCallBySID(ctx context.Context, callSID string) (*CallRecord, error) {
	rows, err := withContext(ctx, func() ([]CallRecord, error) {
		var rows []CallRecord
		_, err := s.client.From(callLogsTable).
			Select("id,call_sid,agent,status", "", false).
			Eq("call_sid", callSID).
			ExecuteTo(&rows)
		return rows, err
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", callLogsTable, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("call %s: %w", callSID, ErrNotFound)
	}
	return &rows[0], nil
}

// UpdateCallStatus sets the status column of call_logs row id.
func (s *SupabaseStore) UpdateCallStatus(ctx context.Context, id, status string) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		_, _, err := s.client.From(callLogsTable).
			Update(map[string]interface{}{"status": status}, "minimal", "").
			Eq("id", id).
			Execute()
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("update %s %s: %w", callLogsTable, id, err)
	}
	return nil
}

// FindAgent returns the agents row with the given id.
func (s *SupabaseStore) FindAgent(ctx context.Context, id string) (*AgentProfile, error) {
	rows, err := withContext(ctx, func() ([]AgentProfile, error) {
		var rows []AgentProfile
		_, err := s.client.From(agentsTable).
			Select("id,prompt,voice", "", false).
			Eq("id", id).
			ExecuteTo(&rows)
		return rows, err
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", agentsTable, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return &rows[0], nil
}

// ConfigValue returns the non-empty system_configs value stored under key.
func (s *SupabaseStore) ConfigValue(ctx context.Context, key string) (string, error) {
	rows, err := withContext(ctx, func() ([]systemConfigRow, error) {
		var rows []systemConfigRow
		_, err := s.client.From(systemConfigsTable).
			Select("key,value", "", false).
			Eq("key", key).
			ExecuteTo(&rows)
		return rows, err
	})
	if err != nil {
		return "", fmt.Errorf("query %s: %w", systemConfigsTable, err)
	}
	if len(rows) == 0 || rows[0].Value == "" {
		return "", fmt.Errorf("config %s: %w", key, ErrNotFound)
	}
	return rows[0].Value, nil
}

// withContext runs a PostgREST round trip, which takes no context, and stops
// waiting for it once ctx is done. An abandoned request finishes on its own.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v: v, err: err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
