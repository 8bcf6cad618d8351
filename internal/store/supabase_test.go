package store

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSupabaseStore_RequiresConfig(t *testing.T) {
	cases := []SupabaseConfig{
		{},
		{URL: "https://project.supabase.co"},
		{ServiceRoleKey: "key"},
	}
	for _, cfg := range cases {
		_, err := NewSupabaseStore(cfg)
		assert.Error(t, err)
	}
}

func newTestSupabaseStore(t *testing.T, handler http.HandlerFunc) *SupabaseStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := NewSupabaseStore(SupabaseConfig{URL: srv.URL, ServiceRoleKey: "service-key"})
	require.NoError(t, err)
	return s
}

func TestSupabaseStore_FindCallBySID(t *testing.T) {
	s := newTestSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"rec1","call_sid":"CA1","agent":"ag1","status":"queued"}]`))
	})

	rec, err := s.FindCallBySID(context.Background(), "CA1")
	require.NoError(t, err)
	assert.Equal(t, &CallRecord{ID: "rec1", CallSID: "CA1", AgentID: "ag1", Status: "queued"}, rec)
}

func TestSupabaseStore_EmptyResultIsNotFound(t *testing.T) {
	s := newTestSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := s.FindAgent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ConfigValue(context.Background(), "openai_api_key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSupabaseStore_HungRequestHonorsContext(t *testing.T) {
	release := make(chan struct{})
	s := newTestSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	// Runs before the server cleanup so the handler can return.
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err := s.FindCallBySID(ctx, "CA1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), time.Second)
}

func TestWithContext(t *testing.T) {
	v, err := withContext(context.Background(), func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	boom := errors.New("boom")
	_, err = withContext(context.Background(), func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err = withContext(ctx, func() (int, error) { called = true; return 1, nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
