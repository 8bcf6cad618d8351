package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStoreFromClient(rdb), mr
}

func TestRedisStore_FindCallAndAgent(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("call_log:sid:C1", "42"))
	mr.HSet("call_log:42", "call_sid", "C1")
	mr.HSet("call_log:42", "agent", "a-7")
	mr.HSet("call_log:42", "status", "pending")
	mr.HSet("agent:a-7", "prompt", "You are Kofe, be brief.")
	mr.HSet("agent:a-7", "voice", "shimmer")

	rec, err := s.FindCallBySID(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, &CallRecord{ID: "42", CallSID: "C1", AgentID: "a-7", Status: "pending"}, rec)

	agent, err := s.FindAgent(ctx, rec.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "You are Kofe, be brief.", agent.Prompt)
	assert.Equal(t, "shimmer", agent.Voice)

	require.NoError(t, s.UpdateCallStatus(ctx, "42", CallStatusCalled))
	assert.Equal(t, CallStatusCalled, mr.HGet("call_log:42", "status"))
}

func TestRedisStore_NotFound(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, err := s.FindCallBySID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindAgent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.UpdateCallStatus(ctx, "missing", CallStatusCalled), ErrNotFound)

	_, err = s.ConfigValue(ctx, "openai_api_key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ConfigValue(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.HSet("system_config", "openai_api_key", "sk-test")

	v, err := s.ConfigValue(context.Background(), "openai_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", v)
}
