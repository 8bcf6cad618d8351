package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis key layout:
//
//	call_log:<id>            hash  call_sid, agent, status
//	call_log:sid:<call_sid>  string -> <id>
//	agent:<id>               hash  prompt, voice
//	system_config            hash  <key> -> <value>
const (
	callLogKeyPrefix    = "call_log:"
	callLogSIDKeyPrefix = "call_log:sid:"
	agentKeyPrefix      = "agent:"
	systemConfigKey     = "system_config"
)

// RedisStore implements Store on Redis hashes.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to the Redis instance at rawURL (redis://host:port/db).
func NewRedisStore(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.rdb.Close() }

// FindCallBySID resolves callSID through the sid index to its call_log hash.
func (s *RedisStore) FindCallBySID(ctx context.Context, callSID string) (*CallRecord, error) {
	id, err := s.rdb.Get(ctx, callLogSIDKeyPrefix+callSID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("call %s: %w", callSID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup call %s: %w", callSID, err)
	}
	fields, err := s.rdb.HGetAll(ctx, callLogKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("load call %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("call %s (id %s): %w", callSID, id, ErrNotFound)
	}
	return &CallRecord{
		ID:      id,
		CallSID: callSID,
		AgentID: fields["agent"],
		Status:  fields["status"],
	}, nil
}

// UpdateCallStatus sets the status field of an existing call_log hash.
func (s *RedisStore) UpdateCallStatus(ctx context.Context, id, status string) error {
	key := callLogKeyPrefix + id
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check call %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("call id %s: %w", id, ErrNotFound)
	}
	if err := s.rdb.HSet(ctx, key, "status", status).Err(); err != nil {
		return fmt.Errorf("update call %s: %w", id, err)
	}
	return nil
}

// FindAgent loads the agent hash for id.
func (s *RedisStore) FindAgent(ctx context.Context, id string) (*AgentProfile, error) {
	fields, err := s.rdb.HGetAll(ctx, agentKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("load agent %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return &AgentProfile{ID: id, Prompt: fields["prompt"], Voice: fields["voice"]}, nil
}

// ConfigValue returns the non-empty system_config field named key.
func (s *RedisStore) ConfigValue(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.HGet(ctx, systemConfigKey, key).Result()
	if errors.Is(err, redis.Nil) || (err == nil && v == "") {
		return "", fmt.Errorf("config %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load config %s: %w", key, err)
	}
	return v, nil
}
