// Package store is the persistence collaborator of the bridge: it resolves a
// Twilio call to its call-log record, loads the agent profile that drives the
// conversation and serves system configuration values such as credentials.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record, agent or config key does not exist.
var ErrNotFound = errors.New("store: not found")

// Call-log status values written by the bridge.
const (
	CallStatusCalled = "called"
)

// CallRecord links a Twilio call to the agent that should answer it.
type CallRecord struct {
	ID      string `json:"id"`
	CallSID string `json:"call_sid"`
	AgentID string `json:"agent"`
	Status  string `json:"status"`
}

// AgentProfile is the prompt and voice selection for an agent.
type AgentProfile struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Voice  string `json:"voice"`
}

// Store is implemented by every persistence backend.
type Store interface {
	FindCallBySID(ctx context.Context, callSID string) (*CallRecord, error)
	UpdateCallStatus(ctx context.Context, id, status string) error
	FindAgent(ctx context.Context, id string) (*AgentProfile, error)
	ConfigValue(ctx context.Context, key string) (string, error)
}
