// Package tools holds the callable tools advertised to the realtime backend
// and turns every invocation into a function-output payload.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/realtime"
)

// ErrorMarker is what the conversation sees when a tool call fails.
const ErrorMarker = "tool_call_failed"

// ErrUnknownTool is returned for calls naming an unregistered tool.
var ErrUnknownTool = errors.New("tools: unknown tool")

// Call is one tool invocation requested by the backend.
type Call struct {
	Name      string
	Arguments string // JSON object as sent by the backend
	CallID    string
	// ConversationID is the knowledge-service continuity id, empty on the first call.
	ConversationID string
}

// Result is a handler's successful answer.
type Result struct {
	Answer         string
	ConversationID string
}

// Handler executes a tool.
type Handler interface {
	Handle(ctx context.Context, call Call) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call Call) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, call Call) (Result, error) { return f(ctx, call) }

// Tool is a registered capability.
type Tool struct {
	Name        string
	Description string
	Parameters  realtime.ToolParameters
	Handler     Handler
}

// Outcome is always produced by Invoke. Output is ready to be sent as the
// function_call_output item; Err is kept for logging only.
type Outcome struct {
	Output         string
	ConversationID string
	Err            error
}

// Registry is the set of tools a session may call.
type Registry struct {
	timeout time.Duration

	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry. A positive timeout bounds every invocation.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{timeout: timeout, tools: make(map[string]Tool)}
}

// Register adds t. Names must be unique and non-empty.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("tools: empty tool name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: %s has no handler", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tools: %s already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Manifest lists the registered tools in registration order.
func (r *Registry) Manifest() []realtime.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]realtime.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		params := t.Parameters
		if params.Type == "" {
			params.Type = "object"
		}
		if params.Properties == nil {
			params.Properties = map[string]realtime.ToolProperty{}
		}
		if params.Required == nil {
			params.Required = []string{}
		}
		defs = append(defs, realtime.ToolDefinition{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return defs
}

// Invoke runs the named tool and never fails: errors, timeouts and panics all
// become the error marker output. A handler that ignores ctx is abandoned
// once the timeout expires.
func (r *Registry) Invoke(ctx context.Context, call Call) Outcome {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return failure(fmt.Errorf("%w: %q", ErrUnknownTool, call.Name))
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	type handled struct {
		res Result
		err error
	}
	done := make(chan handled, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- handled{err: fmt.Errorf("panicked: %v", p)}
			}
		}()
		res, err := t.Handler.Handle(ctx, call)
		done <- handled{res: res, err: err}
	}()

	var h handled
	select {
	case h = <-done:
	case <-ctx.Done():
		h.err = ctx.Err()
	}
	if h.err != nil {
		return failure(fmt.Errorf("tools: %s: %w", call.Name, h.err))
	}
	output, err := json.Marshal(map[string]string{"response": h.res.Answer})
	if err != nil {
		return failure(err)
	}
	return Outcome{Output: string(output), ConversationID: h.res.ConversationID}
}

func failure(err error) Outcome {
	output, _ := json.Marshal(map[string]string{"error": ErrorMarker})
	return Outcome{Output: string(output), Err: err}
}
