// Package realtime is the client side of the speech-to-speech backend's
// realtime websocket protocol.
package realtime

import (
	"encoding/json"
	"errors"
)

// Client → server event types.
const (
	EventSessionUpdate          = "session.update"
	EventInputAudioAppend       = "input_audio_buffer.append"
	EventInputAudioCommit       = "input_audio_buffer.commit"
	EventResponseCreate         = "response.create"
	EventConversationItemCreate = "conversation.item.create"
)

// Server → client event types the bridge acts on or logs.
const (
	EventSessionCreated          = "session.created"
	EventSessionUpdated          = "session.updated"
	EventAudioDelta              = "response.audio.delta"
	EventFunctionCallDone        = "response.function_call_arguments.done"
	EventResponseContentDone     = "response.content.done"
	EventRateLimitsUpdated       = "rate_limits.updated"
	EventResponseDone            = "response.done"
	EventInputAudioCommitted     = "input_audio_buffer.committed"
	EventInputAudioSpeechStopped = "input_audio_buffer.speech_stopped"
	EventInputAudioSpeechStarted = "input_audio_buffer.speech_started"
	EventError                   = "error"
)

// Kind is the routing class of a server event.
type Kind int

const (
	KindUnknown Kind = iota
	KindAudioDelta
	KindFunctionCallDone
	KindInformational
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindAudioDelta:
		return "audio_delta"
	case KindFunctionCallDone:
		return "function_call_done"
	case KindInformational:
		return "informational"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

var informationalEvents = map[string]struct{}{
	EventSessionCreated:          {},
	EventSessionUpdated:          {},
	EventResponseContentDone:     {},
	EventRateLimitsUpdated:       {},
	EventResponseDone:            {},
	EventInputAudioCommitted:     {},
	EventInputAudioSpeechStopped: {},
	EventInputAudioSpeechStarted: {},
}

// ErrMissingType is returned for server frames without a type field.
var ErrMissingType = errors.New("realtime: event has no type")

// ServerEvent is the subset of server event fields the bridge reads.
type ServerEvent struct {
	Type      string       `json:"type"`
	EventID   string       `json:"event_id,omitempty"`
	Delta     string       `json:"delta,omitempty"`
	Name      string       `json:"name,omitempty"`
	Arguments string       `json:"arguments,omitempty"`
	CallID    string       `json:"call_id,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the payload of an "error" server event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseServerEvent decodes one server frame.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ServerEvent{}, err
	}
	if ev.Type == "" {
		return ServerEvent{}, ErrMissingType
	}
	return ev, nil
}

// Classify maps an event to the way the bridge routes it. An audio delta
// without audio is informational.
func Classify(ev ServerEvent) Kind {
	switch ev.Type {
	case EventAudioDelta:
		if ev.Delta == "" {
			return KindInformational
		}
		return KindAudioDelta
	case EventFunctionCallDone:
		return KindFunctionCallDone
	case EventError:
		return KindError
	}
	if _, ok := informationalEvents[ev.Type]; ok {
		return KindInformational
	}
	return KindUnknown
}

// SessionConfig is the body of session.update.
type SessionConfig struct {
	TurnDetection     TurnDetection    `json:"turn_detection"`
	InputAudioFormat  string           `json:"input_audio_format"`
	OutputAudioFormat string           `json:"output_audio_format"`
	Voice             string           `json:"voice"`
	Instructions      string           `json:"instructions"`
	Modalities        []string         `json:"modalities"`
	Temperature       float64          `json:"temperature"`
	Tools             []ToolDefinition `json:"tools"`
}

// TurnDetection selects the backend's turn detection mode.
type TurnDetection struct {
	Type string `json:"type"`
}

// TurnDetectionServerVAD is server-driven voice activity detection.
const TurnDetectionServerVAD = "server_vad"

// ToolDefinition is one entry of the session's callable-tool manifest.
type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters is the JSON schema of a tool's arguments object.
type ToolParameters struct {
	Type       string                  `json:"type"`
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required"`
}

// ToolProperty describes a single argument.
type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type bareEvent struct {
	Type string `json:"type"`
}

type itemCreate struct {
	Type string             `json:"type"`
	Item functionCallOutput `json:"item"`
}

type functionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}
