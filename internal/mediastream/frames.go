// Package mediastream speaks the Twilio Media Streams websocket protocol on
// the caller side of the bridge.
package mediastream

import (
	"encoding/json"
	"errors"
)

// Inbound event discriminants.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
)

// ErrMissingEvent is returned by ParseFrame for JSON objects without an event field.
var ErrMissingEvent = errors.New("mediastream: frame has no event")

// Frame is one inbound message from the media-stream client. Only the
// payload matching Event is populated.
type Frame struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
}

// StartPayload carries the stream and call identifiers.
type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	AccountSID       string            `json:"accountSid,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaPayload holds base64 audio. Payload is never decoded by the bridge.
type MediaPayload struct {
	Payload   string `json:"payload"`
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// outboundMedia is the frame written back to the client for each audio delta.
type outboundMedia struct {
	Event     string             `json:"event"`
	StreamSID string             `json:"streamSid"`
	Media     outboundMediaInner `json:"media"`
}

type outboundMediaInner struct {
	Payload string `json:"payload"`
}

// ParseFrame decodes a single inbound frame.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	if f.Event == "" {
		return Frame{}, ErrMissingEvent
	}
	return f, nil
}

// EncodeMedia builds the outbound media frame for streamSID.
func EncodeMedia(streamSID, payload string) ([]byte, error) {
	return json.Marshal(outboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     outboundMediaInner{Payload: payload},
	})
}
