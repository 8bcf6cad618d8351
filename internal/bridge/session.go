// Package bridge pairs one media-stream client with one realtime backend
// connection and routes events between them.
//
// Each accepted connection gets a Session owned by a single actor goroutine.
// Link readers, upstream setup and tool invocations run on helper goroutines
// that only ever post events back to the actor, so session state (including
// the tool-call gate) is never touched concurrently.
package bridge

import "time"

// Status is the lifecycle stage of a Session.
type Status int

const (
	StatusInitiated Status = iota
	StatusUpstreamConnecting
	StatusActive
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusInitiated:
		return "initiated"
	case StatusUpstreamConnecting:
		return "upstreamConnecting"
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the state of one bridged call.
type Session struct {
	ConnID    string
	StreamSID string
	CallSID   string
	// ConversationID is the knowledge-service continuity id. Set from the
	// first successful tool response and never changed afterwards.
	ConversationID string
	Status         Status
	StartedAt      time.Time

	identified bool
	gate       toolGate
}

func newSession(connID string) *Session {
	return &Session{ConnID: connID, Status: StatusInitiated, StartedAt: time.Now()}
}

// setIdentity records the stream and call ids. They are write-once, even
// when the first values are empty; later calls report false and change nothing.
func (s *Session) setIdentity(streamSID, callSID string) bool {
	if s.identified {
		return false
	}
	s.StreamSID, s.CallSID = streamSID, callSID
	s.identified = true
	return true
}

// rememberConversation keeps the first non-empty continuity id.
func (s *Session) rememberConversation(id string) {
	if s.ConversationID == "" && id != "" {
		s.ConversationID = id
	}
}

type gateState int

const (
	gateStreaming gateState = iota
	gateToolCallPending
)

func (g gateState) String() string {
	if g == gateToolCallPending {
		return "ToolCallPending"
	}
	return "Streaming"
}

// toolGate admits at most one tool invocation at a time. The backend can
// signal completion of a single call more than once; everything that arrives
// while a call is pending is dropped.
type toolGate struct {
	state  gateState
	callID string
	since  time.Time
}

func (g *toolGate) acquire(callID string) bool {
	if g.state == gateToolCallPending {
		return false
	}
	g.state = gateToolCallPending
	g.callID = callID
	g.since = time.Now()
	return true
}

func (g *toolGate) release() time.Duration {
	held := time.Since(g.since)
	g.state = gateStreaming
	g.callID = ""
	g.since = time.Time{}
	return held
}

func (g *toolGate) pending() bool { return g.state == gateToolCallPending }
