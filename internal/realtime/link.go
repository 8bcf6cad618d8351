package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Auth modes for the upstream handshake.
const (
	AuthModeOpenAI = "openai"
	AuthModeAzure  = "azure"
)

// DialConfig describes how to reach the backend.
type DialConfig struct {
	URL              string
	AuthMode         string
	APIKey           string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Link owns the outbound websocket to the backend.
type Link struct {
	conn         *websocket.Conn
	log          *zap.Logger
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Header builds the handshake headers for the configured auth mode.
func (c DialConfig) Header() http.Header {
	h := http.Header{}
	switch c.AuthMode {
	case AuthModeAzure:
		h.Set("api-key", c.APIKey)
	default:
		h.Set("Authorization", "Bearer "+c.APIKey)
		h.Set("OpenAI-Beta", "realtime=v1")
	}
	return h
}

// Dial connects to the backend. The handshake is bounded by both ctx and
// cfg.HandshakeTimeout.
func Dial(ctx context.Context, cfg DialConfig, log *zap.Logger) (*Link, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("realtime: URL is empty")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("realtime: API key is empty")
	}
	if log == nil {
		log = zap.NewNop()
	}
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshake, Proxy: http.ProxyFromEnvironment}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	wt := cfg.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}
	return &Link{conn: conn, log: log, writeTimeout: wt, closed: make(chan struct{})}, nil
}

// ReadLoop delivers decoded server events to out until the connection fails
// or ctx is done. Malformed frames are logged and skipped.
func (l *Link) ReadLoop(ctx context.Context, out chan<- ServerEvent) error {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		ev, err := ParseServerEvent(data)
		if err != nil {
			l.log.Warn("dropping malformed upstream frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

// SendSessionUpdate sends the session configuration.
func (l *Link) SendSessionUpdate(cfg SessionConfig) error {
	return l.send(sessionUpdate{Type: EventSessionUpdate, Session: cfg})
}

// AppendAudio forwards one base64 audio chunk, unmodified.
func (l *Link) AppendAudio(audio string) error {
	return l.send(audioAppend{Type: EventInputAudioAppend, Audio: audio})
}

// SendFunctionOutput answers a tool call. output is a JSON document encoded as a string.
func (l *Link) SendFunctionOutput(callID, output string) error {
	return l.send(itemCreate{
		Type: EventConversationItemCreate,
		Item: functionCallOutput{Type: "function_call_output", CallID: callID, Output: output},
	})
}

// CommitAndRespond commits the input buffer and asks for a new response.
func (l *Link) CommitAndRespond() error {
	if err := l.send(bareEvent{Type: EventInputAudioCommit}); err != nil {
		return err
	}
	return l.send(bareEvent{Type: EventResponseCreate})
}

// Open reports whether Close has not been called yet.
func (l *Link) Open() bool {
	select {
	case <-l.closed:
		return false
	default:
		return true
	}
}

// Close sends a normal close frame and closes the socket. Safe to call more than once.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		l.mu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(l.writeTimeout))
		l.mu.Unlock()
		err = l.conn.Close()
	})
	return err
}

func (l *Link) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout)); err != nil {
		return err
	}
	return l.conn.WriteMessage(websocket.TextMessage, data)
}
