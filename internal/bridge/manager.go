package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/logger"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/mediastream"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/realtime"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/store"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/tools"
)

// ErrSetup marks failures that prevent a session from reaching the backend.
var ErrSetup = errors.New("bridge: session setup failed")

// ErrClosed is returned by Serve after Close.
var ErrClosed = errors.New("bridge: manager closed")

// Options configures every session created by a Manager.
type Options struct {
	// Upstream is the backend endpoint. Its APIKey, when set, takes precedence
	// over the APIKeyName store lookup.
	Upstream   realtime.DialConfig
	APIKeyName string

	Voice             string
	InputAudioFormat  string
	OutputAudioFormat string
	Temperature       float64

	ConnectTimeout time.Duration
	SetupTimeout   time.Duration
	SettleDelay    time.Duration
	WriteTimeout   time.Duration
}

// Manager is the arena of live sessions keyed by connection id.
type Manager struct {
	store store.Store
	tools *tools.Registry
	opts  Options

	mu       sync.Mutex
	sessions map[string]*runner
	closed   bool
}

// NewManager creates a Manager. st and reg are shared read-only by all sessions.
func NewManager(st store.Store, reg *tools.Registry, opts Options) *Manager {
	if opts.Voice == "" {
		opts.Voice = "alloy"
	}
	if opts.InputAudioFormat == "" {
		opts.InputAudioFormat = "g711_ulaw"
	}
	if opts.OutputAudioFormat == "" {
		opts.OutputAudioFormat = "g711_ulaw"
	}
	if opts.APIKeyName == "" {
		opts.APIKeyName = "openai_api_key"
	}
	if reg == nil {
		reg = tools.NewRegistry(0)
	}
	return &Manager{store: st, tools: reg, opts: opts, sessions: make(map[string]*runner)}
}

// Serve bridges conn until either side closes. It blocks for the lifetime of
// the session and always closes conn before returning.
func (m *Manager) Serve(ctx context.Context, conn *websocket.Conn) error {
	connID := uuid.NewString()
	log := logger.With(zap.String("conn_id", connID))
	client := mediastream.NewLink(conn, log, m.opts.WriteTimeout)

	r := newRunner(ctx, m, newSession(connID), client, log)
	if !m.add(r) {
		_ = client.Close()
		return ErrClosed
	}
	defer m.remove(connID)

	log.Info("media stream connected", zap.Int("active_sessions", m.Active()))
	err := r.run()
	log.Info("media stream finished",
		zap.String("stream_sid", r.sess.StreamSID),
		zap.String("call_sid", r.sess.CallSID),
		zap.Duration("duration", time.Since(r.sess.StartedAt)),
		zap.Error(err),
	)
	return err
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close ends every live session and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	runners := make([]*runner, 0, len(m.sessions))
	for _, r := range m.sessions {
		runners = append(runners, r)
	}
	m.mu.Unlock()
	for _, r := range runners {
		r.cancel()
	}
}

func (m *Manager) add(r *runner) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.sessions[r.sess.ConnID] = r
	return true
}

func (m *Manager) remove(connID string) {
	m.mu.Lock()
	delete(m.sessions, connID)
	m.mu.Unlock()
}
