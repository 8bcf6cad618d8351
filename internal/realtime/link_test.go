package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		ev   ServerEvent
		want Kind
	}{
		{ServerEvent{Type: EventAudioDelta, Delta: "AAAA"}, KindAudioDelta},
		{ServerEvent{Type: EventAudioDelta}, KindInformational},
		{ServerEvent{Type: EventFunctionCallDone, Name: "call_kofe"}, KindFunctionCallDone},
		{ServerEvent{Type: EventSessionUpdated}, KindInformational},
		{ServerEvent{Type: EventSessionCreated}, KindInformational},
		{ServerEvent{Type: EventInputAudioSpeechStarted}, KindInformational},
		{ServerEvent{Type: EventError}, KindError},
		{ServerEvent{Type: "response.text.delta"}, KindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.ev), tc.ev.Type)
	}
}

func TestParseServerEvent(t *testing.T) {
	ev, err := ParseServerEvent([]byte(`{"type":"response.function_call_arguments.done","name":"call_kofe","arguments":"{\"query\":\"hello\"}","call_id":"X1"}`))
	require.NoError(t, err)
	assert.Equal(t, "call_kofe", ev.Name)
	assert.Equal(t, `{"query":"hello"}`, ev.Arguments)
	assert.Equal(t, "X1", ev.CallID)

	_, err = ParseServerEvent([]byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = ParseServerEvent([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestDialConfig_Header(t *testing.T) {
	h := DialConfig{AuthMode: AuthModeAzure, APIKey: "k"}.Header()
	assert.Equal(t, "k", h.Get("api-key"))
	assert.Empty(t, h.Get("Authorization"))

	h = DialConfig{AuthMode: AuthModeOpenAI, APIKey: "k"}.Header()
	assert.Equal(t, "Bearer k", h.Get("Authorization"))
	assert.Equal(t, "realtime=v1", h.Get("OpenAI-Beta"))
}

// upstreamServer accepts one websocket and records every text frame it receives.
func upstreamServer(t *testing.T, gotHeader chan<- http.Header, frames chan<- map[string]any) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader <- r.Header.Clone()
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.audio.delta","delta":"UklGRg=="}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				frames <- m
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLink_DialSendAndRead(t *testing.T) {
	headers := make(chan http.Header, 1)
	frames := make(chan map[string]any, 16)
	srv := upstreamServer(t, headers, frames)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	link, err := Dial(ctx, DialConfig{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		AuthMode: AuthModeAzure,
		APIKey:   "secret",
	}, nil)
	require.NoError(t, err)
	defer link.Close()

	assert.Equal(t, "secret", (<-headers).Get("api-key"))

	events := make(chan ServerEvent, 4)
	go func() { _ = link.ReadLoop(ctx, events) }()

	first := <-events
	assert.Equal(t, EventSessionCreated, first.Type)
	second := <-events
	assert.Equal(t, EventAudioDelta, second.Type)
	assert.Equal(t, "UklGRg==", second.Delta)

	require.NoError(t, link.AppendAudio("AAAA"))
	require.NoError(t, link.SendFunctionOutput("X1", `{"response":"hi"}`))
	require.NoError(t, link.CommitAndRespond())

	m := <-frames
	assert.Equal(t, map[string]any{"type": EventInputAudioAppend, "audio": "AAAA"}, m)
	m = <-frames
	assert.Equal(t, EventConversationItemCreate, m["type"])
	assert.Equal(t, map[string]any{"type": "function_call_output", "call_id": "X1", "output": `{"response":"hi"}`}, m["item"])
	assert.Equal(t, EventInputAudioCommit, (<-frames)["type"])
	assert.Equal(t, EventResponseCreate, (<-frames)["type"])

	assert.True(t, link.Open())
	require.NoError(t, link.Close())
	assert.False(t, link.Open())
	assert.NoError(t, link.Close())
}

func TestDial_Validation(t *testing.T) {
	_, err := Dial(context.Background(), DialConfig{APIKey: "k"}, nil)
	assert.Error(t, err)
	_, err = Dial(context.Background(), DialConfig{URL: "ws://127.0.0.1:1"}, nil)
	assert.Error(t, err)
}
