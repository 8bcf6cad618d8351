package mediastream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame_Start(t *testing.T) {
	f, err := ParseFrame([]byte(`{"event":"start","start":{"streamSid":"S1","callSid":"C1","customParameters":{"lang":"zh"}}}`))
	require.NoError(t, err)
	assert.Equal(t, EventStart, f.Event)
	require.NotNil(t, f.Start)
	assert.Equal(t, "S1", f.Start.StreamSID)
	assert.Equal(t, "C1", f.Start.CallSID)
	assert.Equal(t, "zh", f.Start.CustomParameters["lang"])
}

func TestParseFrame_MediaPayloadUntouched(t *testing.T) {
	payload := "//7+/f79/v7+/f3+/w=="
	f, err := ParseFrame([]byte(`{"event":"media","media":{"payload":"` + payload + `","track":"inbound"}}`))
	require.NoError(t, err)
	require.NotNil(t, f.Media)
	assert.Equal(t, payload, f.Media.Payload)
}

func TestParseFrame_Errors(t *testing.T) {
	_, err := ParseFrame([]byte("not-json"))
	assert.Error(t, err)

	_, err = ParseFrame([]byte(`{"streamSid":"S1"}`))
	assert.ErrorIs(t, err, ErrMissingEvent)
}

func TestParseFrame_UnknownEventAccepted(t *testing.T) {
	f, err := ParseFrame([]byte(`{"event":"dtmf","dtmf":{"digit":"1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "dtmf", f.Event)
}

func TestEncodeMedia_Shape(t *testing.T) {
	data, err := EncodeMedia("S1", "AAAA")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "media", got["event"])
	assert.Equal(t, "S1", got["streamSid"])
	assert.Equal(t, map[string]any{"payload": "AAAA"}, got["media"])
}
