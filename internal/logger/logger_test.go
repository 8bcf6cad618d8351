package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetAndWith(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(nil) })

	With(zap.String("conn_id", "c1")).Info("hello")
	Debug("dbg")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "hello", entries[0].Message)
		assert.Equal(t, "c1", entries[0].ContextMap()["conn_id"])
		assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	}
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() { Set(nil) })
	assert.NoError(t, Init("chatty", false))
	assert.False(t, L().Core().Enabled(zapcore.DebugLevel))
	assert.True(t, L().Core().Enabled(zapcore.InfoLevel))
}
