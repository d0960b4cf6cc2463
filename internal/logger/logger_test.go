package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func reset(t *testing.T) {
	t.Cleanup(func() {
		mu.Lock()
		root = zap.NewNop()
		mu.Unlock()
	})
}

func TestGetBeforeInit(t *testing.T) {
	assert.NotNil(t, Get())
	assert.NotNil(t, Named("storage"))
}

func TestInitLevels(t *testing.T) {
	reset(t)

	require.NoError(t, Init("production", ""))
	assert.False(t, Get().Core().Enabled(zapcore.DebugLevel))
	assert.True(t, Get().Core().Enabled(zapcore.InfoLevel))

	require.NoError(t, Init("development", ""))
	assert.True(t, Get().Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, Init("development", "warn"))
	assert.False(t, Named("api").Core().Enabled(zapcore.InfoLevel))

	assert.Error(t, Init("development", "chatty"))
	Sync()
}

func TestSetLevelReachesChildren(t *testing.T) {
	reset(t)
	require.NoError(t, Init("production", ""))

	child := Named("service")
	assert.False(t, child.Core().Enabled(zapcore.DebugLevel))
	SetLevel(zapcore.DebugLevel)
	assert.True(t, child.Core().Enabled(zapcore.DebugLevel))
}
