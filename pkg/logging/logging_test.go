package logging_test

import (
	"testing"

	"github.com/canopy-network/ledgerx/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewHonorsLevelEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	l, err := logging.New()
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestNewFallsBackToInfoOnGarbageLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")
	l, err := logging.New()
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}
