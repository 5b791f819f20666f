package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
	}{
		{name: "json output", jsonOutput: true},
		{name: "console output", jsonOutput: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := Logger
			t.Cleanup(func() {
				Logger = prev
				JSONOutput = false
			})

			require.NoError(t, Initialize(tt.jsonOutput))
			assert.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
		})
	}
}

func TestVerbosityLevel(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, VerbosityLevel(0))
	assert.Equal(t, zapcore.DebugLevel, VerbosityLevel(2))
}

func TestOrDefault(t *testing.T) {
	l := zap.NewNop().Sugar()
	assert.Same(t, l, OrDefault(l, "x"))
	assert.NotNil(t, OrDefault(nil, "x"))
}
