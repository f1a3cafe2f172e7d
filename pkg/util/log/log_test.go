package log

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		_, err := NewLogger(&Config{LogLevel: lvl, LogFormat: "logfmt"})
		require.NoError(t, err)
	}

	_, err := NewLogger(&Config{LogLevel: "info", LogFormat: "json"})
	require.NoError(t, err)

	_, err = NewLogger(&Config{LogLevel: "trace"})
	require.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(&Config{LogLevel: "info"}))
	require.NotNil(t, Logger)
}
