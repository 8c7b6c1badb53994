package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel_KnownAndUnknownValues(t *testing.T) {
	require.Equal(t, DEBUG, ParseLevel("debug"))
	require.Equal(t, WARN, ParseLevel("WARNING"))
	require.Equal(t, INFO, ParseLevel("nonsense"))
}

func TestNew_AppliesLevel(t *testing.T) {
	logger := New(Config{Level: "error", Component: "test", JSONFormat: true, Output: "stdout"})
	require.Equal(t, zerolog.ErrorLevel, logger.GetLevel())
}

func TestSetDefault_OverridesSubsequentDefaultCalls(t *testing.T) {
	custom := New(Config{Level: "debug", JSONFormat: true})
	SetDefault(custom)
	require.Equal(t, zerolog.DebugLevel, Default().GetLevel())
}
