package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		" warn ": LevelWarn,
		"warning": LevelWarn,
		"error": LevelError,
	}
	for s, want := range cases {
		got, ok := ParseLevel(s)
		require.True(t, ok, s)
		require.Equal(t, want, got, s)
	}

	_, ok := ParseLevel("bogus")
	require.False(t, ok)
}

func TestLoggerWithAddsPrefixSegment(t *testing.T) {
	l := NewLogger(LevelDebug, "server")
	child := l.With("cid-7")
	require.Equal(t, "server/cid-7", child.prefix)
}
