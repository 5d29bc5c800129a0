package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountGrowsWithText(t *testing.T) {
	require.Zero(t, Count(""))
	short := Count("hello world")
	long := Count(strings.Repeat("hello world ", 50))
	require.Greater(t, short, 0)
	require.Greater(t, long, short)
}

func TestEstimate(t *testing.T) {
	require.Zero(t, Estimate("   "))
	require.Equal(t, 2, Estimate("a b"))
	require.GreaterOrEqual(t, Estimate("supercalifragilistic"), 5)
}

func TestTruncate(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 100)
	cut := Truncate(text, 20)
	require.Less(t, len(cut), len(text))
	require.True(t, strings.HasSuffix(cut, "..."))
	require.Equal(t, "short", Truncate("short", 100))
	require.Equal(t, text, Truncate(text, 0))
}
