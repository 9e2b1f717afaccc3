package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterNewHintsDedupsAfterNormalization(t *testing.T) {
	initial := []string{"wss://R.example:443/"}
	hints := []string{"wss://r.example", "wss://fresh.example/"}

	out := filterNewHints(hints, initial)

	require.NotContains(t, out, "wss://r.example", "hint equal to an initial relay after normalization must be dropped")
	require.Contains(t, out, "wss://fresh.example")
}

func TestFilterNewHintsDedupsWithinHintsThemselves(t *testing.T) {
	hints := []string{"wss://Hint.example:443/", "wss://hint.example"}

	out := filterNewHints(hints, nil)

	require.Len(t, out, 1)
	require.Equal(t, "wss://hint.example", out[0])
}

func TestFilterNewHintsDropsEmpty(t *testing.T) {
	out := filterNewHints([]string{"", "wss://a.example"}, nil)
	require.Equal(t, []string{"wss://a.example"}, out)
}
