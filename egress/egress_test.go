package egress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeRelayListDropsCredentialsAndQuery(t *testing.T) {
	initial := []string{"wss://user:pw@r.example", "wss://clean.example"}
	hints := []string{"wss://hint.example?token=x", "wss://clean-hint.example"}

	out := safeRelayList(initial, hints)

	require.NotContains(t, out, "wss://user:pw@r.example")
	require.NotContains(t, out, "wss://hint.example?token=x")
	require.Contains(t, out, "wss://clean.example")
	require.Contains(t, out, "wss://clean-hint.example")
}

func TestSafeRelayListDeduplicates(t *testing.T) {
	out := safeRelayList([]string{"wss://a.example"}, []string{"wss://a.example"})
	require.Equal(t, []string{"wss://a.example"}, out)
}

func TestTargetRelayListIncludesCredentialedRelay(t *testing.T) {
	initial := []string{"wss://user:pw@r.example"}
	out := targetRelayList(initial, nil)
	require.Contains(t, out, "wss://user:pw@r.example", "a credentialed initial relay must still receive the publish")
}

func TestSafeAndTargetRelayListsDivergeOnCredentials(t *testing.T) {
	initial := []string{"wss://user:pw@r.example", "wss://clean.example"}
	safe := safeRelayList(initial, nil)
	target := targetRelayList(initial, nil)

	require.NotContains(t, safe, "wss://user:pw@r.example", "credentialed relay must never be advertised in the wrapped content's tag")
	require.Contains(t, target, "wss://user:pw@r.example", "but it must still be a publish target")
	require.Contains(t, target, "wss://clean.example")
}

func TestTargetRelayListDeduplicates(t *testing.T) {
	out := targetRelayList([]string{"wss://a.example"}, []string{"wss://a.example"})
	require.Equal(t, []string{"wss://a.example"}, out)
}

func TestInnerContentOnlyPart0CarriesMethodURLHeaders(t *testing.T) {
	req := Request{
		ID: "r1", Method: "GET", URL: "/x", Headers: map[string]string{"a": "b"},
	}
	part0 := innerContent(req, 0, 2, "chunk0")
	require.Equal(t, "GET", part0["method"])

	part1 := innerContent(req, 1, 2, "chunk1")
	_, hasMethod := part1["method"]
	require.False(t, hasMethod)
}
