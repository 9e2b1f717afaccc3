package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRelaysNormalizesAndDedups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relays.txt")
	require.NoError(t, os.WriteFile(path, []byte("wss://R.example:443/\nwss://r.example\nwss://other.example\n"), 0o600))

	relays, err := LoadRelays(path)
	require.NoError(t, err)
	require.Equal(t, []string{"wss://r.example", "wss://other.example"}, relays)
}

func TestResolveRelaysNormalizesCLIRelays(t *testing.T) {
	relays, err := ResolveRelays("", []string{"wss://R.example:443/", "wss://r.example"})
	require.NoError(t, err)
	require.Equal(t, []string{"wss://r.example"}, relays)
}

func TestResolveRelaysPrefersExistingNonEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relays.txt")
	require.NoError(t, os.WriteFile(path, []byte("wss://from-file.example\n"), 0o600))

	relays, err := ResolveRelays(path, []string{"wss://from-cli.example"})
	require.NoError(t, err)
	require.Equal(t, []string{"wss://from-file.example"}, relays)
}
