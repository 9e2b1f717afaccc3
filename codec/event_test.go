package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventSignAndVerifyRoundTrip(t *testing.T) {
	signer := &KeySigner{}
	require.NoError(t, signer.Generate())

	e := &Event{CreatedAt: 12345, Kind: 1, Tags: [][]string{}, Content: "hello"}
	require.NoError(t, e.Sign(signer))

	valid, err := e.Verify()
	require.NoError(t, err)
	require.True(t, valid)
}

func TestComputeIDIsStableAcrossReserialization(t *testing.T) {
	e := &Event{
		Pubkey: "aa", CreatedAt: 100, Kind: 1,
		Tags: [][]string{{"p", "bb"}}, Content: "x",
	}
	id1, err := e.ComputeID()
	require.NoError(t, err)

	b, err := e.Marshal()
	require.NoError(t, err)
	e2, err := Unmarshal(b)
	require.NoError(t, err)
	id2, err := e2.ComputeID()
	require.NoError(t, err)

	require.Equal(t, id1, id2)
}

func TestVerifyRejectsTamperedContent(t *testing.T) {
	signer := &KeySigner{}
	require.NoError(t, signer.Generate())

	e := &Event{CreatedAt: 1, Kind: 1, Tags: [][]string{}, Content: "original"}
	require.NoError(t, e.Sign(signer))

	e.Content = "tampered"
	_, err := e.Verify()
	require.Error(t, err)
}
