package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationKeyIsSymmetric(t *testing.T) {
	alice := &KeySigner{}
	bob := &KeySigner{}
	require.NoError(t, alice.Generate())
	require.NoError(t, bob.Generate())

	kAB, err := ConversationKey(alice, bob.Pub())
	require.NoError(t, err)
	kBA, err := ConversationKey(bob, alice.Pub())
	require.NoError(t, err)

	require.Equal(t, kAB, kBA)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice := &KeySigner{}
	bob := &KeySigner{}
	require.NoError(t, alice.Generate())
	require.NoError(t, bob.Generate())

	kAB, err := ConversationKey(alice, bob.Pub())
	require.NoError(t, err)
	kBA, err := ConversationKey(bob, alice.Pub())
	require.NoError(t, err)

	ciphertext, err := Encrypt(kAB, "hello world")
	require.NoError(t, err)

	plaintext, err := Decrypt(kBA, ciphertext)
	require.NoError(t, err)
	require.Equal(t, "hello world", plaintext)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	alice := &KeySigner{}
	mallory := &KeySigner{}
	bob := &KeySigner{}
	require.NoError(t, alice.Generate())
	require.NoError(t, mallory.Generate())
	require.NoError(t, bob.Generate())

	kAB, err := ConversationKey(alice, bob.Pub())
	require.NoError(t, err)
	kMB, err := ConversationKey(mallory, bob.Pub())
	require.NoError(t, err)

	ciphertext, err := Encrypt(kAB, "secret")
	require.NoError(t, err)

	_, err = Decrypt(kMB, ciphertext)
	require.Error(t, err)
}
