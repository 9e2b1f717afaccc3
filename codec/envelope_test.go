package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildAndUnwrapGiftWrapRoundTrip(t *testing.T) {
	sender := &KeySigner{}
	recipient := &KeySigner{}
	require.NoError(t, sender.Generate())
	require.NoError(t, recipient.Generate())

	content := map[string]any{"id": "req-1", "partIndex": 0, "parts": 1, "bodyBase64": ""}
	now := time.Now().Unix()

	wrap, err := BuildGiftWrap(sender, recipient.Pub(), KindRequest, content, now, []string{"wss://relay.example"})
	require.NoError(t, err)
	require.Equal(t, KindGiftWrap, wrap.Kind)

	valid, err := wrap.Verify()
	require.NoError(t, err)
	require.True(t, valid)

	unwrapped, err := UnwrapGiftWrap(recipient, wrap)
	require.NoError(t, err)
	require.Equal(t, sender.Pub(), unwrapped.SealAuthor)
	require.Equal(t, KindRequest, unwrapped.Inner.Kind)
	require.NotEmpty(t, unwrapped.Inner.ID)
}

func TestGiftWrapTagsOmitsRelaysTagWhenNoSecondaryRelays(t *testing.T) {
	dest := make([]byte, 32)
	tags := GiftWrapTags(dest, []string{"wss://only.example"})
	require.Len(t, tags, 1)
	require.Equal(t, "p", tags[0][0])
}

func TestGiftWrapTagsIncludesRelaysTagForSecondaries(t *testing.T) {
	dest := make([]byte, 32)
	tags := GiftWrapTags(dest, []string{"wss://primary.example", "wss://secondary.example"})
	require.Len(t, tags, 2)
	require.Equal(t, "relays", tags[1][0])
	require.Equal(t, []string{"relays", "wss://secondary.example"}, tags[1])
}
