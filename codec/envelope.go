package codec

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
)

// maxSealAge is the width of the randomized window seal timestamps are drawn
// from, per spec.md §4.1/§4.7: [now-48h, now].
const maxSealAge = 48 * 3600

// RandomSealOffset draws a uniform random offset in [0, 48h) seconds to
// backdate a seal's created_at. It must never be seeded or derived from any
// request field (spec.md §9 "Randomized seal time").
func RandomSealOffset() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxSealAge))
	if err != nil {
		return 0, fmt.Errorf("random seal offset: %w", err)
	}
	return n.Int64(), nil
}

// BuildGiftWrap implements spec.md §4.1/§4.7: wraps an inner kind-80/81
// message for destinationPubkey, sealed and signed by author, gift-wrapped
// under a fresh single-use ephemeral key. relays is the already-filtered
// "safe relays" list (primary first, per §4.7 step 3); it may be empty.
func BuildGiftWrap(
	author Signer, destinationPubkey []byte, innerKind int, content any,
	now int64, relays []string,
) (wrap *Event, err error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal inner content: %w", err)
	}

	inner := &Event{
		Pubkey:    hex.EncodeToString(author.Pub()),
		CreatedAt: now,
		Kind:      innerKind,
		Tags:      [][]string{},
		Content:   string(contentJSON),
	}
	innerID, err := inner.ComputeID()
	if err != nil {
		return nil, fmt.Errorf("compute inner id: %w", err)
	}
	inner.ID = hex.EncodeToString(innerID)
	innerJSON, err := inner.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal inner event: %w", err)
	}

	convKeyToDest, err := ConversationKey(author, destinationPubkey)
	if err != nil {
		return nil, fmt.Errorf("conversation key to destination: %w", err)
	}
	sealContent, err := Encrypt(convKeyToDest, string(innerJSON))
	if err != nil {
		return nil, fmt.Errorf("encrypt inner: %w", err)
	}

	sealOffset, err := RandomSealOffset()
	if err != nil {
		return nil, err
	}
	seal := &Event{
		CreatedAt: now - sealOffset,
		Kind:      KindSeal,
		Tags:      [][]string{},
		Content:   sealContent,
	}
	if err = seal.Sign(author); err != nil {
		return nil, fmt.Errorf("sign seal: %w", err)
	}
	sealJSON, err := seal.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal seal: %w", err)
	}

	ephemeral := &KeySigner{}
	if err = ephemeral.Generate(); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	defer ephemeral.Zero()

	convKeyEphemeral, err := ConversationKey(ephemeral, destinationPubkey)
	if err != nil {
		return nil, fmt.Errorf("conversation key from ephemeral: %w", err)
	}
	wrapContent, err := Encrypt(convKeyEphemeral, string(sealJSON))
	if err != nil {
		return nil, fmt.Errorf("encrypt seal: %w", err)
	}

	tags := GiftWrapTags(destinationPubkey, relays)
	wrap = &Event{
		CreatedAt: now,
		Kind:      KindGiftWrap,
		Tags:      tags,
		Content:   wrapContent,
	}
	if err = wrap.Sign(ephemeral); err != nil {
		return nil, fmt.Errorf("sign gift wrap: %w", err)
	}
	return wrap, nil
}

// GiftWrapTags builds the ["p", destination, primaryRelay?] and optional
// ["relays", secondary...] tags per spec.md §4.1/§4.7 step 3.
func GiftWrapTags(destinationPubkey []byte, relays []string) [][]string {
	pTag := []string{"p", hex.EncodeToString(destinationPubkey)}
	if len(relays) > 0 {
		pTag = append(pTag, relays[0])
	}
	tags := [][]string{pTag}
	if len(relays) > 1 {
		relaysTag := append([]string{"relays"}, relays[1:]...)
		tags = append(tags, relaysTag)
	}
	return tags
}

// UnwrappedInner is the result of fully unwrapping a gift wrap: the seal's
// author (the real sender) plus the decrypted, parsed inner event.
type UnwrappedInner struct {
	SealAuthor []byte // raw pubkey bytes of the seal's signer
	Inner      *Event
}

// UnwrapGiftWrap implements spec.md §4.5 steps 3-5: decrypts the gift wrap
// content under the recipient's conversation key with the wrap's outer
// author, parses and verifies the seal, then decrypts and parses the inner
// event. It does not perform the inner-event shape, replay-window or
// pending-table checks; those are the ingress package's job.
func UnwrapGiftWrap(recipient Signer, wrap *Event) (*UnwrappedInner, error) {
	outerPub, err := hex.DecodeString(wrap.Pubkey)
	if err != nil {
		return nil, fmt.Errorf("decode outer pubkey: %w", err)
	}
	convKeyOuter, err := ConversationKey(recipient, outerPub)
	if err != nil {
		return nil, fmt.Errorf("conversation key with outer: %w", err)
	}
	sealJSON, err := Decrypt(convKeyOuter, wrap.Content)
	if err != nil {
		return nil, fmt.Errorf("decrypt gift wrap content: %w", err)
	}
	seal, err := Unmarshal([]byte(sealJSON))
	if err != nil {
		return nil, fmt.Errorf("parse seal: %w", err)
	}
	if seal.Kind != KindSeal {
		return nil, fmt.Errorf("seal has wrong kind %d", seal.Kind)
	}
	valid, err := seal.Verify()
	if err != nil || !valid {
		return nil, fmt.Errorf("seal signature invalid: %w", err)
	}

	sealPub, err := hex.DecodeString(seal.Pubkey)
	if err != nil {
		return nil, fmt.Errorf("decode seal pubkey: %w", err)
	}
	convKeySeal, err := ConversationKey(recipient, sealPub)
	if err != nil {
		return nil, fmt.Errorf("conversation key with seal author: %w", err)
	}
	innerJSON, err := Decrypt(convKeySeal, seal.Content)
	if err != nil {
		return nil, fmt.Errorf("decrypt seal content: %w", err)
	}
	inner, err := Unmarshal([]byte(innerJSON))
	if err != nil {
		return nil, fmt.Errorf("parse inner event: %w", err)
	}
	return &UnwrappedInner{SealAuthor: sealPub, Inner: inner}, nil
}
