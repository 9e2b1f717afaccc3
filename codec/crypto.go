package codec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// conversationKeySalt is the HKDF-extract salt for deriving a conversation
// key from an ECDH shared secret, mirroring NIP-44 v2's domain separation.
var conversationKeySalt = []byte("nip44-v2")

// ConversationKey derives the 32-byte symmetric key shared between the
// holder of s and the holder of peerPubkey. It is symmetric: ConversationKey
// computed by either party against the other's pubkey yields the same key.
func ConversationKey(s Signer, peerPubkey []byte) (key []byte, err error) {
	shared, err := s.ECDH(peerPubkey)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	extractor := hkdf.Extract(sha256.New, shared, conversationKeySalt)
	return extractor, nil
}

// keyLen and nonceLen are the lengths of the per-message chacha20poly1305 key
// and nonce derived together from the conversation key.
const (
	keyLen   = chacha20poly1305.KeySize
	nonceLen = chacha20poly1305.NonceSize
)

// Encrypt authenticated-encrypts plaintext under the given conversation key,
// returning a single versioned, base64-encoded string the peer can decrypt
// given only the complementary conversation key (spec.md §4.1 "v2
// conversation encryption").
func Encrypt(conversationKey []byte, plaintext string) (string, error) {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read random salt: %w", err)
	}
	msgKeyNonce, err := expandMessageKey(conversationKey, salt)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(msgKeyNonce[:keyLen])
	if err != nil {
		return "", fmt.Errorf("new aead: %w", err)
	}
	nonce := msgKeyNonce[keyLen : keyLen+nonceLen]
	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, 0, 1+len(salt)+len(ciphertext))
	out = append(out, 0x02)
	out = append(out, salt...)
	out = append(out, ciphertext...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt given the complementary conversation key.
func Decrypt(conversationKey []byte, payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(raw) < 1+32+chacha20poly1305.Overhead {
		return "", fmt.Errorf("ciphertext too short")
	}
	if raw[0] != 0x02 {
		return "", fmt.Errorf("unsupported encryption version %d", raw[0])
	}
	salt := raw[1:33]
	ciphertext := raw[33:]
	msgKeyNonce, err := expandMessageKey(conversationKey, salt)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(msgKeyNonce[:keyLen])
	if err != nil {
		return "", fmt.Errorf("new aead: %w", err)
	}
	nonce := msgKeyNonce[keyLen : keyLen+nonceLen]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// expandMessageKey derives a per-message (key || nonce) pair from the
// conversation key and a random salt via HKDF-expand.
func expandMessageKey(conversationKey, salt []byte) ([]byte, error) {
	expander := hkdf.Expand(sha256.New, append(append([]byte{}, conversationKey...), salt...), []byte("noxy-message-key"))
	out := make([]byte, keyLen+nonceLen)
	if _, err := io.ReadFull(expander, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}
