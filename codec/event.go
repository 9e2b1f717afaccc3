// Package codec implements the canonical event serialization, id hashing,
// Schnorr signing/verification, conversation-key derivation, authenticated
// encryption and body segmentation that the rest of noxy is built on.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Event kinds used by this system, per spec.md §4.1.
const (
	KindRequest  = 80
	KindResponse = 81
	KindSeal     = 13
	KindGiftWrap = 21059
)

// Event is the canonical nostr-shaped event: id/pubkey/sig are hex strings,
// tags is an ordered list of string lists, content is an opaque string
// (plaintext or ciphertext depending on the layer).
type Event struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// canonicalForm returns the NIP-01 canonical serialization used for id
// hashing: the fixed-order array [0, pubkey, created_at, kind, tags, content].
func (e *Event) canonicalForm() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	arr := []any{0, e.Pubkey, e.CreatedAt, e.Kind, tags, e.Content}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID hashes the canonical form with sha256 and returns the 32-byte
// digest.
func (e *Event) ComputeID() ([]byte, error) {
	b, err := e.canonicalForm()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}

// Sign populates Pubkey, ID and Sig from the given Signer. CreatedAt must
// already be set by the caller.
func (e *Event) Sign(s Signer) error {
	e.Pubkey = hex.EncodeToString(s.Pub())
	id, err := e.ComputeID()
	if err != nil {
		return fmt.Errorf("compute id: %w", err)
	}
	e.ID = hex.EncodeToString(id)
	sig, err := s.Sign(id)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	e.Sig = hex.EncodeToString(sig)
	return nil
}

// Verify recomputes the id and checks the signature against Pubkey.
func (e *Event) Verify() (bool, error) {
	id, err := e.ComputeID()
	if err != nil {
		return false, err
	}
	wantID := hex.EncodeToString(id)
	if wantID != e.ID {
		return false, fmt.Errorf("event id mismatch: have %s want %s", e.ID, wantID)
	}
	pub, err := hex.DecodeString(e.Pubkey)
	if err != nil {
		return false, fmt.Errorf("decode pubkey: %w", err)
	}
	sig, err := hex.DecodeString(e.Sig)
	if err != nil {
		return false, fmt.Errorf("decode sig: %w", err)
	}
	var verifier Signer = &KeySigner{}
	if err = verifier.(*KeySigner).InitPub(pub); err != nil {
		return false, err
	}
	return verifier.Verify(id, sig)
}

// Marshal renders the event as the JSON object the wire protocol expects.
func (e *Event) Marshal() ([]byte, error) { return json.Marshal(e) }

// Unmarshal parses an event JSON object.
func Unmarshal(b []byte) (*Event, error) {
	e := &Event{}
	if err := json.Unmarshal(b, e); err != nil {
		return nil, err
	}
	return e, nil
}
