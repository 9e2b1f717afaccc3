package codec

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Signer is the capability a conversation-key derivation, event signature or
// verification needs: a secp256k1 keypair usable for BIP-340 Schnorr
// signatures and for ECDH.
type Signer interface {
	Pub() []byte
	Sign(msg []byte) (sig []byte, err error)
	Verify(msg, sig []byte) (valid bool, err error)
	ECDH(pubkeyBytes []byte) (secret []byte, err error)
	Zero()
}

// KeySigner is the concrete Signer backed by btcsuite/btcd/btcec/v2, adapted
// from the teacher's crypto/p256k/btcec.Signer adapter shape (Generate /
// InitSec / InitPub / Sign / Verify / ECDH / Zero).
type KeySigner struct {
	sec *btcec.PrivateKey
	pub *btcec.PublicKey // full (non-x-only) point, needed for ECDH
	pkb []byte           // x-only serialized pubkey, 32 bytes
}

var _ Signer = (*KeySigner)(nil)

const SecKeyLen = 32
const PubKeyLen = 32

// Generate creates a new random keypair.
func (s *KeySigner) Generate() (err error) {
	sec, err := btcec.NewPrivateKey()
	if err != nil {
		return err
	}
	s.sec = sec
	s.pub = sec.PubKey()
	s.pkb = schnorr.SerializePubKey(s.pub)
	return nil
}

// InitSec initializes the signer from a 32-byte raw secret key.
func (s *KeySigner) InitSec(sec []byte) (err error) {
	if len(sec) != SecKeyLen {
		return fmt.Errorf("sec key must be %d bytes, got %d", SecKeyLen, len(sec))
	}
	priv, pub := btcec.PrivKeyFromBytes(sec)
	s.sec = priv
	s.pub = pub
	s.pkb = schnorr.SerializePubKey(pub)
	return nil
}

// InitPub initializes a verify-only signer from a 32-byte x-only pubkey.
func (s *KeySigner) InitPub(pub []byte) (err error) {
	p, err := schnorr.ParsePubKey(pub)
	if err != nil {
		return fmt.Errorf("parse pubkey: %w", err)
	}
	s.pub = p
	s.pkb = pub
	return nil
}

// Sec returns the raw 32-byte secret key. Nil if this signer is verify-only.
func (s *KeySigner) Sec() []byte {
	if s.sec == nil {
		return nil
	}
	return s.sec.Serialize()
}

// Pub returns the raw 32-byte x-only pubkey.
func (s *KeySigner) Pub() []byte { return s.pkb }

// Sign produces a BIP-340 Schnorr signature over msg (expected to be a
// 32-byte hash).
func (s *KeySigner) Sign(msg []byte) (sig []byte, err error) {
	if s.sec == nil {
		return nil, fmt.Errorf("codec: signer has no secret key")
	}
	si, err := schnorr.Sign(s.sec, msg)
	if err != nil {
		return nil, err
	}
	return si.Serialize(), nil
}

// Verify checks a BIP-340 Schnorr signature against this signer's pubkey.
func (s *KeySigner) Verify(msg, sig []byte) (valid bool, err error) {
	if s.pub == nil {
		return false, fmt.Errorf("codec: signer has no pubkey")
	}
	si, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false, fmt.Errorf("parse signature: %w", err)
	}
	return si.Verify(msg, s.pub), nil
}

// ECDH derives a shared secret (the x-coordinate of the shared point) between
// this signer's secret key and the given x-only pubkey, following the
// convention nostr NIP-04/NIP-44 ECDH uses: the peer pubkey is treated as an
// even-y point.
func (s *KeySigner) ECDH(pubkeyBytes []byte) (secret []byte, err error) {
	if s.sec == nil {
		return nil, fmt.Errorf("codec: signer has no secret key")
	}
	pub, err := schnorr.ParsePubKey(pubkeyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse peer pubkey: %w", err)
	}
	var point secp.JacobianPoint
	pub.AsJacobian(&point)
	var shared secp.JacobianPoint
	secp.ScalarMultNonConst(&s.sec.Key, &point, &shared)
	shared.ToAffine()
	x := shared.X.Bytes()
	secret = x[:]
	return secret, nil
}

// Zero wipes the secret key material.
func (s *KeySigner) Zero() {
	if s.sec != nil {
		s.sec.Zero()
	}
}
