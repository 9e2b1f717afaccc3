// Package identity owns the proxy's long-lived secret key: loading it from
// an nsec file, generating and optionally persisting a fresh one, and
// exposing display-only encoded forms. Grounded on the teacher's
// pkg/utils/keys package shape (DecodeNpubOrHex/DecodeNsecOrHex) though its
// own bech32 subpackage was not in the retrieval pack; bech32 encode/decode
// here comes from github.com/nbd-wtf/go-nostr/nip19 instead.
package identity

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"orly.dev/noxy/chk"
	"orly.dev/noxy/codec"
	"orly.dev/noxy/log"
)

// Identity holds the proxy's secret identity for the lifetime of the
// process. It is created once at startup and never mutated.
type Identity struct {
	Signer *codec.KeySigner
}

// Load reads the secret key from nsecFile if it exists, otherwise generates
// a fresh one. If the file is absent and saveOnAbsent is set, the generated
// key is persisted (bech32-encoded, with parent directories created).
func Load(nsecFile string, saveOnAbsent bool) (id *Identity, err error) {
	signer := &codec.KeySigner{}
	if nsecFile != "" {
		if _, statErr := os.Stat(nsecFile); statErr == nil {
			var raw []byte
			if raw, err = os.ReadFile(nsecFile); chk.E(err) {
				return nil, fmt.Errorf("read nsec file: %w", err)
			}
			nsec := strings.TrimSpace(string(raw))
			var sec []byte
			if sec, err = DecodeNsec(nsec); err != nil {
				return nil, fmt.Errorf("decode nsec file: %w", err)
			}
			if err = signer.InitSec(sec); err != nil {
				return nil, fmt.Errorf("init secret key: %w", err)
			}
			log.I.F("loaded identity from %s", nsecFile)
			return &Identity{Signer: signer}, nil
		}
	}
	if err = signer.Generate(); chk.E(err) {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	if nsecFile != "" && saveOnAbsent {
		if err = save(nsecFile, signer); chk.E(err) {
			return nil, fmt.Errorf("save generated identity: %w", err)
		}
		log.I.F("generated and saved a new identity to %s", nsecFile)
	} else {
		log.I.Ln("generated an ephemeral identity (not persisted)")
	}
	return &Identity{Signer: signer}, nil
}

func save(nsecFile string, signer *codec.KeySigner) error {
	if err := os.MkdirAll(filepath.Dir(nsecFile), 0o700); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	nsec, err := EncodeNsec(signer.Sec())
	if err != nil {
		return err
	}
	return os.WriteFile(nsecFile, []byte(nsec+"\n"), 0o600)
}

// DecodeNsec decodes a bech32 nsec string into its raw 32-byte secret key.
// Fails if the bech32 type is not nsec.
func DecodeNsec(s string) (sec []byte, err error) {
	prefix, value, err := nip19.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("bech32 decode: %w", err)
	}
	if prefix != "nsec" {
		return nil, fmt.Errorf("expected nsec, got %s", prefix)
	}
	hexStr, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected nsec payload type")
	}
	return hex.DecodeString(hexStr)
}

// EncodeNsec encodes a raw 32-byte secret key as a bech32 nsec string.
func EncodeNsec(sec []byte) (string, error) {
	return nip19.EncodePrivateKey(hex.EncodeToString(sec))
}

// PublicKeyHex returns the hex-encoded x-only public key, for display.
func (id *Identity) PublicKeyHex() string { return hex.EncodeToString(id.Signer.Pub()) }

// Npub returns the bech32 npub encoding of the public key, for display.
func (id *Identity) Npub() (string, error) {
	return nip19.EncodePublicKey(id.PublicKeyHex())
}

// DecodePublicKey decodes a bech32 npub or nprofile string into raw x-only
// pubkey bytes, for the fixed --destination CLI flag (§6).
func DecodePublicKey(s string) ([]byte, error) {
	prefix, value, err := nip19.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("bech32 decode: %w", err)
	}
	switch prefix {
	case "npub":
		hexStr, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected npub payload type")
		}
		return hex.DecodeString(hexStr)
	case "nprofile":
		pointer, ok := value.(nostr.ProfilePointer)
		if !ok {
			return nil, fmt.Errorf("unexpected nprofile payload type")
		}
		return hex.DecodeString(pointer.PublicKey)
	default:
		return nil, fmt.Errorf("expected npub or nprofile, got %s", prefix)
	}
}
