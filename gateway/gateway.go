// Package gateway is the HTTP-facing side of the proxy: spec.md §4.8's
// seven-step request handling, from minting a request id through wiring a
// Pending entry and handing off to egress.
package gateway

import (
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"orly.dev/noxy/chk"
	"orly.dev/noxy/codec"
	"orly.dev/noxy/egress"
	"orly.dev/noxy/log"
	"orly.dev/noxy/pending"
	"orly.dev/noxy/relay"
)

// Gateway wires the HTTP listener to the rest of the proxy.
type Gateway struct {
	Identity codec.Signer
	Pool     *relay.Pool
	Table    *pending.Table
	Filter   map[string]any

	InitialRelays []string
	KeepHost      bool
	Timeout       time.Duration

	// FixedDestination, if non-nil, makes every request target this
	// pubkey regardless of X-Nostr-Destination.
	FixedDestination []byte
}

// ServeHTTP implements http.Handler, running the full §4.8 pipeline.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	headers := copyHeaders(r.Header, g.KeepHost)
	// net/http moves the Host header out of r.Header into r.Host.
	if g.KeepHost && r.Host != "" {
		headers["Host"] = r.Host
	}

	destinationPubkey, hintRelays, errMsg := g.resolveDestination(r, requestID)
	if errMsg != "" {
		pending.WriteBadRequest(w, errMsg)
		return
	}

	destHex := hex.EncodeToString(destinationPubkey)
	key := pending.Key{RequestID: requestID, DestinationPubkey: destHex}

	var unpinOnce bool
	onClose := func() {
		if unpinOnce {
			return
		}
		unpinOnce = true
		g.Pool.Unpin(requestID)
	}
	entry := g.Table.Insert(key, w, g.Timeout, onClose, func() {
		pending.WriteTimeout(w)
	})

	body, err := io.ReadAll(r.Body)
	if chk.E(err) {
		g.Table.Delete(key)
		pending.WriteFailed(w)
		return
	}

	req := egress.Request{
		ID:                requestID,
		DestinationPubkey: destinationPubkey,
		Method:            r.Method,
		URL:               r.URL.RequestURI(),
		Headers:           headers,
		Body:              body,
		HintRelays:        hintRelays,
	}
	if err = egress.Send(g.Identity, g.Pool, g.InitialRelays, g.Filter, req); chk.E(err) {
		g.Table.Delete(key)
		pending.WriteFailed(w)
		return
	}

	// Block until ingress (or the timeout callback above) completes and
	// removes the Pending entry, or the request context ends first
	// (client disconnect or server shutdown) — whichever races in first.
	select {
	case <-entry.Done():
	case <-r.Context().Done():
		g.Table.Delete(key)
	}
}

// copyHeaders clones an inbound header set, stripping X-Nostr-Destination
// always and Host unless keepHost is set (spec.md §4.8 step 2).
func copyHeaders(h http.Header, keepHost bool) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		out[k] = v[0]
	}
	delete(out, "X-Nostr-Destination")
	if !keepHost {
		delete(out, "Host")
	}
	return out
}

// resolveDestination implements §4.8 step 3. Returns a non-empty errMsg on
// any of the 400 cases.
func (g *Gateway) resolveDestination(r *http.Request, requestID string) (pubkey []byte, hints []string, errMsg string) {
	if g.FixedDestination != nil {
		return g.FixedDestination, nil, ""
	}

	header := r.Header.Get("X-Nostr-Destination")
	r.Header.Del("X-Nostr-Destination")
	if header == "" {
		return nil, nil, "Missing X-Nostr-Destination header"
	}

	if len(header) >= 8 && header[:8] == "nprofile" {
		prefix, value, err := nip19.Decode(header)
		if err != nil || prefix != "nprofile" {
			return nil, nil, "Malformed X-Nostr-Destination header"
		}
		pointer, ok := value.(nostr.ProfilePointer)
		if !ok {
			return nil, nil, "Malformed X-Nostr-Destination header"
		}
		pubkey, err = hex.DecodeString(pointer.PublicKey)
		if chk.E(err) {
			return nil, nil, "Malformed X-Nostr-Destination header"
		}
		hints = filterNewHints(pointer.Relays, g.InitialRelays)
		if len(hints) == 0 && len(g.InitialRelays) == 0 {
			return nil, nil, "No relays configured and destination carries no hints"
		}
		for _, url := range hints {
			g.Pool.TouchHint(url, requestID, g.Filter)
		}
		return pubkey, hints, ""
	}

	prefix, value, err := nip19.Decode(header)
	if err != nil || prefix != "npub" {
		return nil, nil, "Malformed X-Nostr-Destination header"
	}
	if len(g.InitialRelays) == 0 {
		return nil, nil, "No relays configured for npub destination"
	}
	hexStr, ok := value.(string)
	if !ok {
		return nil, nil, "Malformed X-Nostr-Destination header"
	}
	pubkey, err = hex.DecodeString(hexStr)
	if chk.E(err) {
		return nil, nil, "Malformed X-Nostr-Destination header"
	}
	return pubkey, nil, ""
}

// filterNewHints normalizes hint relay URLs (spec.md §3) and drops any
// already present among the initial relays, so semantically-duplicate URLs
// (different case, default port, trailing slash) don't end up double-
// counted against the "no relay URL appears twice" invariant.
func filterNewHints(hints, initial []string) []string {
	initialSet := make(map[string]bool, len(initial))
	for _, r := range initial {
		initialSet[relay.NormalizeURL(r)] = true
	}
	var out []string
	seen := make(map[string]bool)
	for _, h := range hints {
		if h == "" {
			continue
		}
		n := relay.NormalizeURL(h)
		if n == "" || initialSet[n] || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
