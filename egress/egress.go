// Package egress implements spec.md §4.7: segmenting an HTTP request into
// gift-wrapped parts and fanning them out across the relay pool.
package egress

import (
	"fmt"
	"net/url"
	"time"

	"orly.dev/noxy/chk"
	"orly.dev/noxy/codec"
	"orly.dev/noxy/log"
	"orly.dev/noxy/relay"
)

// Request is everything Egress needs to publish one tunneled HTTP request.
type Request struct {
	ID                string // the public request id (UUIDv4 string)
	DestinationPubkey []byte
	Method            string
	URL               string
	Headers           map[string]string
	Body              []byte

	// HintRelays were already opened by the Gateway for this request
	// (e.g. from an nprofile's relay list); they participate in both
	// publish and the "safe relays" tag set.
	HintRelays []string
}

// Send segments req, builds one gift-wrapped envelope per part and fans
// every part out across the initial relays and req.HintRelays via pool.
func Send(identity codec.Signer, pool *relay.Pool, initialRelays []string, filter map[string]any, req Request) error {
	parts := codec.Segment(req.Body)
	// safeRelays feeds only the wrapped content's relay hint tag: a
	// credentialed or query-bearing relay must never be advertised to the
	// destination. targetRelays is the actual publish fan-out and keeps
	// every relay the caller is locally configured to use, credentialed
	// ones included, per spec.md end-to-end scenario 6.
	safeRelays := safeRelayList(initialRelays, req.HintRelays)
	targetRelays := targetRelayList(initialRelays, req.HintRelays)

	now := time.Now().Unix()
	for i, chunk := range parts {
		content := innerContent(req, uint(i), uint(len(parts)), chunk)
		wrap, err := codec.BuildGiftWrap(
			identity, req.DestinationPubkey, codec.KindRequest, content, now, safeRelays,
		)
		if err != nil {
			return fmt.Errorf("build gift wrap for part %d: %w", i, err)
		}
		pool.Publish(wrap, targetRelays, filter)
	}
	return nil
}

// innerContent builds the kind-80 inner message per spec.md §3: method,
// url and headers are only present on part 0.
func innerContent(req Request, partIndex, parts uint, bodyBase64 string) map[string]any {
	m := map[string]any{
		"id":         req.ID,
		"partIndex":  partIndex,
		"parts":      parts,
		"bodyBase64": bodyBase64,
	}
	if partIndex == 0 {
		m["method"] = req.Method
		m["url"] = req.URL
		m["headers"] = req.Headers
	}
	return m
}

// safeRelayList is the union of initial and hint relays, deduplicated and
// filtered to drop any URL carrying a username, password or query string,
// per spec.md §4.7 step 3 / end-to-end scenario 6.
func safeRelayList(initial, hints []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(raw string) {
		if seen[raw] {
			return
		}
		seen[raw] = true
		u, err := url.Parse(raw)
		if chk.D(err) {
			log.D.F("dropping unparseable relay url %q: %v", raw, err)
			return
		}
		if u.User != nil || u.RawQuery != "" {
			log.D.F("dropping relay url with embedded credentials or query: %s", raw)
			return
		}
		out = append(out, raw)
	}
	for _, r := range initial {
		add(r)
	}
	for _, r := range hints {
		add(r)
	}
	return out
}

// targetRelayList is the deduplicated union of initial and hint relays,
// with no credential/query filtering: this is the actual set of relays the
// gift-wrapped event is published to, which must include a locally
// configured credentialed relay even though it is never advertised in the
// wrapped content's relay tag (see safeRelayList).
func targetRelayList(initial, hints []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(raw string) {
		if seen[raw] {
			return
		}
		seen[raw] = true
		out = append(out, raw)
	}
	for _, r := range initial {
		add(r)
	}
	for _, r := range hints {
		add(r)
	}
	return out
}
