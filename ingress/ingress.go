// Package ingress implements the decrypt-verify-validate-reassemble
// pipeline of spec.md §4.5: every event any relay connection delivers flows
// through Handle, which silently drops anything that fails a step and only
// ever touches the Pending Table for a response it can fully attribute.
package ingress

import (
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"orly.dev/noxy/chk"
	"orly.dev/noxy/codec"
	"orly.dev/noxy/log"
	"orly.dev/noxy/pending"
)

// replayFutureSlack is the §4.5 step 7 / §GLOSSARY "replay window" upper
// bound: inner.created_at must be <= now + 600s.
const replayFutureSlack = 600

// Ingress owns the dedup maps and drives the Pending Table on behalf of
// every relay connection's event handler.
type Ingress struct {
	identity codec.Signer
	table    *pending.Table

	handledEventTimes   *xsync.MapOf[string, int64]
	handledResponseIDs  *xsync.MapOf[string, int64]
	oldestTime          atomic.Int64
}

// New constructs an Ingress bound to identity and the shared Pending Table.
// oldestTime starts at now-48h, matching the initial subscription window.
func New(identity codec.Signer, table *pending.Table) *Ingress {
	in := &Ingress{
		identity:           identity,
		table:              table,
		handledEventTimes:  xsync.NewMapOf[string, int64](),
		handledResponseIDs: xsync.NewMapOf[string, int64](),
	}
	in.oldestTime.Store(time.Now().Unix() - 48*3600)
	return in
}

// SetOldestTime is called by the clock package on its 10-minute tick.
func (in *Ingress) SetOldestTime(t int64) { in.oldestTime.Store(t) }

// ReapEventTimes drops handled-event-times entries older than cutoff, called
// by the clock package on its 1-hour rewind tick.
func (in *Ingress) ReapEventTimes(cutoff int64) {
	in.handledEventTimes.Range(func(id string, ts int64) bool {
		if ts < cutoff {
			in.handledEventTimes.Delete(id)
		}
		return true
	})
}

// ReapResponseIDs drops handled-response-ids entries older than cutoff,
// called by the clock package on its 10-minute tick.
func (in *Ingress) ReapResponseIDs(cutoff int64) {
	in.handledResponseIDs.Range(func(id string, ts int64) bool {
		if ts < cutoff {
			in.handledResponseIDs.Delete(id)
		}
		return true
	})
}

// Handle runs the full §4.5 pipeline for one delivered event.
func (in *Ingress) Handle(evt *codec.Event) {
	now := time.Now().Unix()

	// Step 1: outer-id dedup, unconditionally recorded.
	if _, seen := in.handledEventTimes.Load(evt.ID); seen {
		return
	}
	in.handledEventTimes.Store(evt.ID, now)

	// Step 2.
	if evt.Kind != codec.KindGiftWrap {
		return
	}

	// Steps 3-5: unwrap, verify seal, parse inner.
	unwrapped, err := codec.UnwrapGiftWrap(in.identity, evt)
	if chk.D(err) {
		log.D.F("dropping gift wrap %s: %v", evt.ID, err)
		return
	}
	inner := unwrapped.Inner

	// Step 6: inner event shape.
	if inner.Kind != codec.KindResponse {
		log.D.F("dropping inner event %s: wrong kind %d", inner.ID, inner.Kind)
		return
	}
	if inner.Pubkey != hex.EncodeToString(unwrapped.SealAuthor) {
		log.D.F("dropping inner event %s: pubkey does not match seal author", inner.ID)
		return
	}
	if inner.ID == "" || len(inner.ID) > 100 {
		log.D.F("dropping inner event: invalid id length")
		return
	}

	// Step 7: replay window.
	oldest := in.oldestTime.Load()
	if inner.CreatedAt < oldest || inner.CreatedAt > now+replayFutureSlack {
		log.D.F(
			"dropping inner event %s: created_at %d outside [%d, %d]",
			inner.ID, inner.CreatedAt, oldest, now+replayFutureSlack,
		)
		return
	}

	// Step 8: inner-id dedup.
	if _, seen := in.handledResponseIDs.Load(inner.ID); seen {
		return
	}
	in.handledResponseIDs.Store(inner.ID, now)

	// Step 9: parse and validate the response message.
	resp, err := codec.ParseResponseMessage(inner.Content)
	if chk.D(err) {
		log.D.F("dropping inner event %s: bad response message: %v", inner.ID, err)
		return
	}

	// Step 10: route into the Pending Table.
	in.route(resp, unwrapped.SealAuthor)
}

func (in *Ingress) route(resp *codec.ResponseMessage, destinationPubkey []byte) {
	key := pending.Key{
		RequestID:         resp.ID,
		DestinationPubkey: hex.EncodeToString(destinationPubkey),
	}
	entry, ok := in.table.Get(key)
	if !ok {
		log.D.F("dropping response part for unknown pending entry %s", pending.KeyString(key))
		return
	}
	complete := entry.PutPart(resp.PartIndex, resp.BodyBase64, resp.Status, resp.Headers, resp.Parts)
	if !complete {
		return
	}
	body, err := codec.Reassemble([]string{entry.OrderedBodyBase64()})
	if chk.E(err) {
		log.W.F("failed to reassemble response body for %s: %v", pending.KeyString(key), err)
		in.table.Delete(key)
		return
	}
	writeFinalResponse(entry, body)
	in.table.Complete(key)
}

func writeFinalResponse(entry *pending.Entry, body []byte) {
	for k, v := range entry.Headers {
		entry.ResponseW.Header().Set(k, v)
	}
	status := entry.Status
	if status == 0 {
		status = 200
	}
	entry.ResponseW.WriteHeader(status)
	if _, err := entry.ResponseW.Write(body); chk.D(err) {
		log.D.Ln("failed to write assembled response, client likely gone")
	}
}
