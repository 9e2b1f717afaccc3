package ingress

import (
	"encoding/hex"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"orly.dev/noxy/codec"
	"orly.dev/noxy/pending"
)

func buildResponseWrap(t *testing.T, sender *codec.KeySigner, recipient *codec.KeySigner, createdAt int64, reqID string, partIndex, parts uint, status int) *codec.Event {
	return buildResponseWrapWithBody(t, sender, recipient, createdAt, reqID, partIndex, parts, status, "aGk=")
}

func buildResponseWrapWithBody(t *testing.T, sender *codec.KeySigner, recipient *codec.KeySigner, createdAt int64, reqID string, partIndex, parts uint, status int, bodyBase64 string) *codec.Event {
	t.Helper()
	content := map[string]any{
		"id": reqID, "partIndex": partIndex, "parts": parts, "bodyBase64": bodyBase64,
	}
	if partIndex == 0 {
		content["status"] = status
		content["headers"] = map[string]string{"content-type": "text/plain"}
	}
	wrap, err := codec.BuildGiftWrap(sender, recipient.Pub(), codec.KindResponse, content, createdAt, nil)
	require.NoError(t, err)
	return wrap
}

func newIngressWithPending(t *testing.T) (*Ingress, *codec.KeySigner, *codec.KeySigner, *pending.Table) {
	t.Helper()
	recipient := &codec.KeySigner{}
	sender := &codec.KeySigner{}
	require.NoError(t, recipient.Generate())
	require.NoError(t, sender.Generate())

	table := pending.NewTable()
	in := New(recipient, table)
	return in, sender, recipient, table
}

func TestHandleCompletesSinglePartResponse(t *testing.T) {
	in, sender, _, table := newIngressWithPending(t)

	key := pending.Key{RequestID: "req-1", DestinationPubkey: hex.EncodeToString(sender.Pub())}
	w := httptest.NewRecorder()
	table.Insert(key, w, time.Minute, func() {}, func() {})

	wrap := buildResponseWrap(t, sender, in.identity.(*codec.KeySigner), time.Now().Unix(), "req-1", 0, 1, 200)
	in.Handle(wrap)

	require.Equal(t, 200, w.Code)
	require.Equal(t, "hi", w.Body.String())
	_, ok := table.Get(key)
	require.False(t, ok)
}

func TestHandleDropsUnknownPendingEntry(t *testing.T) {
	in, sender, _, _ := newIngressWithPending(t)
	wrap := buildResponseWrap(t, sender, in.identity.(*codec.KeySigner), time.Now().Unix(), "no-such-request", 0, 1, 200)
	// Must not panic; there is nothing to assert on besides it not crashing.
	in.Handle(wrap)
}

func TestHandleDropsReplayTooFarInFuture(t *testing.T) {
	in, sender, _, table := newIngressWithPending(t)
	key := pending.Key{RequestID: "req-future", DestinationPubkey: hex.EncodeToString(sender.Pub())}
	w := httptest.NewRecorder()
	table.Insert(key, w, time.Minute, func() {}, func() {})

	future := time.Now().Unix() + 601
	wrap := buildResponseWrap(t, sender, in.identity.(*codec.KeySigner), future, "req-future", 0, 1, 200)
	in.Handle(wrap)

	_, ok := table.Get(key)
	require.True(t, ok, "entry should remain pending since the response was dropped")
}

func TestHandleDropsReplayBeforeOldestTime(t *testing.T) {
	in, sender, _, table := newIngressWithPending(t)
	in.SetOldestTime(time.Now().Unix())

	key := pending.Key{RequestID: "req-old", DestinationPubkey: hex.EncodeToString(sender.Pub())}
	w := httptest.NewRecorder()
	table.Insert(key, w, time.Minute, func() {}, func() {})

	past := time.Now().Unix() - 10
	wrap := buildResponseWrap(t, sender, in.identity.(*codec.KeySigner), past, "req-old", 0, 1, 200)
	in.Handle(wrap)

	_, ok := table.Get(key)
	require.True(t, ok)
}

func TestHandleDropsDuplicateResponseID(t *testing.T) {
	in, sender, _, table := newIngressWithPending(t)
	key := pending.Key{RequestID: "req-dup", DestinationPubkey: hex.EncodeToString(sender.Pub())}
	w := httptest.NewRecorder()
	table.Insert(key, w, time.Minute, func() {}, func() {})

	createdAt := time.Now().Unix()
	wrap := buildResponseWrap(t, sender, in.identity.(*codec.KeySigner), createdAt, "req-dup", 0, 1, 200)
	in.Handle(wrap)
	require.Equal(t, 200, w.Code)

	// A second, equivalent completion racing in after close must not
	// double-write: re-insert a fresh entry under the same key and
	// replay the same wrapped response id, which should be dropped.
	w2 := httptest.NewRecorder()
	table.Insert(key, w2, time.Minute, func() {}, func() {})
	wrap2 := buildResponseWrap(t, sender, in.identity.(*codec.KeySigner), createdAt, "req-dup", 0, 1, 200)
	in.Handle(wrap2)

	require.Empty(t, w2.Body.String())
}

func TestHandleTwoPartReassemblyOutOfOrder(t *testing.T) {
	in, sender, _, table := newIngressWithPending(t)
	key := pending.Key{RequestID: "req-two", DestinationPubkey: hex.EncodeToString(sender.Pub())}
	w := httptest.NewRecorder()
	table.Insert(key, w, time.Minute, func() {}, func() {})

	part1 := buildResponseWrapWithBody(t, sender, in.identity.(*codec.KeySigner), time.Now().Unix(), "req-two", 1, 2, 0, "k=")
	in.Handle(part1)
	require.Empty(t, w.Body.String(), "should not complete until part 0 arrives")

	part0 := buildResponseWrapWithBody(t, sender, in.identity.(*codec.KeySigner), time.Now().Unix(), "req-two", 0, 2, 201, "aG")
	in.Handle(part0)

	require.Equal(t, 201, w.Code)
}
