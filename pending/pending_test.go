package pending

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInsertThenDeleteRunsOnCloseExactlyOnce(t *testing.T) {
	table := NewTable()
	key := Key{RequestID: "r1", DestinationPubkey: "dst"}
	w := httptest.NewRecorder()

	closedCount := 0
	table.Insert(key, w, time.Minute, func() { closedCount++ }, func() {})

	require.True(t, table.Delete(key))
	require.False(t, table.Delete(key)) // second delete is a no-op
	require.Equal(t, 1, closedCount)
}

func TestGetReturnsEntryUntilDeleted(t *testing.T) {
	table := NewTable()
	key := Key{RequestID: "r2", DestinationPubkey: "dst"}
	w := httptest.NewRecorder()
	table.Insert(key, w, time.Minute, func() {}, func() {})

	_, ok := table.Get(key)
	require.True(t, ok)

	table.Delete(key)
	_, ok = table.Get(key)
	require.False(t, ok)
}

func TestPutPartCompletesOnlyWhenAllIndicesPresent(t *testing.T) {
	table := NewTable()
	key := Key{RequestID: "r3", DestinationPubkey: "dst"}
	w := httptest.NewRecorder()
	entry := table.Insert(key, w, time.Minute, func() {}, func() {})

	require.False(t, entry.PutPart(1, "part1", 0, nil, 2))
	require.True(t, entry.PutPart(0, "part0", 200, map[string]string{"a": "b"}, 2))

	require.Equal(t, "part0part1", entry.OrderedBodyBase64())
	require.Equal(t, 200, entry.Status)
}

func TestPutPartIsIdempotentOnDuplicateIndex(t *testing.T) {
	table := NewTable()
	key := Key{RequestID: "r4", DestinationPubkey: "dst"}
	w := httptest.NewRecorder()
	entry := table.Insert(key, w, time.Minute, func() {}, func() {})

	entry.PutPart(0, "first", 200, map[string]string{}, 1)
	entry.PutPart(0, "second", 200, map[string]string{}, 1)

	require.Equal(t, "first", entry.OrderedBodyBase64())
}

func TestTimeoutFiresOnCloseAndWritesTimeoutResponse(t *testing.T) {
	table := NewTable()
	key := Key{RequestID: "r5", DestinationPubkey: "dst"}
	w := httptest.NewRecorder()

	closedCount := 0
	timedOut := make(chan struct{})
	table.Insert(key, w, 10*time.Millisecond, func() { closedCount++ }, func() {
		WriteTimeout(w)
		close(timedOut)
	})

	select {
	case <-timedOut:
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}
	require.Equal(t, 1, closedCount)
	require.Equal(t, 500, w.Code)
	require.Equal(t, "Timed out", w.Body.String())
}
