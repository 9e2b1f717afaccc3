// Package pending implements the Pending Table (spec.md §4.6): the map of
// in-flight HTTP requests keyed by (request id, destination pubkey) that
// ingress completes and timeout/disconnect/shutdown all race to close
// exactly once.
package pending

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"orly.dev/noxy/chk"
	"orly.dev/noxy/log"
)

// Key identifies one in-flight request.
type Key struct {
	RequestID         string
	DestinationPubkey string // hex
}

// Entry is one in-flight request's mutable state.
type Entry struct {
	mu        sync.Mutex
	Parts     map[uint]string // partIndex -> bodyBase64
	Total     uint            // expected number of parts, 0 until part 0 seen
	Status    int
	Headers   map[string]string
	ResponseW http.ResponseWriter
	done      chan struct{}

	timer    *time.Timer
	onClose  func()
	closed   bool
}

// Table is the Pending Table: a concurrency-safe map guarded by one mutex,
// per spec.md §5's single-mutex shared-table policy.
type Table struct {
	mu      sync.Mutex
	entries map[Key]*Entry
}

// NewTable constructs an empty Pending Table.
func NewTable() *Table {
	return &Table{entries: make(map[Key]*Entry)}
}

// Insert creates a Pending entry for key with a fresh timeout timer. onClose
// runs exactly once, whatever triggers removal (completion, timeout, client
// disconnect), per spec.md §4.6. onTimeout is invoked if the timer fires
// before Delete is otherwise called.
func (t *Table) Insert(
	key Key, w http.ResponseWriter, timeout time.Duration,
	onClose func(), onTimeout func(),
) *Entry {
	e := &Entry{
		Parts:     make(map[uint]string),
		ResponseW: w,
		done:      make(chan struct{}),
		onClose:   onClose,
	}
	t.mu.Lock()
	t.entries[key] = e
	t.mu.Unlock()

	e.timer = time.AfterFunc(timeout, func() {
		if t.Delete(key) {
			onTimeout()
		}
	})
	return e
}

// Done returns the channel closed when this entry is removed from the
// table, by whatever cause.
func (e *Entry) Done() <-chan struct{} { return e.done }

// Get returns the entry for key, if any.
func (t *Table) Get(key Key) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	return e, ok
}

// Delete removes key's entry (if present), cancels its timer and runs its
// on-close hook exactly once. Returns whether an entry was actually removed
// (false if it had already been removed by a racing caller).
func (t *Table) Delete(key Key) bool {
	t.mu.Lock()
	e, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	already := e.closed
	e.closed = true
	e.mu.Unlock()
	if already {
		return false
	}
	e.timer.Stop()
	close(e.done)
	if e.onClose != nil {
		e.onClose()
	}
	return true
}

// PutPart records one response part idempotently on index and reports
// whether the entry is now complete: part 0 has been seen and the number of
// stored parts equals Total. The stored indices themselves are not checked
// against the range 0..Total-1.
func (e *Entry) PutPart(index uint, bodyBase64 string, status int, headers map[string]string, total uint) (complete bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.Parts[index]; !dup {
		e.Parts[index] = bodyBase64
	}
	if index == 0 {
		e.Status = status
		e.Headers = headers
		// Only part 0 is authoritative for the expected-parts count
		// (spec.md's Pending response glossary entry); a later part
		// cannot move the completion threshold.
		e.Total = total
	}
	return uint(len(e.Parts)) == e.Total && e.Total > 0
}

// OrderedBodyBase64 returns the stored parts concatenated in index order.
// Caller must have already confirmed completeness.
func (e *Entry) OrderedBodyBase64() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := ""
	for i := uint(0); i < e.Total; i++ {
		out += e.Parts[i]
	}
	return out
}

// Complete finalizes the entry's table removal after a full response has
// been assembled and written.
func (t *Table) Complete(key Key) {
	t.Delete(key)
}

// WriteTimeout writes the 500 "Timed out" response for w, swallowing any
// write failure since the underlying socket may already be gone (spec.md
// §4.8 step 7).
func WriteTimeout(w http.ResponseWriter) {
	w.WriteHeader(http.StatusInternalServerError)
	if _, err := w.Write([]byte("Timed out")); chk.D(err) {
		log.D.Ln("failed to write timeout response, client likely gone")
	}
}

// WriteFailed writes the 500 "Failed" response for w.
func WriteFailed(w http.ResponseWriter) {
	w.WriteHeader(http.StatusInternalServerError)
	if _, err := w.Write([]byte("Failed")); chk.D(err) {
		log.D.Ln("failed to write failure response, client likely gone")
	}
}

// WriteBadRequest writes a 400 response with msg as the body.
func WriteBadRequest(w http.ResponseWriter, msg string) {
	w.WriteHeader(http.StatusBadRequest)
	if _, err := w.Write([]byte(msg)); chk.D(err) {
		log.D.Ln("failed to write bad-request response, client likely gone")
	}
}

// KeyString renders a Key for log lines.
func KeyString(k Key) string {
	return fmt.Sprintf("%s/%s", k.RequestID, k.DestinationPubkey)
}
