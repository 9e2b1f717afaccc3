package relay

import (
	"container/list"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"

	"orly.dev/noxy/codec"
)

// fakeOpenConnection builds a Connection backed by a net.Pipe instead of a
// real relay socket, with its write-queue goroutine running so Publish
// calls complete instead of blocking forever. The pipe's other end is
// continuously drained so writes never stall.
func fakeOpenConnection(t *testing.T, url string) *Connection {
	t.Helper()
	server, client := net.Pipe()
	go io.Copy(io.Discard, server)

	var msgState wsflate.MessageState
	cn := &Connection{
		URL: url,
		wire: &wireConn{
			conn:      client,
			writer:    wsutil.NewWriter(client, ws.StateClientSide, ws.OpText),
			msgStateW: &msgState,
		},
		writeQueue: make(chan writeRequest),
		done:       make(chan struct{}),
		subID:      "noxy",
	}
	cn.state.Store(int32(StateOpen))
	go cn.writeLoop()
	t.Cleanup(func() {
		cn.Close()
		server.Close()
	})
	return cn
}

func newTestPool() *Pool {
	return &Pool{
		ctx:     context.Background(),
		initial: make(map[string]*Connection),
		hints:   make(map[string]*list.Element),
		lru:     list.New(),
		pinned:  make(map[string]map[string]bool),
	}
}

func TestConnectionForReturnsExistingOpenConnectionWithoutRedial(t *testing.T) {
	p := newTestPool()
	cn := fakeOpenConnection(t, "wss://a.example")
	p.initial[cn.URL] = cn

	got := p.connectionFor("wss://a.example", nil)
	require.Same(t, cn, got, "an open initial connection must be reused as-is")
}

func TestPoolPublishFansOutToExistingConnections(t *testing.T) {
	p := newTestPool()
	cnA := fakeOpenConnection(t, "wss://a.example")
	cnB := fakeOpenConnection(t, "wss://b.example")
	p.initial[cnA.URL] = cnA
	p.initial[cnB.URL] = cnB

	evt := &codec.Event{ID: "deadbeef", Pubkey: "cafe", Sig: "sig"}
	done := make(chan struct{})
	go func() {
		p.Publish(evt, []string{cnA.URL, cnB.URL}, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish did not return; fan-out likely blocked on a target")
	}
}

func TestUnpinEvictsWhenOverCapacity(t *testing.T) {
	p := newTestPool()
	p.maxCached = 1

	cnA := fakeOpenConnection(t, "wss://a.example")
	cnB := fakeOpenConnection(t, "wss://b.example")
	elA := p.lru.PushBack(&hintEntry{url: cnA.URL, cn: cnA})
	p.hints[cnA.URL] = elA
	elB := p.lru.PushFront(&hintEntry{url: cnB.URL, cn: cnB})
	p.hints[cnB.URL] = elB
	require.Len(t, p.hints, 2, "cache starts over the configured maximum")

	p.Unpin("some-unrelated-request")

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.hints) == 1
	}, time.Second, 10*time.Millisecond, "Unpin must evict down to the cache maximum")

	_, stillCached := p.hints[cnA.URL]
	require.False(t, stillCached, "the least-recently-used entry should be the one evicted")
}

func TestUnpinDoesNotEvictPinnedEntries(t *testing.T) {
	p := newTestPool()
	p.maxCached = 1

	cnA := fakeOpenConnection(t, "wss://a.example")
	cnB := fakeOpenConnection(t, "wss://b.example")
	elA := p.lru.PushBack(&hintEntry{url: cnA.URL, cn: cnA})
	p.hints[cnA.URL] = elA
	elB := p.lru.PushFront(&hintEntry{url: cnB.URL, cn: cnB})
	p.hints[cnB.URL] = elB
	p.pin(cnA.URL, "req-still-open")

	p.Unpin("some-other-request")

	p.mu.Lock()
	_, aStillCached := p.hints[cnA.URL]
	p.mu.Unlock()
	require.True(t, aStillCached, "a pinned entry must survive eviction")
}
