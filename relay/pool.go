package relay

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"orly.dev/noxy/chk"
	"orly.dev/noxy/codec"
	"orly.dev/noxy/log"
)

// Pool holds a fixed set of initial relay connections plus a bounded,
// pin-aware LRU cache of "hint" relay connections, per spec.md §4.4. A
// single mutex guards the cache bookkeeping; it is never held across a
// network suspension point (spec.md §5).
type Pool struct {
	ctx context.Context

	maxCached int
	ingest    EventHandler

	mu      sync.Mutex
	initial map[string]*Connection   // url -> connection, never evicted
	hints   map[string]*list.Element // url -> lru element
	lru     *list.List               // front = most recently used
	pinned  map[string]map[string]bool // url -> set of request ids pinning it
}

type hintEntry struct {
	url string
	cn  *Connection
}

// NewPool dials every initial relay immediately; failures are logged and
// skipped rather than aborting startup (spec.md §4.10, §7).
func NewPool(
	ctx context.Context, initialRelays []string, maxCachedRelays int,
	filter map[string]any, ingest EventHandler,
) *Pool {
	p := &Pool{
		ctx:       ctx,
		maxCached: maxCachedRelays,
		ingest:    ingest,
		initial:   make(map[string]*Connection, len(initialRelays)),
		hints:     make(map[string]*list.Element),
		lru:       list.New(),
		pinned:    make(map[string]map[string]bool),
	}
	for _, url := range initialRelays {
		cn, err := Connect(ctx, url, filter, ingest)
		if chk.E(err) {
			log.W.F("initial relay %s failed to connect: %v", url, err)
			continue
		}
		p.initial[url] = cn
	}
	return p
}

// Publish fans the event out to every relay in targetURLs that the pool
// already has a connection for (initial or cached hint), dialing a fresh
// connection for any it does not, per spec.md §4.7 step 5. Per-relay
// failures are logged, never aborting the other relays.
func (p *Pool) Publish(evt *codec.Event, targetURLs []string, filter map[string]any) {
	for _, url := range targetURLs {
		cn := p.connectionFor(url, filter)
		if cn == nil {
			continue
		}
		if err := cn.Publish(evt); chk.E(err) {
			log.W.F("publish to %s failed: %v", url, err)
		}
	}
}

// connectionFor returns an existing connection for url (initial or cached),
// redialing first if that connection is no longer open, or dials and caches
// a new hint connection if none exists yet. Returns nil if dialing fails.
func (p *Pool) connectionFor(url string, filter map[string]any) *Connection {
	p.mu.Lock()
	if cn, ok := p.initial[url]; ok {
		p.mu.Unlock()
		return p.reviveInitial(url, cn, filter)
	}
	if el, ok := p.hints[url]; ok {
		p.lru.MoveToFront(el)
		cn := el.Value.(*hintEntry).cn
		p.mu.Unlock()
		return p.reviveHint(url, cn, filter)
	}
	p.mu.Unlock()

	cn, err := Connect(p.ctx, url, filter, p.ingest)
	if chk.E(err) {
		log.W.F("hint relay %s failed to connect: %v", url, err)
		return nil
	}
	p.cacheHint(url, cn)
	return cn
}

// TouchHint registers url as a hint relay (moving it to the front of the
// LRU if already cached, or connecting and inserting it if not), and pins it
// against eviction on behalf of requestID, per spec.md §4.4/§4.8.
func (p *Pool) TouchHint(url, requestID string, filter map[string]any) {
	p.mu.Lock()
	if cn, ok := p.initial[url]; ok {
		p.pin(url, requestID)
		p.mu.Unlock()
		p.reviveInitial(url, cn, filter)
		return
	}
	if el, ok := p.hints[url]; ok {
		p.lru.MoveToFront(el)
		cn := el.Value.(*hintEntry).cn
		p.pin(url, requestID)
		p.mu.Unlock()
		p.reviveHint(url, cn, filter)
		return
	}
	p.mu.Unlock()

	cn, err := Connect(p.ctx, url, filter, p.ingest)
	if chk.E(err) {
		log.W.F("hint relay %s failed to connect: %v", url, err)
		return
	}
	p.cacheHint(url, cn)
	p.mu.Lock()
	p.pin(url, requestID)
	p.mu.Unlock()
}

// reviveInitial redials url and installs the replacement in p.initial if cn
// is no longer open; a dead cached connection is otherwise never detected or
// redialed, per spec.md §4.3's failure semantics. Returns the connection
// callers should actually use.
func (p *Pool) reviveInitial(url string, cn *Connection, filter map[string]any) *Connection {
	if cn.State() == StateOpen {
		return cn
	}
	fresh, err := Connect(p.ctx, url, filter, p.ingest)
	if chk.E(err) {
		log.W.F("initial relay %s failed to reconnect: %v", url, err)
		return cn
	}
	p.mu.Lock()
	p.initial[url] = fresh
	p.mu.Unlock()
	return fresh
}

// reviveHint is reviveInitial's counterpart for cached hint connections.
func (p *Pool) reviveHint(url string, cn *Connection, filter map[string]any) *Connection {
	if cn.State() == StateOpen {
		return cn
	}
	fresh, err := Connect(p.ctx, url, filter, p.ingest)
	if chk.E(err) {
		log.W.F("hint relay %s failed to reconnect: %v", url, err)
		return cn
	}
	p.mu.Lock()
	if el, ok := p.hints[url]; ok {
		el.Value.(*hintEntry).cn = fresh
	}
	p.mu.Unlock()
	return fresh
}

// pin must be called with p.mu held.
func (p *Pool) pin(url, requestID string) {
	set, ok := p.pinned[url]
	if !ok {
		set = make(map[string]bool)
		p.pinned[url] = set
	}
	set[requestID] = true
}

// Unpin releases requestID's pin on every hint relay it held, then evicts,
// per spec.md §4.4's unpin(request_id) operation: "removes the id from
// every pinned-set that contains it; then evict()" — not merely relying on
// the next cacheHint to reclaim the slot lazily.
func (p *Pool) Unpin(requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, set := range p.pinned {
		delete(set, requestID)
		if len(set) == 0 {
			delete(p.pinned, url)
		}
	}
	p.evictLocked()
}

// cacheHint inserts a freshly dialed hint connection, evicting the least
// recently used unpinned entry first if the cache is already at capacity.
func (p *Pool) cacheHint(url string, cn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.hints[url]; ok {
		p.lru.MoveToFront(el)
		el.Value.(*hintEntry).cn = cn
		return
	}
	if p.maxCached > 0 && len(p.hints) >= p.maxCached {
		p.evictOneLocked()
	}
	el := p.lru.PushFront(&hintEntry{url: url, cn: cn})
	p.hints[url] = el
}

// evictOneLocked removes the least-recently-used hint relay that has no
// pins. Must be called with p.mu held. No-op if every cached relay is
// pinned, per spec.md §4.4's eviction-only-after-pinning-released rule.
// Returns whether an entry was removed.
func (p *Pool) evictOneLocked() bool {
	for el := p.lru.Back(); el != nil; el = el.Prev() {
		entry := el.Value.(*hintEntry)
		if len(p.pinned[entry.url]) > 0 {
			continue
		}
		p.lru.Remove(el)
		delete(p.hints, entry.url)
		go func(cn *Connection) {
			if err := cn.Close(); chk.D(err) {
				log.D.F("error closing evicted relay connection: %v", err)
			}
		}(entry.cn)
		return true
	}
	return false
}

// evictLocked implements spec.md §4.4's evict() operation: while the
// cached list exceeds the configured maximum, remove the least-recently-
// used unpinned entry; stop when no evictable candidate exists. Must be
// called with p.mu held.
func (p *Pool) evictLocked() {
	if p.maxCached <= 0 {
		return
	}
	for len(p.hints) > p.maxCached {
		if !p.evictOneLocked() {
			return
		}
	}
}

// AnyOpen reports whether at least one initial relay connection reached
// StateOpen, for the §4.10 startup connectivity check.
func (p *Pool) AnyOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cn := range p.initial {
		if cn.State() == StateOpen {
			return true
		}
	}
	return false
}

// Rewind reopens the subscription on every connection the pool holds
// (initial and cached hints) under newFilter, per spec.md §4.9's hourly
// tick. Per-connection failures are logged, never aborting the others.
func (p *Pool) Rewind(newFilter map[string]any) {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.initial)+len(p.hints))
	for _, cn := range p.initial {
		conns = append(conns, cn)
	}
	for _, el := range p.hints {
		conns = append(conns, el.Value.(*hintEntry).cn)
	}
	p.mu.Unlock()

	for _, cn := range conns {
		if err := cn.Rewind(newFilter); chk.E(err) {
			log.W.F("rewind failed for %s: %v", cn.URL, err)
		}
	}
}

// Close tears down every connection the pool holds.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, cn := range p.initial {
		if err := cn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, el := range p.hints {
		cn := el.Value.(*hintEntry).cn
		if err := cn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("closing relay pool: %w", firstErr)
	}
	return nil
}
