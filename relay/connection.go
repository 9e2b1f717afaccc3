package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"orly.dev/noxy/chk"
	"orly.dev/noxy/codec"
	"orly.dev/noxy/log"
)

// State is the lifecycle state of a Connection, per spec.md §4.3.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// pingInterval matches the teacher's relay client (29s, safely under most
// relays' idle timeouts).
const pingInterval = 29 * time.Second

// Bounded exponential backoff for transient dial failures, per spec.md
// §4.3 ("connect with exponential backoff on transient failure (bounded)").
const (
	backoffBase    = 1 * time.Second
	backoffMax     = 30 * time.Second
	backoffRetries = 5
)

// backoff computes the delay before dial attempt number attempt (0-based),
// doubling from backoffBase up to backoffMax with +-25% jitter.
func backoff(attempt int) time.Duration {
	delay := float64(backoffBase) * math.Pow(2, float64(attempt))
	if delay > float64(backoffMax) {
		delay = float64(backoffMax)
	}
	jitter := delay * 0.25 * (rand.Float64()*2 - 1)
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// sleep waits for d or ctx cancellation, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EventHandler is invoked, from the Connection's own read loop, for every
// EVENT message received on the standing subscription.
type EventHandler func(evt *codec.Event)

// Connection is one WebSocket to one relay: a subscribe-for-gift-wraps-to-us
// REQ plus a queue of outbound EVENT publishes, per spec.md §4.3.
type Connection struct {
	URL string

	wire  *wireConn
	state atomic.Int32

	writeQueue chan writeRequest
	done       chan struct{}

	onEvent    EventHandler
	filter     map[string]any // the current REQ filter object
	subID      string
	subCounter atomic.Int64
}

type writeRequest struct {
	msg    []byte
	answer chan error
}

// Connect dials url and starts the connection's write-queue, ping and
// read-dispatch goroutines. filter is the REQ filter sent once the socket is
// open; onEvent is called for every matching EVENT.
func Connect(
	ctx context.Context, url string, filter map[string]any, onEvent EventHandler,
) (cn *Connection, err error) {
	var wire *wireConn
	for attempt := 0; ; attempt++ {
		wire, err = dialWire(ctx, url, nil, nil)
		if err == nil {
			break
		}
		if attempt >= backoffRetries {
			return nil, fmt.Errorf("connect to %s: %w (after %d attempts)", url, err, attempt+1)
		}
		log.D.F("{%s} dial attempt %d failed, retrying: %v", url, attempt+1, err)
		if sleepErr := sleep(ctx, backoff(attempt)); sleepErr != nil {
			return nil, sleepErr
		}
	}
	cn = &Connection{
		URL:        url,
		wire:       wire,
		writeQueue: make(chan writeRequest),
		done:       make(chan struct{}),
		onEvent:    onEvent,
		filter:     filter,
		subID:      "noxy",
	}
	cn.state.Store(int32(StateOpen))
	go cn.writeLoop()
	go cn.readLoop()
	if err = cn.sendREQ(); chk.E(err) {
		cn.Close()
		return nil, err
	}
	return cn, nil
}

// State returns the connection's current lifecycle state.
func (cn *Connection) State() State { return State(cn.state.Load()) }

func (cn *Connection) sendREQ() error {
	msg := []any{"REQ", cn.subID, cn.filter}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal REQ: %w", err)
	}
	return <-cn.Write(b)
}

// Rewind implements spec.md §4.3/§4.9's gap-free subscription swap: the new
// subscription (with newFilter) is opened under a fresh id before the old
// one is closed.
func (cn *Connection) Rewind(newFilter map[string]any) error {
	oldSubID := cn.subID
	newSubID := fmt.Sprintf("noxy-%d", cn.subCounter.Add(1))

	reqMsg, err := json.Marshal([]any{"REQ", newSubID, newFilter})
	if err != nil {
		return fmt.Errorf("marshal REQ: %w", err)
	}
	if err = <-cn.Write(reqMsg); chk.E(err) {
		return fmt.Errorf("open rewound subscription: %w", err)
	}
	cn.subID = newSubID
	cn.filter = newFilter

	closeMsg, err := json.Marshal([]any{"CLOSE", oldSubID})
	if err != nil {
		return fmt.Errorf("marshal CLOSE: %w", err)
	}
	if err = <-cn.Write(closeMsg); chk.D(err) {
		log.D.F("{%s} failed to close superseded subscription %s: %v", cn.URL, oldSubID, err)
	}
	return nil
}

// Write queues an arbitrary wire message (an already-marshaled JSON array)
// to be sent to the relay, returning a channel the caller can wait on for
// the write's outcome.
func (cn *Connection) Write(msg []byte) <-chan error {
	ch := make(chan error, 1)
	select {
	case cn.writeQueue <- writeRequest{msg: msg, answer: ch}:
	case <-cn.done:
		ch <- fmt.Errorf("connection closed")
	}
	return ch
}

// Publish sends an ["EVENT", evt] command, per spec.md §4.7 step 5.
func (cn *Connection) Publish(evt *codec.Event) error {
	msg := []any{"EVENT", evt}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal EVENT: %w", err)
	}
	return <-cn.Write(b)
}

func (cn *Connection) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cn.done:
			return
		case <-ticker.C:
			if err := cn.wire.writePing(); err != nil {
				log.I.F("{%s} ping failed, closing: %v", cn.URL, err)
				cn.Close()
				return
			}
		case wr := <-cn.writeQueue:
			err := cn.wire.write(context.Background(), wr.msg)
			wr.answer <- err
			close(wr.answer)
		}
	}
}

func (cn *Connection) readLoop() {
	for {
		buf := new(bytes.Buffer)
		if err := cn.wire.read(context.Background(), buf); err != nil {
			log.D.F("{%s} read loop ending: %v", cn.URL, err)
			cn.Close()
			return
		}
		cn.dispatch(buf.Bytes())
	}
}

func (cn *Connection) dispatch(raw []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); chk.E(err) || len(frame) < 1 {
		return
	}
	var kind string
	if err := json.Unmarshal(frame[0], &kind); chk.E(err) {
		return
	}
	switch kind {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		evt, err := codec.Unmarshal(frame[2])
		if chk.E(err) {
			return
		}
		if cn.onEvent != nil {
			cn.onEvent(evt)
		}
	case "NOTICE":
		var msg string
		if len(frame) >= 2 {
			_ = json.Unmarshal(frame[1], &msg)
		}
		log.I.F("{%s} NOTICE: %s", cn.URL, msg)
	case "OK":
		log.D.F("{%s} OK: %s", cn.URL, string(raw))
	case "EOSE":
		log.T.F("{%s} EOSE", cn.URL)
	case "CLOSED":
		log.I.F("{%s} CLOSED: %s", cn.URL, string(raw))
	}
}

// Close tears down the connection. Safe to call multiple times.
func (cn *Connection) Close() error {
	if !cn.state.CompareAndSwap(int32(StateOpen), int32(StateClosed)) &&
		!cn.state.CompareAndSwap(int32(StateConnecting), int32(StateClosed)) {
		return nil
	}
	select {
	case <-cn.done:
	default:
		close(cn.done)
	}
	return cn.wire.close()
}
