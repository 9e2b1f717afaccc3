// Package app wires the proxy's components together per spec.md §4.10's
// lifecycle: load identity, open the relay pool and its subscription, wait
// for at least one relay to connect, then start the HTTP listener. Shutdown
// runs the same teardown whether triggered by signal or by a watched
// configuration file changing. Shaped after the teacher's
// cmd/lerproxy/app.RunArgs/Run (go-arg flag struct + errgroup-supervised
// listener/shutdown goroutines).
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"orly.dev/noxy/chk"
	"orly.dev/noxy/clock"
	"orly.dev/noxy/codec"
	"orly.dev/noxy/config"
	"orly.dev/noxy/gateway"
	"orly.dev/noxy/identity"
	"orly.dev/noxy/ingress"
	"orly.dev/noxy/log"
	"orly.dev/noxy/pending"
	"orly.dev/noxy/relay"
)

// RunArgs is the full CLI surface of spec.md §6.
type RunArgs struct {
	Port     int    `arg:"-p,--port,required" help:"TCP port to listen"`
	Host     string `arg:"-h,--host" default:"0.0.0.0" help:"bind host"`
	Backlog  int    `arg:"--backlog" default:"511" help:"listen backlog"`
	Exclusive bool  `arg:"--exclusive" help:"exclusive bind"`
	NodeHTTPOptions string `arg:"--nodejs-http-options" default:"{}" help:"opaque HTTP-listener options passed through"`

	Relays      []string `arg:"--relays" help:"initial relays"`
	RelaysFile  string   `arg:"--relays-file" help:"persisted relay list"`
	KeepHost    bool     `arg:"--keep-host" help:"preserve the Host header"`
	NsecFile    string   `arg:"--nsec-file" help:"secret key file (bech32 nsec)"`
	SaveNsec    bool     `arg:"--save-nsec" help:"if absent, generate and save"`
	TimeoutMS   int      `arg:"--timeout" default:"300000" help:"per-request timeout in ms"`
	Destination string   `arg:"--destination" help:"fixed npub or nprofile destination"`
	MaxCachedRelays int  `arg:"--max-cached-relays" default:"10" help:"hint-relay LRU size"`
	ExitOnFileChange bool `arg:"--exit-on-file-change" help:"graceful exit when nsec-file or relays-file is modified"`
	Verbose bool `arg:"-v,--verbose" help:"verbose logging"`
}

// forceExitTimeout is §4.10/§6's shutdown deadline: exit code -1 if the
// server hasn't drained within this long.
const forceExitTimeout = 10 * time.Second

// Run executes the full lifecycle: startup ordering, serving, and graceful
// shutdown, returning a non-zero-worthy error on any startup failure.
func Run(ctx context.Context, args RunArgs) (err error) {
	if args.Verbose {
		log.SetLogLevel("debug")
	}

	id, err := identity.Load(args.NsecFile, args.SaveNsec)
	if chk.E(err) {
		return fmt.Errorf("startup: %w", err)
	}
	proxyPubHex := id.PublicKeyHex()
	log.I.F("identity loaded, pubkey=%s", proxyPubHex)

	initialRelays, err := config.ResolveRelays(args.RelaysFile, splitRelayArgs(args.Relays))
	if chk.E(err) {
		return fmt.Errorf("startup: %w", err)
	}

	destinationPubkey, err := resolveFixedDestination(args.Destination)
	if chk.E(err) {
		return fmt.Errorf("startup: %w", err)
	}

	table := pending.NewTable()
	in := ingress.New(id.Signer, table)

	since := time.Now().Add(-48 * time.Hour).Unix()
	filter := map[string]any{
		"since": since,
		"kinds": []int{codec.KindGiftWrap},
		"#p":    []string{proxyPubHex},
	}
	pool := relay.NewPool(ctx, initialRelays, args.MaxCachedRelays, filter, in.Handle)

	if !waitForConnection(pool, initialRelays) {
		pool.Close()
		return fmt.Errorf("startup: no initial relay reached Open")
	}

	cl := clock.New(in, pool, proxyPubHex)
	clockCtx, stopClock := context.WithCancel(ctx)
	go cl.Run(clockCtx)
	go MonitorResources(ctx)

	gw := &gateway.Gateway{
		Identity:         id.Signer,
		Pool:             pool,
		Table:            table,
		Filter:           filter,
		InitialRelays:    initialRelays,
		KeepHost:         args.KeepHost,
		Timeout:          time.Duration(args.TimeoutMS) * time.Millisecond,
		FixedDestination: destinationPubkey,
	}

	var watcher *config.Watcher
	if args.ExitOnFileChange {
		if watcher, err = config.NewWatcher(args.NsecFile, args.RelaysFile); chk.E(err) {
			log.W.F("failed to start file watcher: %v", err)
			watcher = nil
		}
	}

	// Only maxHeaderBytes and keepAliveTimeoutMs are honoured; other keys
	// are ignored.
	var httpOpts struct {
		MaxHeaderBytes     int `json:"maxHeaderBytes"`
		KeepAliveTimeoutMs int `json:"keepAliveTimeoutMs"`
	}
	if err = json.Unmarshal([]byte(args.NodeHTTPOptions), &httpOpts); chk.E(err) {
		return fmt.Errorf("startup: parse --nodejs-http-options: %w", err)
	}
	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", args.Host, args.Port),
		Handler:        gw,
		MaxHeaderBytes: httpOpts.MaxHeaderBytes,
		IdleTimeout:    time.Duration(httpOpts.KeepAliveTimeoutMs) * time.Millisecond,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		ln, lerr := net.Listen("tcp", srv.Addr)
		if lerr != nil {
			return fmt.Errorf("bind %s: %w", srv.Addr, lerr)
		}
		log.I.F("listening on %s", srv.Addr)
		lerr = srv.Serve(ln)
		if lerr != nil && lerr != http.ErrServerClosed {
			return lerr
		}
		return nil
	})

	group.Go(func() error {
		select {
		case <-gctx.Done():
		case <-watcherChanged(watcher):
			log.I.Ln("watched configuration file changed, shutting down")
		}
		return shutdown(srv, pool, stopClock, watcher)
	})

	return group.Wait()
}

// splitRelayArgs expands each --relays element on whitespace, per spec.md
// §6's CLI description of --relays accepting whitespace-separated relay
// URLs per element (so both `--relays a b` and `--relays "a b"` work).
func splitRelayArgs(relays []string) []string {
	var out []string
	for _, r := range relays {
		out = append(out, strings.Fields(r)...)
	}
	return out
}

// resolveFixedDestination decodes args.Destination (npub or nprofile) into
// raw pubkey bytes, per §4.8 step 3's fixed-destination case.
func resolveFixedDestination(dest string) ([]byte, error) {
	if dest == "" {
		return nil, nil
	}
	return identity.DecodePublicKey(dest)
}

// waitForConnection implements §4.10's "sleep 1s and sample; if none
// connected, sleep 5s and sample again" startup check.
func waitForConnection(pool *relay.Pool, initialRelays []string) bool {
	if len(initialRelays) == 0 {
		return true
	}
	time.Sleep(1 * time.Second)
	if pool.AnyOpen() {
		return true
	}
	time.Sleep(5 * time.Second)
	return pool.AnyOpen()
}

func watcherChanged(w *config.Watcher) <-chan string {
	if w == nil {
		return nil
	}
	return w.Changed
}

// shutdown implements §4.10's teardown: arm the force-exit timer, close the
// pool and watcher, stop the clock, and close the HTTP listener.
func shutdown(srv *http.Server, pool *relay.Pool, stopClock context.CancelFunc, watcher *config.Watcher) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		stopClock()
		if err := pool.Close(); chk.D(err) {
			log.D.F("error closing relay pool: %v", err)
		}
		if watcher != nil {
			if err := watcher.Close(); chk.D(err) {
				log.D.F("error closing file watcher: %v", err)
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); chk.D(err) {
			log.D.F("error shutting down http server: %v", err)
		}
	}()
	select {
	case <-done:
		return nil
	case <-time.After(forceExitTimeout):
		log.E.Ln("shutdown did not drain within 10s, forcing exit")
		os.Exit(-1)
		return nil // unreachable
	}
}
