// Package relay implements the WebSocket connection to a single relay and
// the bounded pool of relays the proxy publishes to and subscribes on.
// Adapted from the teacher's pkg/protocol/ws package: the same
// gobwas/ws + wsutil + wsflate client-side framing, the same
// write-queue-goroutine-plus-ping-ticker shape, generalized from the
// teacher's typed nostr envelopes to the raw JSON arrays this system's
// ingress/egress packages read and build directly.
package relay

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"

	"orly.dev/noxy/chk"
	"orly.dev/noxy/log"
)

// wireConn is an outbound client -> relay WebSocket, framing-only: it knows
// nothing about message contents.
type wireConn struct {
	conn              net.Conn
	enableCompression bool
	controlHandler    wsutil.FrameHandlerFunc
	flateReader       *wsflate.Reader
	reader            *wsutil.Reader
	flateWriter       *wsflate.Writer
	writer            *wsutil.Writer
	msgStateR         *wsflate.MessageState
	msgStateW         *wsflate.MessageState
}

// dialWire opens a WebSocket to url, negotiating permessage-deflate if the
// relay supports it.
func dialWire(
	ctx context.Context, url string, header http.Header, tlsConfig *tls.Config,
) (wc *wireConn, err error) {
	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(header),
		Extensions: []httphead.Option{
			wsflate.DefaultParameters.Option(),
		},
		TLSConfig: tlsConfig,
	}
	conn, _, hs, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	enableCompression := false
	state := ws.StateClientSide
	for _, ext := range hs.Extensions {
		if string(ext.Name) == wsflate.ExtensionName {
			enableCompression = true
			state |= ws.StateExtended
			break
		}
	}
	var flateReader *wsflate.Reader
	var msgStateR wsflate.MessageState
	if enableCompression {
		msgStateR.SetCompressed(true)
		flateReader = wsflate.NewReader(
			nil, func(r io.Reader) wsflate.Decompressor {
				return flate.NewReader(r)
			},
		)
	}
	controlHandler := wsutil.ControlFrameHandler(conn, ws.StateClientSide)
	reader := &wsutil.Reader{
		Source:         conn,
		State:          state,
		OnIntermediate: controlHandler,
		CheckUTF8:      false,
		Extensions:     []wsutil.RecvExtension{&msgStateR},
	}
	var flateWriter *wsflate.Writer
	var msgStateW wsflate.MessageState
	if enableCompression {
		msgStateW.SetCompressed(true)
		flateWriter = wsflate.NewWriter(
			nil, func(w io.Writer) wsflate.Compressor {
				fw, ferr := flate.NewWriter(w, 4)
				if ferr != nil {
					log.E.F("failed to create flate writer: %v", ferr)
				}
				return fw
			},
		)
	}
	writer := wsutil.NewWriter(conn, state, ws.OpText)
	writer.SetExtensions(&msgStateW)
	return &wireConn{
		conn:              conn,
		enableCompression: enableCompression,
		controlHandler:    controlHandler,
		flateReader:       flateReader,
		reader:            reader,
		msgStateR:         &msgStateR,
		flateWriter:       flateWriter,
		writer:            writer,
		msgStateW:         &msgStateW,
	}, nil
}

// write sends one text message, suspending only on the underlying socket
// write (spec.md §5's enumerated WS-frame-send suspension point).
func (wc *wireConn) write(ctx context.Context, data []byte) (err error) {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if wc.msgStateW.IsCompressed() && wc.enableCompression {
		wc.flateWriter.Reset(wc.writer)
		if _, err = io.Copy(wc.flateWriter, bytes.NewReader(data)); chk.E(err) {
			return fmt.Errorf("%s write message: %w", wc.conn.RemoteAddr(), err)
		}
		if err = wc.flateWriter.Close(); chk.E(err) {
			return fmt.Errorf("%s close flate writer: %w", wc.conn.RemoteAddr(), err)
		}
	} else {
		if _, err = io.Copy(wc.writer, bytes.NewReader(data)); chk.E(err) {
			return fmt.Errorf("%s write message: %w", wc.conn.RemoteAddr(), err)
		}
	}
	if err = wc.writer.Flush(); chk.E(err) {
		return fmt.Errorf("%s flush writer: %w", wc.conn.RemoteAddr(), err)
	}
	return nil
}

// writePing sends a control ping frame.
func (wc *wireConn) writePing() error {
	return wsutil.WriteClientMessage(wc.conn, ws.OpPing, nil)
}

// read blocks until the next data frame arrives, discarding any control
// frames and non-data frames in between (spec.md §5's "subscription event
// wait" suspension point).
func (wc *wireConn) read(ctx context.Context, buf *bytes.Buffer) (err error) {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		h, herr := wc.reader.NextFrame()
		if herr != nil {
			wc.conn.Close()
			return fmt.Errorf("%s advance frame: %w", wc.conn.RemoteAddr(), herr)
		}
		if h.OpCode.IsControl() {
			if err = wc.controlHandler(h, wc.reader); chk.E(err) {
				return fmt.Errorf("%s handle control frame: %w", wc.conn.RemoteAddr(), err)
			}
			continue
		}
		if h.OpCode == ws.OpBinary || h.OpCode == ws.OpText {
			break
		}
		if err = wc.reader.Discard(); chk.E(err) {
			return fmt.Errorf("%s discard frame: %w", wc.conn.RemoteAddr(), err)
		}
	}
	if wc.msgStateR.IsCompressed() && wc.enableCompression {
		wc.flateReader.Reset(wc.reader)
		if _, err = io.Copy(buf, wc.flateReader); chk.E(err) {
			return fmt.Errorf("%s read message: %w", wc.conn.RemoteAddr(), err)
		}
	} else {
		if _, err = io.Copy(buf, wc.reader); chk.E(err) {
			return fmt.Errorf("%s read message: %w", wc.conn.RemoteAddr(), err)
		}
	}
	return nil
}

func (wc *wireConn) close() error { return wc.conn.Close() }
