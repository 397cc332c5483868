// Package udp implements the UDP transport (C5): a datagram socket bound
// to an ephemeral local port and talking to a bridging proxy that manages
// the actual device handshake, so connect marks connected and board_ready
// true immediately. The read-loop structure reuses the same
// deadline-bounded-read pattern as the serial transport, grounded on this
// codebase's liveness receiver loop.
package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/blockwise"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/coap"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/metrics"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/mup1"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/request"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/transport"
)

// DefaultPort is the bridging proxy's default CoAP port (spec §4.5).
const DefaultPort = 5683

const readPollInterval = 200 * time.Millisecond
const readErrWarnEvery = 5 * time.Second

// Config configures Connect.
type Config struct {
	Host string
	Port int
	Log  *slog.Logger
}

// Transport is the UDP (C5) implementation of transport.Transport.
type Transport struct {
	log  *slog.Logger
	conn *net.UDPConn
	peer *net.UDPAddr

	engine *request.Engine
	reasm  *mup1.Reassembler

	connected atomic.Bool
	events    chan transport.Event

	closeMu  sync.Mutex
	closed   bool
	loopDone chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// Connect opens a UDP socket bound to an ephemeral local port and marks the
// transport connected and board_ready immediately (spec §4.5).
func Connect(cfg Config) (*Transport, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}

	peer, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Host, port))
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s:%d: %w", cfg.Host, port, err)
	}
	conn, err := net.DialUDP("udp", nil, peer)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %s:%d: %w", cfg.Host, port, err)
	}

	t := &Transport{
		log:      log,
		conn:     conn,
		peer:     peer,
		reasm:    mup1.NewReassembler("udp"),
		events:   make(chan transport.Event, 32),
		loopDone: make(chan struct{}),
	}
	t.engine = request.New(log, "udp", t.writeFrame)
	t.connected.Store(true)

	go t.readLoop()

	t.emit(transport.Event{Kind: transport.EventConnected})
	return t, nil
}

func (t *Transport) writeFrame(encoded []byte) error {
	frame := mup1.Build(mup1.TypeCoAPRequest, encoded)
	if _, err := t.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrIO, err)
	}
	metrics.FramesTX.WithLabelValues("udp", string(mup1.TypeCoAPRequest)).Inc()
	return nil
}

// IsConnected reports whether the socket is open.
func (t *Transport) IsConnected() bool { return t.connected.Load() }

// BoardReady is always true for UDP once connected (spec §4.5).
func (t *Transport) BoardReady() bool { return t.connected.Load() }

// WaitForReady returns immediately: UDP has no handshake to wait for.
func (t *Transport) WaitForReady(ctx context.Context) error {
	if t.BoardReady() {
		return nil
	}
	return ctx.Err()
}

// Events returns the transport's event stream.
func (t *Transport) Events() <-chan transport.Event { return t.events }

func (t *Transport) emit(ev transport.Event) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn("udp: event channel full, dropping event", "kind", ev.Kind.String())
	}
}

// Disconnect closes the socket and rejects all pending requests.
func (t *Transport) Disconnect() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()

	t.connected.Store(false)
	err := t.conn.Close()
	<-t.loopDone

	t.engine.Close(transport.ErrDisconnected)
	t.reasm.Reset()
	t.emit(transport.Event{Kind: transport.EventDisconnected})
	close(t.events)
	return err
}

// readLoop reads datagrams and feeds each one through the (defensive) MUP1
// reassembler, since datagrams should not straddle frame boundaries but the
// same reconstruction path is reused regardless (spec §4.5).
func (t *Transport) readLoop() {
	defer close(t.loopDone)

	buf := make([]byte, 65535)
	var lastWarn time.Time

	for {
		if !t.connected.Load() {
			return
		}
		if err := t.conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			if !t.connected.Load() {
				return
			}
			continue
		}

		n, err := t.conn.Read(buf)
		if err != nil {
			if !t.connected.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			now := time.Now()
			if now.Sub(lastWarn) >= readErrWarnEvery {
				lastWarn = now
				t.log.Warn("udp: read error", "error", err)
			}
			continue
		}
		if n == 0 {
			continue
		}

		for _, f := range t.reasm.Feed(buf[:n]) {
			t.dispatchFrame(f)
		}
	}
}

func (t *Transport) dispatchFrame(f mup1.Frame) {
	metrics.FramesRX.WithLabelValues("udp", string(f.Type)).Inc()

	switch f.Type {
	case mup1.TypeCoAPResponse, mup1.TypeCoAPRequest:
		msg, err := coap.Decode(f.Payload)
		if err != nil {
			metrics.CoAPDecodeErrors.WithLabelValues("udp").Inc()
			t.log.Error("udp: failed to decode CoAP payload", "error", err)
			return
		}
		if !t.engine.Dispatch(msg) {
			t.emit(transport.Event{Kind: transport.EventResponse, Response: msg})
		}
	case mup1.TypeAnnounce:
		t.emit(transport.Event{Kind: transport.EventAnnounce})
	case mup1.TypeTrace:
		t.emit(transport.Event{Kind: transport.EventTrace, Trace: f.Payload})
	default:
		t.log.Debug("udp: frame of unrecognized type", "type", string(f.Type))
	}
}

func (t *Transport) precondition() error {
	if !t.IsConnected() {
		return transport.ErrNotConnected
	}
	return nil
}

// Fetch issues an iFETCH request, following Block2 continuations automatically.
func (t *Transport) Fetch(ctx context.Context, query []byte, opts transport.RequestOptions) (*coap.Message, error) {
	if err := t.precondition(); err != nil {
		return nil, err
	}
	return blockwise.Download(ctx, t.engine, "udp", blockwise.DownloadFetch, query, opts.Token, opts.BlockSizeExponent, opts.Timeout)
}

// Patch issues an iPATCH request, splitting into Block1 uploads as needed.
func (t *Transport) Patch(ctx context.Context, payload []byte, opts transport.RequestOptions) (*coap.Message, error) {
	if err := t.precondition(); err != nil {
		return nil, err
	}
	return blockwise.Upload(ctx, t.engine, "udp", blockwise.UploadIPatch, payload, opts.Token, opts.BlockSizeExponent, opts.Timeout)
}

// Put issues a full-resource-replacement PUT, splitting into Block1 uploads as needed.
func (t *Transport) Put(ctx context.Context, payload []byte, opts transport.RequestOptions) (*coap.Message, error) {
	if err := t.precondition(); err != nil {
		return nil, err
	}
	return blockwise.Upload(ctx, t.engine, "udp", blockwise.UploadPut, payload, opts.Token, opts.BlockSizeExponent, opts.Timeout)
}

// Post issues a single RPC-style POST; it is not block-wise.
func (t *Transport) Post(ctx context.Context, uriPath string, payload []byte, opts transport.RequestOptions) (*coap.Message, error) {
	if err := t.precondition(); err != nil {
		return nil, err
	}
	return t.engine.SendRequest(ctx, "POST", func(id uint16) (*coap.Message, error) {
		return coap.NewPost(id, opts.Token, uriPath, payload), nil
	}, opts.Timeout)
}

// Get issues a GET, following Block2 continuations automatically.
func (t *Transport) Get(ctx context.Context, opts transport.RequestOptions) (*coap.Message, error) {
	if err := t.precondition(); err != nil {
		return nil, err
	}
	return blockwise.Download(ctx, t.engine, "udp", blockwise.DownloadGet, nil, opts.Token, opts.BlockSizeExponent, opts.Timeout)
}
