// Package serial implements the UART transport (C4): it opens a POSIX
// serial device, speaks the MUP1 ping/ANNOUNCE handshake, and runs a
// read-loop goroutine that reassembles inbound frames and dispatches them
// to the request engine or the event stream. The read-loop structure —
// a deadline-bounded read wrapped in connection-state checks, with
// rate-limited warnings and fatal-vs-transient error classification — is
// grounded on this codebase's liveness receiver loop.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	goserial "go.bug.st/serial"

	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/blockwise"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/coap"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/metrics"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/mup1"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/request"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/transport"
)

// DefaultBaudRate is used when Config.BaudRate is left zero.
const DefaultBaudRate = 115200

// readPollInterval bounds a single port.Read() so the read loop can notice
// a closed port promptly.
const readPollInterval = 200 * time.Millisecond

// readErrWarnEvery throttles repeated read-error log lines.
const readErrWarnEvery = 5 * time.Second

// Config configures Connect.
type Config struct {
	Device   string
	BaudRate int
	Log      *slog.Logger
}

// Transport is the serial (C4) implementation of transport.Transport.
type Transport struct {
	log  *slog.Logger
	port goserial.Port

	engine *request.Engine
	reasm  *mup1.Reassembler

	connected  atomic.Bool
	boardReady atomic.Bool
	readyCh    chan struct{}
	readyOnce  sync.Once

	events  chan transport.Event
	closeMu sync.Mutex
	closed  bool

	loopDone chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// Connect opens the serial device at cfg.BaudRate (default 115200, 8N1),
// starts the read loop, and emits a MUP1 ping to trigger the device's
// ANNOUNCE (spec §4.4).
func Connect(cfg Config) (*Transport, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	baud := cfg.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}

	port, err := goserial.Open(cfg.Device, &goserial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	if err := port.SetReadTimeout(readPollInterval); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("serial: set read timeout: %w", err)
	}

	t := &Transport{
		log:      log,
		port:     port,
		reasm:    mup1.NewReassembler("serial"),
		events:   make(chan transport.Event, 32),
		readyCh:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	t.engine = request.New(log, "serial", t.writeFrame)
	t.connected.Store(true)

	go t.readLoop()

	if _, err := t.port.Write(mup1.Build(mup1.TypePing, nil)); err != nil {
		_ = t.Disconnect()
		return nil, fmt.Errorf("serial: write ping: %w", err)
	}
	metrics.FramesTX.WithLabelValues("serial", string(mup1.TypePing)).Inc()

	t.emit(transport.Event{Kind: transport.EventConnected})
	return t, nil
}

func (t *Transport) writeFrame(encoded []byte) error {
	frame := mup1.Build(mup1.TypeCoAPRequest, encoded)
	if _, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrIO, err)
	}
	metrics.FramesTX.WithLabelValues("serial", string(mup1.TypeCoAPRequest)).Inc()
	return nil
}

// IsConnected reports whether the port is open.
func (t *Transport) IsConnected() bool { return t.connected.Load() }

// BoardReady reports whether an ANNOUNCE frame has been observed.
func (t *Transport) BoardReady() bool { return t.boardReady.Load() }

// WaitForReady blocks until BoardReady() becomes true or ctx is done.
func (t *Transport) WaitForReady(ctx context.Context) error {
	if t.BoardReady() {
		return nil
	}
	select {
	case <-t.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the transport's event stream.
func (t *Transport) Events() <-chan transport.Event { return t.events }

func (t *Transport) emit(ev transport.Event) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn("serial: event channel full, dropping event", "kind", ev.Kind.String())
	}
}

// Disconnect closes the port, rejects all pending requests with
// ErrDisconnected, and clears the reassembly buffer (spec §4.4 close).
func (t *Transport) Disconnect() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()

	t.connected.Store(false)
	err := t.port.Close()
	<-t.loopDone

	t.engine.Close(transport.ErrDisconnected)
	t.reasm.Reset()
	t.emit(transport.Event{Kind: transport.EventDisconnected})
	close(t.events)
	return err
}

// readLoop continuously reads bytes from the port, feeds them to the MUP1
// reassembler, and dispatches completed frames by type.
func (t *Transport) readLoop() {
	defer close(t.loopDone)

	buf := make([]byte, 4096)
	var lastWarn time.Time

	for {
		if !t.connected.Load() {
			return
		}

		n, err := t.port.Read(buf)
		if err != nil {
			if !t.connected.Load() || errors.Is(err, io.EOF) {
				return
			}
			now := time.Now()
			if now.Sub(lastWarn) >= readErrWarnEvery {
				lastWarn = now
				t.log.Warn("serial: read error", "error", err)
			}
			if isFatalErr(err) {
				t.emit(transport.Event{Kind: transport.EventError, Err: fmt.Errorf("%w: %v", transport.ErrIO, err)})
				t.connected.Store(false)
				return
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
	metrics.FramesRX.WithLabelValues("serial", string(f.Type)).Inc()

	switch f.Type {
	case mup1.TypeCoAPResponse, mup1.TypeCoAPRequest:
		msg, err := coap.Decode(f.Payload)
		if err != nil {
			metrics.CoAPDecodeErrors.WithLabelValues("serial").Inc()
			t.log.Error("serial: failed to decode CoAP payload", "error", err)
			return
		}
		if !t.engine.Dispatch(msg) {
			t.emit(transport.Event{Kind: transport.EventResponse, Response: msg})
		}
	case mup1.TypeAnnounce:
		t.boardReady.Store(true)
		t.readyOnce.Do(func() { close(t.readyCh) })
		t.emit(transport.Event{Kind: transport.EventAnnounce})
	case mup1.TypeTrace:
		t.emit(transport.Event{Kind: transport.EventTrace, Trace: f.Payload})
	default:
		t.log.Debug("serial: frame of unrecognized type", "type", string(f.Type))
	}
}

func isFatalErr(err error) bool {
	var pe *goserial.PortError
	if errors.As(err, &pe) {
		switch pe.Code() {
		case goserial.PortClosed, goserial.PortNotFound, goserial.InvalidSerialPort:
			return true
		}
	}
	return false
}

func (t *Transport) precondition() error {
	if !t.IsConnected() {
		return transport.ErrNotConnected
	}
	if !t.BoardReady() {
		return transport.ErrNotReady
	}
	return nil
}

// Fetch issues an iFETCH request, following Block2 continuations automatically.
func (t *Transport) Fetch(ctx context.Context, query []byte, opts transport.RequestOptions) (*coap.Message, error) {
	if err := t.precondition(); err != nil {
		return nil, err
	}
	return blockwise.Download(ctx, t.engine, "serial", blockwise.DownloadFetch, query, opts.Token, opts.BlockSizeExponent, opts.Timeout)
}

// Patch issues an iPATCH request, splitting into Block1 uploads as needed.
func (t *Transport) Patch(ctx context.Context, payload []byte, opts transport.RequestOptions) (*coap.Message, error) {
	if err := t.precondition(); err != nil {
		return nil, err
	}
	return blockwise.Upload(ctx, t.engine, "serial", blockwise.UploadIPatch, payload, opts.Token, opts.BlockSizeExponent, opts.Timeout)
}

// Put issues a full-resource-replacement PUT, splitting into Block1 uploads as needed.
func (t *Transport) Put(ctx context.Context, payload []byte, opts transport.RequestOptions) (*coap.Message, error) {
	if err := t.precondition(); err != nil {
		return nil, err
	}
	return blockwise.Upload(ctx, t.engine, "serial", blockwise.UploadPut, payload, opts.Token, opts.BlockSizeExponent, opts.Timeout)
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
	return blockwise.Download(ctx, t.engine, "serial", blockwise.DownloadGet, nil, opts.Token, opts.BlockSizeExponent, opts.Timeout)
}
