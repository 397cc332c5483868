// Package transport defines the contract shared by the serial (C4) and UDP
// (C5) transports: connect/disconnect lifecycle, a readiness gate, the five
// CoAP request operations, and an event stream. It owns no wire format
// itself — that lives in internal/mup1 and internal/coap — only the
// lifecycle and concurrency rules every implementation must honor.
package transport

import (
	"context"
	"time"

	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/coap"
)

// DefaultBlockSizeExponent is the SZX that NewRequestOptions sets; callers
// that start from NewRequestOptions get 1024-byte blocks.
const DefaultBlockSizeExponent uint8 = 6

// DefaultRequestTimeout is applied when RequestOptions.Timeout is zero.
const DefaultRequestTimeout = 30 * time.Second

// RequestOptions configures a single CoAP exchange (or block-wise transfer).
type RequestOptions struct {
	// Token fixes the CoAP token for this exchange; a block-wise transfer
	// reuses it for every block. Zero-value (nil) means "allocate a fresh
	// random 2-byte token."
	Token []byte
	// BlockSizeExponent is the starting SZX in [0,6]; larger values are
	// clamped to 6. 0 is a legal SZX (16-byte blocks), so the zero value does
	// not fall back to DefaultBlockSizeExponent. Use NewRequestOptions to get
	// that default applied.
	BlockSizeExponent uint8
	// Timeout bounds a single request/response exchange. Zero means
	// DefaultRequestTimeout.
	Timeout time.Duration
}

// NewRequestOptions returns RequestOptions with every field defaulted per
// spec §4.3.
func NewRequestOptions() RequestOptions {
	return RequestOptions{
		BlockSizeExponent: DefaultBlockSizeExponent,
		Timeout:           DefaultRequestTimeout,
	}
}

// EventKind distinguishes the events a transport emits on its Events channel.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventAnnounce
	EventTrace
	EventResponse
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventAnnounce:
		return "announce"
	case EventTrace:
		return "trace"
	case EventResponse:
		return "response"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single item on a transport's event stream. Only the field
// relevant to Kind is populated.
type Event struct {
	Kind     EventKind
	Response *coap.Message // EventResponse: an unsolicited/unmatched CoAP response
	Trace    []byte        // EventTrace: raw trace text from the device
	Err      error         // EventError
}

// Transport is the uniform contract implemented by the serial and UDP
// transports (spec §4.3). A Transport owns its pending-request table,
// reassembly buffer, and wire handle exclusively; callers never reach
// through it.
type Transport interface {
	// IsConnected reports whether the underlying link is established.
	IsConnected() bool
	// BoardReady reports whether the device has announced readiness
	// (always true for UDP, once ANNOUNCE has been seen for serial).
	BoardReady() bool
	// WaitForReady blocks until BoardReady() becomes true or ctx is done.
	WaitForReady(ctx context.Context) error
	// Disconnect closes the transport, rejecting every pending request with
	// ErrDisconnected and clearing the reassembly buffer.
	Disconnect() error
	// Events returns the transport's event stream. It is closed when the
	// transport is disconnected.
	Events() <-chan Event

	// Fetch issues an iFETCH request (block-wise download follows
	// automatically if the response indicates Block2).
	Fetch(ctx context.Context, query []byte, opts RequestOptions) (*coap.Message, error)
	// Patch issues an iPATCH request (block-wise upload if the payload
	// exceeds one block).
	Patch(ctx context.Context, payload []byte, opts RequestOptions) (*coap.Message, error)
	// Put issues a full-resource-replacement PUT (block-wise upload if
	// needed).
	Put(ctx context.Context, payload []byte, opts RequestOptions) (*coap.Message, error)
	// Post issues an RPC-style POST at the given Uri-Path.
	Post(ctx context.Context, uriPath string, payload []byte, opts RequestOptions) (*coap.Message, error)
	// Get issues a GET (block-wise download follows automatically).
	Get(ctx context.Context, opts RequestOptions) (*coap.Message, error)
}
