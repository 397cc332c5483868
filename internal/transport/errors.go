package transport

import (
	"context"
	"errors"
)

// Error kinds shared by every transport implementation and the request
// engine that sits on top of them (spec §7). These are sentinel values so
// callers can match them with errors.Is even after wrapping.
var (
	// ErrNotConnected is returned when an operation is attempted before
	// Connect has succeeded.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrNotReady is returned when connected but board_ready has not yet
	// been observed (serial: no ANNOUNCE seen yet).
	ErrNotReady = errors.New("transport: board not ready")

	// ErrTimeout is returned when no matching response arrives within a
	// request's deadline.
	ErrTimeout = errors.New("transport: request timed out")

	// ErrDisconnected is returned to every pending request when the
	// transport is closed while they are outstanding.
	ErrDisconnected = errors.New("transport: disconnected")

	// ErrIO wraps underlying read/write failures from the serial port or
	// UDP socket.
	ErrIO = errors.New("transport: i/o failure")
)

// ProtocolError reports a block-wise invariant violation: an unexpected
// block index, a missing 2.31 Continue, a missing Block2 option on a
// continuation response, or an SZX that increased mid-transfer. A non-2.xx
// response that ends a transfer is a DeviceError instead.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "transport: protocol error: " + e.Reason }

// DeviceError reports a non-2.xx CoAP response code returned for the final
// block of a transfer (or a single-shot request).
type DeviceError struct {
	Code string
}

func (e *DeviceError) Error() string { return "transport: device error: " + e.Code }

// ReasonForError classifies err into a short, low-cardinality string
// suitable as a Prometheus label value: "ok" for nil, the matching
// sentinel/wrapper name for recognized outcomes, or "error" for anything
// else (a local fault such as id exhaustion or encode failure).
func ReasonForError(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return "protocol_error"
	}
	var derr *DeviceError
	if errors.As(err, &derr) {
		return "device_error"
	}
	return "error"
}
