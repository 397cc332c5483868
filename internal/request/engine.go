// Package request implements the message-id indexed pending-request table
// shared by the serial and UDP transports (spec §4.6, C6): it turns a
// single CoAP exchange into a write plus an awaited completion, handling
// fresh message-id allocation, per-request timeouts, and transport-close
// cancellation.
package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/coap"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/metrics"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/transport"
)

// maxIDAllocAttempts bounds the retry loop when a freshly drawn message id
// collides with one already outstanding (spec §9).
const maxIDAllocAttempts = 8

// ErrIDExhausted is returned when maxIDAllocAttempts consecutive draws all
// collided with outstanding message ids.
var ErrIDExhausted = errors.New("request: could not allocate a free message id")

// WriteFunc hands an encoded CoAP message to the underlying transport,
// which is responsible for wrapping it in a MUP1 frame and writing it to
// the wire. It must not block past what the caller's context allows.
type WriteFunc func(encoded []byte) error

type result struct {
	msg *coap.Message
	err error
}

type pendingRequest struct {
	resultCh chan result
	timer    *time.Timer
}

// Engine owns the table of in-flight requests for a single transport
// instance and correlates inbound CoAP responses to them by message id.
// It does not know about board readiness or connection state; callers
// (the serial/UDP transports) enforce the "connected ∧ board_ready"
// precondition before calling SendRequest.
type Engine struct {
	log       *slog.Logger
	transport string
	write     WriteFunc

	mu       sync.Mutex
	pending  map[uint16]*pendingRequest
	closed   bool
	closeErr error
}

// New returns an Engine that writes outbound frames via write. transportLabel
// identifies the owning transport ("serial", "udp") for the
// keti_tsn_requests_total/keti_tsn_request_duration_seconds metric labels.
func New(log *slog.Logger, transportLabel string, write WriteFunc) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:       log,
		transport: transportLabel,
		write:     write,
		pending:   make(map[uint16]*pendingRequest),
	}
}

// SendRequest allocates a fresh message id (it overwrites any MessageID
// that build sets), registers a pending entry, hands the built message's
// encoding to write, and blocks until a matching response is dispatched,
// the timeout elapses, ctx is canceled, or the engine is closed. A timeout
// of zero or less means transport.DefaultRequestTimeout.
//
// build receives the allocated message id and returns the message to send;
// it is called with the engine's lock held, so it must not call back into
// the Engine.
//
// method labels the keti_tsn_requests_total/keti_tsn_request_duration_seconds
// metrics ("GET", "FETCH", "PUT", "IPATCH", "POST"); the observed outcome
// reason is derived from the returned error via transport.ReasonForError.
func (e *Engine) SendRequest(ctx context.Context, method string, build func(msgID uint16) (*coap.Message, error), timeout time.Duration) (*coap.Message, error) {
	start := time.Now()
	if timeout <= 0 {
		timeout = transport.DefaultRequestTimeout
	}

	e.mu.Lock()
	if e.closed {
		err := e.closeErr
		e.mu.Unlock()
		metrics.ObserveRequest(e.transport, method, transport.ReasonForError(err), time.Since(start))
		return nil, err
	}

	id, err := e.allocateIDLocked()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	msg, err := build(id)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	msg.MessageID = id

	encoded, err := msg.Encode()
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("request: encode: %w", err)
	}

	resultCh := make(chan result, 1)
	pr := &pendingRequest{resultCh: resultCh}
	pr.timer = time.AfterFunc(timeout, func() { e.timeoutPending(id) })
	e.pending[id] = pr
	e.mu.Unlock()

	if err := e.write(encoded); err != nil {
		e.cancelPending(id, pr)
		return nil, fmt.Errorf("%w: %v", transport.ErrIO, err)
	}

	select {
	case res := <-resultCh:
		metrics.ObserveRequest(e.transport, method, transport.ReasonForError(res.err), time.Since(start))
		return res.msg, res.err
	case <-ctx.Done():
		e.cancelPending(id, pr)
		err := ctx.Err()
		metrics.ObserveRequest(e.transport, method, transport.ReasonForError(err), time.Since(start))
		return nil, err
	}
}

// allocateIDLocked draws a random u16 not already present in the pending
// table, retrying a bounded number of times on collision. Callers must
// already hold e.mu.
func (e *Engine) allocateIDLocked() (uint16, error) {
	for i := 0; i < maxIDAllocAttempts; i++ {
		id := uint16(rand.N(65536))
		if _, exists := e.pending[id]; !exists {
			return id, nil
		}
	}
	return 0, ErrIDExhausted
}

// cancelPending removes id from the pending table (if pr is still the
// entry registered for it) and stops its timer, without signaling the
// result channel — used when the caller is abandoning the wait itself.
func (e *Engine) cancelPending(id uint16, pr *pendingRequest) {
	e.mu.Lock()
	if e.pending[id] == pr {
		delete(e.pending, id)
	}
	e.mu.Unlock()
	pr.timer.Stop()
}

// timeoutPending fires when a pending request's deadline elapses. It
// removes the entry (if still present — a response may have raced it) and
// resolves the waiter with ErrTimeout.
func (e *Engine) timeoutPending(id uint16) {
	e.mu.Lock()
	pr, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	pr.resultCh <- result{err: transport.ErrTimeout}
}

// Dispatch matches an inbound CoAP message against the pending table by its
// message id. It returns true if a pending request was resolved. A
// duplicate inbound response for an id no longer pending (already resolved,
// timed out, or canceled) is dropped and Dispatch returns false — this is
// the "at-most-once completion" guarantee from spec §4.6.
func (e *Engine) Dispatch(msg *coap.Message) bool {
	e.mu.Lock()
	pr, ok := e.pending[msg.MessageID]
	if ok {
		delete(e.pending, msg.MessageID)
	}
	e.mu.Unlock()
	if !ok {
		e.log.Debug("request: dropped unmatched or duplicate response", "message_id", msg.MessageID)
		return false
	}
	pr.timer.Stop()
	pr.resultCh <- result{msg: msg}
	return true
}

// Close rejects every pending request with err and marks the engine closed;
// subsequent SendRequest calls fail immediately with err. It is idempotent.
func (e *Engine) Close(err error) {
	if err == nil {
		err = transport.ErrDisconnected
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.closeErr = err
	pending := e.pending
	e.pending = make(map[uint16]*pendingRequest)
	e.mu.Unlock()

	for _, pr := range pending {
		pr.timer.Stop()
		pr.resultCh <- result{err: err}
	}
}

// PendingCount returns the number of currently outstanding requests. It
// exists for tests that assert the table drains after timeout/response.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
