package request_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/coap"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/request"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/transport"
	"github.com/stretchr/testify/require"
)

// loopback captures every encoded frame written by the engine so a test can
// decode it, build a response, and dispatch it back.
type loopback struct {
	mu   sync.Mutex
	sent [][]byte
}

func (l *loopback) write(encoded []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, append([]byte(nil), encoded...))
	return nil
}

func (l *loopback) last() *coap.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sent) == 0 {
		return nil
	}
	m, err := coap.Decode(l.sent[len(l.sent)-1])
	if err != nil {
		panic(err)
	}
	return m
}

func TestEngine_SendAndDispatch(t *testing.T) {
	lb := &loopback{}
	e := request.New(nil, "test", lb.write)

	resultCh := make(chan struct {
		msg *coap.Message
		err error
	}, 1)
	go func() {
		msg, err := e.SendRequest(context.Background(), "GET", func(id uint16) (*coap.Message, error) {
			return coap.NewGet(id, nil), nil
		}, time.Second)
		resultCh <- struct {
			msg *coap.Message
			err error
		}{msg, err}
	}()

	require.Eventually(t, func() bool { return lb.last() != nil }, time.Second, time.Millisecond)
	sent := lb.last()

	resp := &coap.Message{Version: 1, Type: coap.TypeAcknowledgement, Code: coap.Code205Content, MessageID: sent.MessageID, Payload: []byte("ok")}
	require.True(t, e.Dispatch(resp))

	res := <-resultCh
	require.NoError(t, res.err)
	require.Equal(t, []byte("ok"), res.msg.Payload)
	require.Equal(t, 0, e.PendingCount())
}

func TestEngine_Timeout(t *testing.T) {
	lb := &loopback{}
	e := request.New(nil, "test", lb.write)

	_, err := e.SendRequest(context.Background(), "GET", func(id uint16) (*coap.Message, error) {
		return coap.NewGet(id, nil), nil
	}, 20*time.Millisecond)
	require.ErrorIs(t, err, transport.ErrTimeout)
	require.Equal(t, 0, e.PendingCount())

	// A subsequent request succeeds normally after a timeout.
	done := make(chan error, 1)
	go func() {
		_, err := e.SendRequest(context.Background(), "GET", func(id uint16) (*coap.Message, error) {
			return coap.NewGet(id, nil), nil
		}, time.Second)
		done <- err
	}()
	require.Eventually(t, func() bool { return lb.last() != nil }, time.Second, time.Millisecond)
	sent := lb.last()
	e.Dispatch(&coap.Message{Version: 1, Type: coap.TypeAcknowledgement, Code: coap.Code205Content, MessageID: sent.MessageID})
	require.NoError(t, <-done)
}

func TestEngine_DuplicateResponseDropped(t *testing.T) {
	lb := &loopback{}
	e := request.New(nil, "test", lb.write)

	done := make(chan *coap.Message, 1)
	go func() {
		msg, _ := e.SendRequest(context.Background(), "GET", func(id uint16) (*coap.Message, error) {
			return coap.NewGet(id, nil), nil
		}, time.Second)
		done <- msg
	}()
	require.Eventually(t, func() bool { return lb.last() != nil }, time.Second, time.Millisecond)
	sent := lb.last()

	resp := &coap.Message{Version: 1, Type: coap.TypeAcknowledgement, Code: coap.Code205Content, MessageID: sent.MessageID}
	require.True(t, e.Dispatch(resp))
	<-done

	// A second, duplicate response for the same (now-completed) id is dropped.
	require.False(t, e.Dispatch(resp))
}

func TestEngine_CloseRejectsAllPending(t *testing.T) {
	lb := &loopback{}
	e := request.New(nil, "test", lb.write)

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := e.SendRequest(context.Background(), "GET", func(id uint16) (*coap.Message, error) {
				return coap.NewGet(id, nil), nil
			}, time.Second)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool {
		lb.mu.Lock()
		defer lb.mu.Unlock()
		return len(lb.sent) == n
	}, time.Second, time.Millisecond)

	e.Close(transport.ErrDisconnected)
	for i := 0; i < n; i++ {
		require.ErrorIs(t, <-errs, transport.ErrDisconnected)
	}
	require.Equal(t, 0, e.PendingCount())

	_, err := e.SendRequest(context.Background(), "GET", func(id uint16) (*coap.Message, error) {
		return coap.NewGet(id, nil), nil
	}, time.Second)
	require.ErrorIs(t, err, transport.ErrDisconnected)
}

func TestEngine_ContextCancelAbandonsWait(t *testing.T) {
	lb := &loopback{}
	e := request.New(nil, "test", lb.write)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.SendRequest(ctx, "GET", func(id uint16) (*coap.Message, error) {
			return coap.NewGet(id, nil), nil
		}, time.Second)
		done <- err
	}()
	require.Eventually(t, func() bool { return lb.last() != nil }, time.Second, time.Millisecond)
	cancel()
	require.True(t, errors.Is(<-done, context.Canceled))
	require.Equal(t, 0, e.PendingCount())
}
