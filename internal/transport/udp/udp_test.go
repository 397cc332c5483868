package udp_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/coap"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/mup1"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/transport"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/transport/udp"
	"github.com/stretchr/testify/require"
)

// fakeDevice is a minimal UDP peer that decodes MUP1-wrapped CoAP requests
// and replies with a caller-supplied responder, standing in for the
// bridging proxy the real device sits behind.
func fakeDevice(t *testing.T, conn *net.UDPConn, respond func(req *coap.Message) *coap.Message) {
	t.Helper()
	buf := make([]byte, 65535)
	reasm := mup1.NewReassembler("test")
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		for _, f := range reasm.Feed(buf[:n]) {
			if f.Type != mup1.TypeCoAPRequest {
				continue
			}
			req, err := coap.Decode(f.Payload)
			require.NoError(t, err)
			resp := respond(req)
			encoded, err := resp.Encode()
			require.NoError(t, err)
			_, _ = conn.WriteToUDP(mup1.Build(mup1.TypeCoAPResponse, encoded), raddr)
		}
	}
}

func TestUDPTransport_ConnectAndGet(t *testing.T) {
	srv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer srv.Close()

	go fakeDevice(t, srv, func(req *coap.Message) *coap.Message {
		return &coap.Message{
			Version:   1,
			Type:      coap.TypeAcknowledgement,
			Code:      coap.Code205Content,
			MessageID: req.MessageID,
			Token:     req.Token,
			Payload:   []byte("assembled-config"),
		}
	})

	addr := srv.LocalAddr().(*net.UDPAddr)
	tr, err := udp.Connect(udp.Config{Host: "127.0.0.1", Port: addr.Port})
	require.NoError(t, err)
	defer tr.Disconnect()

	require.True(t, tr.IsConnected())
	require.True(t, tr.BoardReady())
	require.NoError(t, tr.WaitForReady(context.Background()))

	resp, err := tr.Get(context.Background(), transport.NewRequestOptions())
	require.NoError(t, err)
	require.Equal(t, []byte("assembled-config"), resp.Payload)
}

func TestUDPTransport_TimeoutWhenDeviceSilent(t *testing.T) {
	srv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer srv.Close()

	addr := srv.LocalAddr().(*net.UDPAddr)
	tr, err := udp.Connect(udp.Config{Host: "127.0.0.1", Port: addr.Port})
	require.NoError(t, err)
	defer tr.Disconnect()

	opts := transport.NewRequestOptions()
	opts.Timeout = 50 * time.Millisecond
	_, err = tr.Get(context.Background(), opts)
	require.ErrorIs(t, err, transport.ErrTimeout)
}

func TestUDPTransport_DisconnectRejectsPending(t *testing.T) {
	srv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer srv.Close()

	addr := srv.LocalAddr().(*net.UDPAddr)
	tr, err := udp.Connect(udp.Config{Host: "127.0.0.1", Port: addr.Port})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		opts := transport.NewRequestOptions()
		opts.Timeout = 5 * time.Second
		_, err := tr.Get(context.Background(), opts)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.Disconnect())
	require.ErrorIs(t, <-errCh, transport.ErrDisconnected)
}
