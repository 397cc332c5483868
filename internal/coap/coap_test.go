package coap_test

import (
	"testing"

	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/coap"
	"github.com/stretchr/testify/require"
)

func TestMessage_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  coap.Message
	}{
		{"no options no payload", coap.Message{Version: 1, Type: coap.TypeConfirmable, Code: coap.CodeGET, MessageID: 1}},
		{"token and payload", coap.Message{
			Version: 1, Type: coap.TypeConfirmable, Code: coap.CodeIPATCH, MessageID: 0xBEEF,
			Token:   []byte{0xAA, 0xBB},
			Options: []coap.Option{{Number: coap.OptionURIPath, Value: []byte("c")}},
			Payload: []byte{0x01, 0x02, 0x03},
		}},
		{"max token", coap.Message{
			Version: 1, Type: coap.TypeAcknowledgement, Code: coap.Code204Changed, MessageID: 7,
			Token: []byte{1, 2, 3, 4, 5, 6, 7, 8},
		}},
		{"many options", coap.Message{
			Version: 1, Type: coap.TypeConfirmable, Code: coap.CodeFETCH, MessageID: 42,
			Options: manyOptions(16),
			Payload: make([]byte, 2048),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := tc.msg.Encode()
			require.NoError(t, err)
			dec, err := coap.Decode(enc)
			require.NoError(t, err)
			require.Equal(t, tc.msg.Version, dec.Version)
			require.Equal(t, tc.msg.Type, dec.Type)
			require.Equal(t, tc.msg.Code, dec.Code)
			require.Equal(t, tc.msg.MessageID, dec.MessageID)
			require.Equal(t, tc.msg.Token, dec.Token)
			require.ElementsMatch(t, tc.msg.Options, dec.Options)
			require.Equal(t, tc.msg.Payload, dec.Payload)
		})
	}
}

func manyOptions(n int) []coap.Option {
	opts := make([]coap.Option, 0, n)
	// Spread numbers across the 13/269 extension boundaries.
	nums := []uint16{1, 3, 11, 12, 13, 17, 23, 27, 44, 100, 268, 269, 270, 300, 1000, 5000}
	for i := 0; i < n && i < len(nums); i++ {
		opts = append(opts, coap.Option{Number: nums[i], Value: []byte{byte(i)}})
	}
	return opts
}

func TestDecode_RejectsShortAndBadVersion(t *testing.T) {
	_, err := coap.Decode([]byte{0x01, 0x02})
	require.ErrorIs(t, err, coap.ErrShortMessage)

	bad := []byte{0xC0, 0x01, 0x00, 0x00} // version bits = 3
	_, err = coap.Decode(bad)
	require.ErrorIs(t, err, coap.ErrUnsupportedVersion)
}

func TestBlock_RoundTrip(t *testing.T) {
	for num := uint32(0); num < (1 << 20); num += 104729 { // sparse sample across the range
		for _, more := range []bool{true, false} {
			for szx := uint8(0); szx <= coap.MaxSZX; szx++ {
				raw := coap.EncodeBlock(num, more, szx)
				got := coap.DecodeBlock(raw)
				require.Equal(t, num, got.Num)
				require.Equal(t, more, got.More)
				require.Equal(t, szx, got.SZX)
				require.Equal(t, 1<<(szx+4), got.Size)
			}
		}
	}
}

func TestBlock_SizeTable(t *testing.T) {
	require.Equal(t, 16, coap.BlockSize(0))
	require.Equal(t, 1024, coap.BlockSize(6))
}

func TestCode_ClassDetail(t *testing.T) {
	require.True(t, coap.Code204Changed.IsSuccess())
	require.Equal(t, uint8(2), coap.Code204Changed.Class())
	require.Equal(t, uint8(4), coap.Code204Changed.Detail())
	require.Equal(t, "2.04", coap.Code204Changed.String())
	require.False(t, coap.NewCode(4, 4).IsSuccess())
}

func TestRequestConstructors(t *testing.T) {
	fetch := coap.NewFetch(1, []byte{0x01, 0x02}, []byte{0xA0})
	require.Equal(t, coap.CodeFETCH, fetch.Code)
	require.Equal(t, [][]byte{[]byte("c")}, fetch.OptionValues(coap.OptionURIPath))
	require.Equal(t, []byte{0xA0}, fetch.Payload)

	get := coap.NewGet(2, nil)
	require.Equal(t, coap.CodeGET, get.Code)
	require.Empty(t, get.Payload)
}
