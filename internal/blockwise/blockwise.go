// Package blockwise implements the Block1 upload and Block2 download state
// machines (spec §4.7, C7): it turns a single oversized CoAP exchange into
// a serial sequence of block requests sharing one token, renegotiating the
// block size downward when the device asks for smaller blocks, and
// synthesizing a single assembled response at the end.
package blockwise

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/coap"
)

// Sender issues one CoAP exchange and returns its matched response. It is
// satisfied by *request.Engine; the interface exists so this package never
// imports the request/transport packages' concrete types.
type Sender interface {
	SendRequest(ctx context.Context, method string, build func(msgID uint16) (*coap.Message, error), timeout time.Duration) (*coap.Message, error)
}

// direction labels block-transfer metrics.
const (
	directionUpload   = "upload"
	directionDownload = "download"
)

// randomToken allocates a fresh 2-byte token for a new block-wise transfer,
// used whenever the caller did not pin one explicitly (spec §9: "callers
// may pass a fixed token; otherwise the block-wise controllers allocate a
// fresh 2-byte token... and reuse it for every block").
func randomToken() []byte {
	return []byte{byte(rand.N(256)), byte(rand.N(256))}
}

// effectiveToken returns token unchanged if non-empty, otherwise a fresh one.
func effectiveToken(token []byte) []byte {
	if len(token) > 0 {
		return token
	}
	return randomToken()
}

// effectiveSZX clamps a caller-supplied SZX into the legal [0,6] range;
// SZX=7 is reserved and forbidden by RFC 7959.
func effectiveSZX(szx uint8) uint8 {
	if szx > coap.MaxSZX {
		return coap.MaxSZX
	}
	return szx
}
