package blockwise

import (
	"context"
	"fmt"
	"time"

	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/coap"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/metrics"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/transport"
)

// UploadMethod is the CoAP method an upload transfer uses: iPATCH or PUT.
type UploadMethod int

const (
	UploadIPatch UploadMethod = iota
	UploadPut
)

func (m UploadMethod) String() string {
	if m == UploadPut {
		return "PUT"
	}
	return "IPATCH"
}

func newUploadMessage(method UploadMethod, msgID uint16, token, chunk []byte) *coap.Message {
	if method == UploadPut {
		return coap.NewPut(msgID, token, chunk)
	}
	return coap.NewIPatch(msgID, token, chunk)
}

// Upload drives a Block1 upload of payload (spec §4.7.1). If payload fits
// in a single block it is sent as a plain request with no Block1 option;
// otherwise it is split into SZX-sized chunks sharing one token, stopping
// at the first non-Continue (while more blocks remain) or non-success
// (on the final block) response.
func Upload(ctx context.Context, s Sender, transportLabel string, method UploadMethod, payload, token []byte, szx uint8, timeout time.Duration) (*coap.Message, error) {
	token = effectiveToken(token)
	szx = effectiveSZX(szx)
	blockSize := coap.BlockSize(szx)

	if len(payload) <= blockSize {
		resp, err := s.SendRequest(ctx, method.String(), func(id uint16) (*coap.Message, error) {
			return newUploadMessage(method, id, token, payload), nil
		}, timeout)
		if err != nil {
			metrics.ObserveBlockTransfer(transportLabel, directionUpload, transport.ReasonForError(err), 1)
			return nil, err
		}
		if !resp.Code.IsSuccess() {
			err := &transport.DeviceError{Code: resp.Code.String()}
			metrics.ObserveBlockTransfer(transportLabel, directionUpload, transport.ReasonForError(err), 1)
			return nil, err
		}
		metrics.ObserveBlockTransfer(transportLabel, directionUpload, "ok", 1)
		return resp, nil
	}

	var (
		offset   = 0
		blockNum = uint32(0)
		curSZX   = szx
		curSize  = blockSize
	)
	for {
		end := offset + curSize
		more := end < len(payload)
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[offset:end]

		blockVal := coap.BlockOptionValue(blockNum, more, curSZX)
		resp, err := s.SendRequest(ctx, method.String(), func(id uint16) (*coap.Message, error) {
			m := newUploadMessage(method, id, token, chunk)
			m.SetOption(coap.OptionBlock1, blockVal)
			return m, nil
		}, timeout)
		if err != nil {
			metrics.ObserveBlockTransfer(transportLabel, directionUpload, transport.ReasonForError(err), int(blockNum+1))
			return nil, err
		}

		if more {
			if resp.Code != coap.Code231Continue {
				err := &transport.ProtocolError{Reason: fmt.Sprintf("block1 block %d: expected 2.31 Continue, got %s", blockNum, resp.Code)}
				metrics.ObserveBlockTransfer(transportLabel, directionUpload, transport.ReasonForError(err), int(blockNum+1))
				return nil, err
			}
		} else if !resp.Code.IsSuccess() {
			err := &transport.DeviceError{Code: resp.Code.String()}
			metrics.ObserveBlockTransfer(transportLabel, directionUpload, transport.ReasonForError(err), int(blockNum+1))
			return nil, err
		}

		if vals := resp.OptionValues(coap.OptionBlock1); len(vals) > 0 {
			got := coap.DecodeBlock(coap.OptionUint(vals[0]))
			if got.Num != blockNum {
				err := &transport.ProtocolError{Reason: fmt.Sprintf("block1 echo num %d does not match sent %d", got.Num, blockNum)}
				metrics.ObserveBlockTransfer(transportLabel, directionUpload, transport.ReasonForError(err), int(blockNum+1))
				return nil, err
			}
			if got.SZX > curSZX {
				err := &transport.ProtocolError{Reason: fmt.Sprintf("block1 szx increased from %d to %d", curSZX, got.SZX)}
				metrics.ObserveBlockTransfer(transportLabel, directionUpload, transport.ReasonForError(err), int(blockNum+1))
				return nil, err
			}
			if got.SZX < curSZX {
				curSZX = got.SZX
				curSize = coap.BlockSize(curSZX)
			}
		}

		offset = end
		blockNum++
		if !more {
			metrics.ObserveBlockTransfer(transportLabel, directionUpload, "ok", int(blockNum))
			return resp, nil
		}
	}
}
