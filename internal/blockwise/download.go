package blockwise

import (
	"context"
	"fmt"
	"time"

	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/coap"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/metrics"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/transport"
)

// DownloadMethod is the CoAP method a download transfer uses: GET or FETCH.
type DownloadMethod int

const (
	DownloadGet DownloadMethod = iota
	DownloadFetch
)

func (m DownloadMethod) String() string {
	if m == DownloadFetch {
		return "FETCH"
	}
	return "GET"
}

// Download drives a Block2 download (spec §4.7.2): GET or FETCH, followed
// by Block2 continuation requests if the initial response indicates more
// blocks remain. query is the FETCH request body (CBOR); it is ignored for
// GET. The returned message's Payload is the concatenation of every block
// in index order; all other fields come from the last response received.
func Download(ctx context.Context, s Sender, transportLabel string, method DownloadMethod, query, token []byte, szx uint8, timeout time.Duration) (*coap.Message, error) {
	token = effectiveToken(token)
	szx = effectiveSZX(szx)
	blocks := 1

	first, err := s.SendRequest(ctx, method.String(), func(id uint16) (*coap.Message, error) {
		if method == DownloadFetch {
			return coap.NewFetch(id, token, query), nil
		}
		return coap.NewGet(id, token), nil
	}, timeout)
	if err != nil {
		metrics.ObserveBlockTransfer(transportLabel, directionDownload, transport.ReasonForError(err), blocks)
		return nil, err
	}

	block2 := first.OptionValues(coap.OptionBlock2)
	if len(block2) == 0 {
		if !first.Code.IsSuccess() {
			err := &transport.DeviceError{Code: first.Code.String()}
			metrics.ObserveBlockTransfer(transportLabel, directionDownload, transport.ReasonForError(err), blocks)
			return nil, err
		}
		metrics.ObserveBlockTransfer(transportLabel, directionDownload, "ok", blocks)
		return first, nil
	}

	b := coap.DecodeBlock(coap.OptionUint(block2[0]))
	accumulated := append([]byte(nil), first.Payload...)
	num := uint32(0)
	more := b.More
	curSZX := b.SZX
	last := first

	for more {
		nextNum := num + 1
		blockVal := coap.BlockOptionValue(nextNum, false, curSZX)

		resp, err := s.SendRequest(ctx, method.String(), func(id uint16) (*coap.Message, error) {
			m := continuationMessage(method, id, token)
			m.SetOption(coap.OptionBlock2, blockVal)
			return m, nil
		}, timeout)
		blocks++
		if err != nil {
			metrics.ObserveBlockTransfer(transportLabel, directionDownload, transport.ReasonForError(err), blocks)
			return nil, err
		}

		vals := resp.OptionValues(coap.OptionBlock2)
		if len(vals) == 0 {
			err := &transport.ProtocolError{Reason: fmt.Sprintf("block2 block %d: response carried no Block2 option", nextNum)}
			metrics.ObserveBlockTransfer(transportLabel, directionDownload, transport.ReasonForError(err), blocks)
			return nil, err
		}
		got := coap.DecodeBlock(coap.OptionUint(vals[0]))
		if got.Num != nextNum {
			err := &transport.ProtocolError{Reason: fmt.Sprintf("block2 num %d does not match requested %d", got.Num, nextNum)}
			metrics.ObserveBlockTransfer(transportLabel, directionDownload, transport.ReasonForError(err), blocks)
			return nil, err
		}
		if got.SZX > curSZX {
			err := &transport.ProtocolError{Reason: fmt.Sprintf("block2 szx increased from %d to %d", curSZX, got.SZX)}
			metrics.ObserveBlockTransfer(transportLabel, directionDownload, transport.ReasonForError(err), blocks)
			return nil, err
		}

		accumulated = append(accumulated, resp.Payload...)
		num = got.Num
		more = got.More
		curSZX = got.SZX
		last = resp
	}

	if !last.Code.IsSuccess() {
		err := &transport.DeviceError{Code: last.Code.String()}
		metrics.ObserveBlockTransfer(transportLabel, directionDownload, transport.ReasonForError(err), blocks)
		return nil, err
	}

	out := *last
	out.Payload = accumulated
	metrics.ObserveBlockTransfer(transportLabel, directionDownload, "ok", blocks)
	return &out, nil
}

// continuationMessage builds the minimal Block2 continuation request body:
// Uri-Path "c" and the Block2 option only, no Content-Format/Accept and no
// payload re-send (spec §4.7.2).
func continuationMessage(method DownloadMethod, msgID uint16, token []byte) *coap.Message {
	code := coap.CodeGET
	if method == DownloadFetch {
		code = coap.CodeFETCH
	}
	m := &coap.Message{
		Version:   1,
		Type:      coap.TypeConfirmable,
		Code:      code,
		MessageID: msgID,
		Token:     token,
	}
	m.SetOption(coap.OptionURIPath, coap.TextOption("c"))
	return m
}
