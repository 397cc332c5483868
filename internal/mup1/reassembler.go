package mup1

import "github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/metrics"

// Reassembler incrementally reconstructs MUP1 frames from a byte stream.
// It is stateful and owned exclusively by a single transport instance: bytes
// are appended via Feed and complete frames are returned as they are found.
// Invalid frames are discarded silently; callers never observe partial or
// malformed frames (spec §4.1 "Failure semantics").
type Reassembler struct {
	buf       []byte
	transport string
}

// NewReassembler returns an empty Reassembler. transportLabel identifies the
// owning transport ("serial", "udp") for the
// keti_tsn_mup1_reassembly_resyncs_total metric label.
func NewReassembler(transportLabel string) *Reassembler {
	return &Reassembler{transport: transportLabel}
}

// Reset discards any buffered, not-yet-parsed bytes. Called on transport
// disconnect so reassembly never leaks across connections.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
}

// Feed appends newly read bytes to the reassembler and returns every
// complete, checksum-valid frame that can be extracted from the buffer.
// Bytes preceding the first start-of-frame marker are discarded. A torn or
// corrupt candidate frame causes a single leading byte to be dropped and the
// scan retried, so one bad frame never blocks frames that follow it.
func (r *Reassembler) Feed(data []byte) []Frame {
	r.buf = append(r.buf, data...)

	var frames []Frame
	for {
		f, consumed, ok := r.tryParseOne()
		if consumed == 0 {
			// Nothing could be consumed; if we're sitting on an
			// unreasonably large unparsed prefix, drop a byte to resync
			// rather than waiting forever for it to complete.
			if len(r.buf) >= resyncSanityCap {
				r.buf = r.buf[1:]
				metrics.ReassemblyResyncs.WithLabelValues(r.transport).Inc()
				continue
			}
			break
		}
		r.buf = r.buf[consumed:]
		if ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// tryParseOne attempts to parse a single frame from the head of r.buf. It
// returns the frame (if ok), the number of bytes to drop from r.buf (0 means
// "need more data, stop trying"), and whether a valid frame was produced.
func (r *Reassembler) tryParseOne() (Frame, int, bool) {
	if len(r.buf) == 0 {
		return Frame{}, 0, false
	}
	// Discard everything before the first start marker.
	if r.buf[0] != startByte {
		start := indexByte(r.buf, startByte)
		if start < 0 {
			// No start marker at all; discard the whole buffer.
			if len(r.buf) > 0 {
				return Frame{}, len(r.buf), false
			}
			return Frame{}, 0, false
		}
		return Frame{}, start, false
	}

	if len(r.buf) < minFrameLen {
		return Frame{}, 0, false
	}

	// Body starts after '>' and the one-byte type field.
	body := r.buf[2:]
	endIdx := firstUnescapedEnd(body)
	if endIdx < 0 {
		// No terminator yet; wait for more bytes, unless we're already over
		// the sanity bound (handled by the caller via resyncSanityCap).
		return Frame{}, 0, false
	}

	typ := FrameType(r.buf[1])
	escapedPayload := body[:endIdx]

	pos := endIdx + 1 // index just past the first '<', relative to body
	doubled := false
	if pos < len(body) && body[pos] == endByte {
		doubled = true
		pos++
	}
	if pos+checksumLen > len(body) {
		return Frame{}, 0, false // need more data for the checksum
	}

	checksumASCII := body[pos : pos+checksumLen]
	wantSum, ok := parseHex4(checksumASCII)
	if !ok {
		// Malformed checksum field; drop one byte and resync.
		metrics.ReassemblyResyncs.WithLabelValues(r.transport).Inc()
		return Frame{}, 1, false
	}

	payload, err := unescape(escapedPayload)
	if err != nil {
		metrics.ReassemblyResyncs.WithLabelValues(r.transport).Inc()
		return Frame{}, 1, false
	}

	canon := make([]byte, 0, 3+len(payload))
	canon = append(canon, startByte, byte(typ))
	canon = append(canon, payload...)
	canon = append(canon, endByte)
	if doubled {
		canon = append(canon, endByte)
	}
	gotSum := checksum(canon)

	totalConsumed := 2 + pos + checksumLen // '>' + type + body-consumed
	if gotSum != wantSum {
		metrics.ReassemblyResyncs.WithLabelValues(r.transport).Inc()
		return Frame{}, 1, false
	}

	return Frame{Type: typ, Payload: payload}, totalConsumed, true
}

func indexByte(buf []byte, b byte) int {
	for i, c := range buf {
		if c == b {
			return i
		}
	}
	return -1
}
