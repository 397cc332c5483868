package coap

import (
	"encoding/binary"
	"fmt"
)

// Option numbers used by this client (RFC 7252 §5.10, RFC 7959 §2).
const (
	OptionURIPath       uint16 = 11
	OptionContentFormat uint16 = 12
	OptionAccept        uint16 = 17
	OptionBlock2        uint16 = 23
	OptionBlock1        uint16 = 27
)

// Content-Format identifiers the VelocityDRIVE-SP firmware recognizes.
const (
	// FormatYANGInstancesCBOR is used for request payloads on PUT, iPATCH,
	// and FETCH.
	FormatYANGInstancesCBOR uint64 = 140
	// FormatYANGDataCBORSID is requested via Accept for responses.
	FormatYANGDataCBORSID uint64 = 141
)

// encodeOption serializes one option's delta/length nibble header (with the
// 13/269 extended-value rules) followed by its value bytes.
func encodeOption(delta uint16, value []byte) []byte {
	dn, dext := splitNibble(delta)
	ln, lext := splitNibble(uint16(len(value)))

	out := make([]byte, 1, 1+len(dext)+len(lext)+len(value))
	out[0] = byte(dn<<4) | byte(ln)
	out = append(out, dext...)
	out = append(out, lext...)
	out = append(out, value...)
	return out
}

// splitNibble returns the 4-bit nibble value to place in the option header
// byte and any extended bytes that must follow it, per the 13/269 rule:
// 0..12 fits in the nibble directly; 13..268 uses nibble 13 plus one
// extension byte (n-13); 269.. uses nibble 14 plus two extension bytes
// (n-269, big-endian).
func splitNibble(n uint16) (nibble uint8, ext []byte) {
	switch {
	case n < 13:
		return uint8(n), nil
	case n < 269:
		return 13, []byte{byte(n - 13)}
	default:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, n-269)
		return 14, b
	}
}

// decodeOptionHeader parses one option TLV header from the front of data,
// returning the delta, value length, and total header length consumed
// (not including the value bytes themselves).
func decodeOptionHeader(data []byte) (delta int, length int, headerLen int, err error) {
	if len(data) == 0 {
		return 0, 0, 0, fmt.Errorf("%w: empty option header", ErrMalformedOption)
	}
	dn := int(data[0] >> 4)
	ln := int(data[0] & 0x0F)
	pos := 1

	delta, pos, err = extendNibble(dn, data, pos)
	if err != nil {
		return 0, 0, 0, err
	}
	length, pos, err = extendNibble(ln, data, pos)
	if err != nil {
		return 0, 0, 0, err
	}
	return delta, length, pos, nil
}

func extendNibble(nibble int, data []byte, pos int) (int, int, error) {
	switch nibble {
	case 13:
		if pos >= len(data) {
			return 0, 0, fmt.Errorf("%w: truncated 13-extension", ErrMalformedOption)
		}
		return int(data[pos]) + 13, pos + 1, nil
	case 14:
		if pos+2 > len(data) {
			return 0, 0, fmt.Errorf("%w: truncated 269-extension", ErrMalformedOption)
		}
		return int(binary.BigEndian.Uint16(data[pos:pos+2])) + 269, pos + 2, nil
	case 15:
		return 0, 0, fmt.Errorf("%w: reserved nibble 15 (payload marker collision)", ErrMalformedOption)
	default:
		return nibble, pos, nil
	}
}

// TextOption encodes a UTF-8 string option value (e.g. a Uri-Path segment).
func TextOption(s string) []byte { return []byte(s) }

// UintOption encodes an unsigned integer option value using the shortest
// big-endian representation, per RFC 7252 §3.2 (e.g. Content-Format,
// Accept, or a raw Block1/Block2 value).
func UintOption(v uint64) []byte {
	if v == 0 {
		return nil
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return append([]byte(nil), buf[i:]...)
}

// OptionUint decodes a big-endian unsigned integer option value.
func OptionUint(v []byte) uint64 {
	var buf [8]byte
	copy(buf[8-len(v):], v)
	return binary.BigEndian.Uint64(buf[:])
}
