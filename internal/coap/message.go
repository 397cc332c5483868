// Package coap implements the subset of RFC 7252 (CoAP) and RFC 7959
// (block-wise transfer) needed to exchange YANG configuration with a
// VelocityDRIVE-SP switch over MUP1: message encode/decode, option
// serialization, and block-option packing. It does not implement Observe,
// DTLS, multicast, or any server/proxy role.
package coap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Type is the CoAP message type (RFC 7252 §3).
type Type uint8

const (
	TypeConfirmable     Type = 0
	TypeNonConfirmable  Type = 1
	TypeAcknowledgement Type = 2
	TypeReset           Type = 3
)

// Code is the method or response code, packed as (class<<5)|detail.
type Code uint8

// Method codes used by this client.
const (
	CodeGET    Code = 0x01
	CodePOST   Code = 0x02
	CodePUT    Code = 0x03
	CodeDELETE Code = 0x04
	// CodeFETCH and CodeIPATCH are the RFC 8132-style extended methods the
	// VelocityDRIVE-SP firmware uses for idempotent configuration read/merge.
	CodeFETCH  Code = 0x05
	CodeIPATCH Code = 0x07
)

// Response codes referenced directly by the block-wise controller and error
// classification.
const (
	Code201Created  Code = 0x41 // 2.01
	Code204Changed  Code = 0x44 // 2.04
	Code205Content  Code = 0x45 // 2.05
	Code231Continue Code = 0x5F // 2.31
)

// NewCode builds a Code from its class.detail decimal notation, e.g.
// NewCode(2, 5) == 2.05 Content.
func NewCode(class, detail uint8) Code {
	return Code((class << 5) | (detail & 0x1F))
}

// Class returns the response class (2 = success, 4 = client error, ...).
func (c Code) Class() uint8 { return uint8(c) >> 5 }

// Detail returns the response detail digits.
func (c Code) Detail() uint8 { return uint8(c) & 0x1F }

// IsSuccess reports whether c is a 2.xx response.
func (c Code) IsSuccess() bool { return c.Class() == 2 }

func (c Code) String() string {
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}

// ErrShortMessage is returned when decode is handed fewer than the 4-byte
// fixed header.
var ErrShortMessage = errors.New("coap: message shorter than fixed header")

// ErrUnsupportedVersion is returned when the header version is not 1.
var ErrUnsupportedVersion = errors.New("coap: unsupported version")

// ErrMalformedOption is returned for a truncated or otherwise ill-formed
// option TLV.
var ErrMalformedOption = errors.New("coap: malformed option")

// ErrTokenLength is returned when the header's token-length nibble is out
// of the legal 0..8 range, or longer than the remaining bytes.
var ErrTokenLength = errors.New("coap: invalid token length")

// Option is a single decoded (number, value) pair. Options are kept in the
// order they appear on the wire, which — because Message.Encode always
// emits them in ascending numeric order — is also ascending numeric order
// for anything this package produced itself.
type Option struct {
	Number uint16
	Value  []byte
}

// Message is a decoded CoAP message: fixed header, token, options, and an
// optional payload.
type Message struct {
	Version   uint8
	Type      Type
	Code      Code
	MessageID uint16
	Token     []byte
	Options   []Option
	Payload   []byte
}

// OptionValues returns the values of every option with the given number, in
// wire order.
func (m *Message) OptionValues(number uint16) [][]byte {
	var out [][]byte
	for _, o := range m.Options {
		if o.Number == number {
			out = append(out, o.Value)
		}
	}
	return out
}

// SetOption appends an option. Callers are responsible for adding options in
// a way that, combined with Encode's sort, produces the wire layout they
// intend; Encode itself tolerates any input order.
func (m *Message) SetOption(number uint16, value []byte) {
	m.Options = append(m.Options, Option{Number: number, Value: value})
}

// Encode serializes m into its RFC 7252 wire form: 4-byte fixed header,
// token, options sorted into ascending delta order, and — when Payload is
// non-empty — a 0xFF payload marker followed by the payload bytes.
func (m *Message) Encode() ([]byte, error) {
	if len(m.Token) > 8 {
		return nil, ErrTokenLength
	}

	out := make([]byte, 4, 4+len(m.Token)+16+len(m.Payload))
	out[0] = (1 << 6) | (uint8(m.Type) << 4) | uint8(len(m.Token))
	out[1] = uint8(m.Code)
	binary.BigEndian.PutUint16(out[2:4], m.MessageID)
	out = append(out, m.Token...)

	sorted := append([]Option(nil), m.Options...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	var prev uint16
	for _, opt := range sorted {
		delta := opt.Number - prev
		prev = opt.Number
		out = append(out, encodeOption(delta, opt.Value)...)
	}

	if len(m.Payload) > 0 {
		out = append(out, 0xFF)
		out = append(out, m.Payload...)
	}
	return out, nil
}

// Decode parses a CoAP message from its wire form, validating the version,
// token length, and option/payload TLV structure.
func Decode(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, ErrShortMessage
	}
	ver := data[0] >> 6
	if ver != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrUnsupportedVersion, ver)
	}
	typ := Type((data[0] >> 4) & 0x3)
	tokenLen := int(data[0] & 0x0F)
	if tokenLen > 8 {
		return nil, ErrTokenLength
	}
	code := Code(data[1])
	msgID := binary.BigEndian.Uint16(data[2:4])

	rest := data[4:]
	if tokenLen > len(rest) {
		return nil, ErrTokenLength
	}
	token := append([]byte(nil), rest[:tokenLen]...)
	rest = rest[tokenLen:]

	m := &Message{
		Version:   1,
		Type:      typ,
		Code:      code,
		MessageID: msgID,
		Token:     token,
	}

	var num uint16
	for len(rest) > 0 {
		if rest[0] == 0xFF {
			rest = rest[1:]
			if len(rest) == 0 {
				return nil, fmt.Errorf("%w: payload marker with no payload", ErrMalformedOption)
			}
			m.Payload = append([]byte(nil), rest...)
			rest = nil
			break
		}
		delta, length, headerLen, err := decodeOptionHeader(rest)
		if err != nil {
			return nil, err
		}
		rest = rest[headerLen:]
		if length > len(rest) {
			return nil, fmt.Errorf("%w: option value truncated", ErrMalformedOption)
		}
		num += uint16(delta)
		m.Options = append(m.Options, Option{Number: num, Value: append([]byte(nil), rest[:length]...)})
		rest = rest[length:]
	}
	return m, nil
}
