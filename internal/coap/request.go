package coap

// uriPathC is the fixed Uri-Path segment the VelocityDRIVE-SP firmware
// expects for every configuration exchange (spec §4.2).
const uriPathC = "c"

// NewFetch builds an iFETCH request: a query payload against Uri-Path "c",
// with Content-Format/Accept set per spec §4.2.
func NewFetch(msgID uint16, token, query []byte) *Message {
	m := newConfigMessage(CodeFETCH, msgID, token)
	m.Payload = query
	return m
}

// NewIPatch builds an iPATCH request carrying a CBOR patch set.
func NewIPatch(msgID uint16, token, patch []byte) *Message {
	m := newConfigMessage(CodeIPATCH, msgID, token)
	m.Payload = patch
	return m
}

// NewPut builds a PUT request performing a full-resource replacement.
func NewPut(msgID uint16, token, body []byte) *Message {
	m := newConfigMessage(CodePUT, msgID, token)
	m.Payload = body
	return m
}

// NewGet builds a GET request against Uri-Path "c" with no payload. Unlike
// the other constructors it omits Content-Format/Accept: RFC 7252 §5.10.3
// says Content-Format describes the request payload, and GET has none.
func NewGet(msgID uint16, token []byte) *Message {
	m := &Message{
		Version:   1,
		Type:      TypeConfirmable,
		Code:      CodeGET,
		MessageID: msgID,
		Token:     token,
	}
	m.SetOption(OptionURIPath, TextOption(uriPathC))
	return m
}

// NewPost builds a POST (RPC invocation) request against the given
// Uri-Path, with caller-supplied payload.
func NewPost(msgID uint16, token []byte, uriPath string, payload []byte) *Message {
	m := &Message{
		Version:   1,
		Type:      TypeConfirmable,
		Code:      CodePOST,
		MessageID: msgID,
		Token:     token,
		Payload:   payload,
	}
	if uriPath != "" {
		m.SetOption(OptionURIPath, TextOption(uriPath))
	}
	return m
}

func newConfigMessage(code Code, msgID uint16, token []byte) *Message {
	m := &Message{
		Version:   1,
		Type:      TypeConfirmable,
		Code:      code,
		MessageID: msgID,
		Token:     token,
	}
	m.SetOption(OptionURIPath, TextOption(uriPathC))
	m.SetOption(OptionContentFormat, UintOption(FormatYANGInstancesCBOR))
	m.SetOption(OptionAccept, UintOption(FormatYANGDataCBORSID))
	return m
}
