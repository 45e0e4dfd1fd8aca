package jt808

import "fmt"

// Message is one decoded frame, or one frame to be encoded.
type Message struct {
	Header Header
	Body   Body

	// Warnings holds non-fatal conditions met while decoding, such as
	// ErrTruncatedAdditionalInfo. It is ignored by Encode.
	Warnings []error
}

// NewMessage builds a 2013-header message. Use Versioned for the 2019 header.
func NewMessage(kind uint16, terminalID string, serial uint16, body Body) *Message {
	return &Message{
		Header: Header{
			Kind:       kind,
			TerminalID: NormalizeTerminalID(terminalID),
			Serial:     serial,
		},
		Body: body,
	}
}

// Versioned switches m to the 2019 header with the given protocol version.
func (m *Message) Versioned(version uint8) *Message {
	m.Header.Properties.Versioned = true
	m.Header.ProtocolVersion = version
	return m
}

// Body is the payload of a message. Concrete bodies append their own wire
// form; decoding goes through the kind registry of a Codec.
type Body interface {
	AppendBody(dst []byte, h *Header) ([]byte, error)
}

// RawBody carries bytes the codec does not interpret: unknown kinds, encrypted
// bodies and subpackage fragments.
type RawBody []byte

func (b RawBody) AppendBody(dst []byte, _ *Header) ([]byte, error) {
	return append(dst, b...), nil
}

// Heartbeat has an empty body.
type Heartbeat struct{}

func (Heartbeat) AppendBody(dst []byte, _ *Header) ([]byte, error) { return dst, nil }

func decodeHeartbeat(_ *Header, b []byte) (Heartbeat, error) {
	if len(b) != 0 {
		return Heartbeat{}, fmt.Errorf("%w: heartbeat carries %d bytes", ErrMalformedBody, len(b))
	}
	return Heartbeat{}, nil
}

// LocationQuery has an empty body.
type LocationQuery struct{}

func (LocationQuery) AppendBody(dst []byte, _ *Header) ([]byte, error) { return dst, nil }

func decodeLocationQuery(_ *Header, b []byte) (LocationQuery, error) {
	if len(b) != 0 {
		return LocationQuery{}, fmt.Errorf("%w: location query carries %d bytes", ErrMalformedBody, len(b))
	}
	return LocationQuery{}, nil
}
