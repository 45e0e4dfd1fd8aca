package jt808

import (
	"errors"
	"fmt"
)

// DecodeFunc parses the body of one kind. A decoder may return a body together
// with a warning error (see ErrTruncatedAdditionalInfo).
type DecodeFunc func(h *Header, body []byte) (Body, error)

// EncodeFunc appends the wire form of body to dst.
type EncodeFunc func(dst []byte, h *Header, body Body) ([]byte, error)

// BodyCodec is the registry entry for one message kind.
type BodyCodec struct {
	Decode DecodeFunc
	Encode EncodeFunc
}

// bodyCodec binds a typed decoder to the body type T it produces, so that
// encoding a mismatched body for the kind fails instead of emitting garbage.
func bodyCodec[T Body](decode func(h *Header, b []byte) (T, error)) BodyCodec {
	return BodyCodec{
		Decode: func(h *Header, b []byte) (Body, error) {
			v, err := decode(h, b)
			if err != nil && !isWarning(err) {
				return nil, err
			}
			return v, err
		},
		Encode: func(dst []byte, h *Header, body Body) ([]byte, error) {
			v, ok := body.(T)
			if !ok {
				var want T
				return nil, fmt.Errorf("%w: kind 0x%04X wants %T, got %T", ErrBodyTypeMismatch, h.Kind, want, body)
			}
			return v.AppendBody(dst, h)
		},
	}
}

// Codec encodes and decodes frames. Configure it with NewCodec and Register
// before sharing it; after that it is read-only and safe for concurrent use.
type Codec struct {
	kinds           map[uint16]BodyCodec
	lenientChecksum bool
}

// Option configures a Codec.
type Option func(*Codec)

// WithLenientChecksum makes Decode accept frames whose checksum disagrees.
// The mismatch is reported on Message.Warnings instead. Meant for replaying
// captured traffic from firmware that computes the checksum over a different
// range.
func WithLenientChecksum() Option {
	return func(c *Codec) { c.lenientChecksum = true }
}

// NewCodec returns a codec that knows every kind in this package.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{kinds: make(map[uint16]BodyCodec, len(defaultKinds))}
	for kind, bc := range defaultKinds {
		c.kinds[kind] = bc
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultKinds = map[uint16]BodyCodec{
	KindTerminalResponse:      bodyCodec(decodeGeneralResponse),
	KindPlatformResponse:      bodyCodec(decodeGeneralResponse),
	KindHeartbeat:             bodyCodec(decodeHeartbeat),
	KindTerminalRegister:      bodyCodec(decodeTerminalRegistration),
	KindRegisterResponse:      bodyCodec(decodeRegistrationResponse),
	KindTerminalAuth:          bodyCodec(decodeTerminalAuth),
	KindSetParameters:         bodyCodec(decodeSetParameters),
	KindQueryParameters:       bodyCodec(decodeParameterQuery),
	KindParametersResponse:    bodyCodec(decodeParametersResponse),
	KindTerminalControl:       bodyCodec(decodeTerminalControl),
	KindLocationReport:        bodyCodec(decodeLocationReport),
	KindLocationQuery:         bodyCodec(decodeLocationQuery),
	KindLocationQueryResponse: bodyCodec(decodeLocationQueryResponse),
	KindMultimediaEvent:       bodyCodec(decodeMultimediaEvent),
	KindMultimediaUpload:      bodyCodec(decodeMultimediaUpload),
	KindPhotoCapture:          bodyCodec(decodePhotoCapture),
	KindRealtimeMediaRequest:  bodyCodec(decodeRealtimeMediaRequest),
}

// Register adds or replaces the body codec of kind.
func (c *Codec) Register(kind uint16, bc BodyCodec) {
	c.kinds[kind] = bc
}

// Registered reports whether kind has a body codec.
func (c *Codec) Registered(kind uint16) bool {
	_, ok := c.kinds[kind]
	return ok
}

var defaultCodec = NewCodec()

// Decode decodes one frame with the default codec.
func Decode(frame []byte) (*Message, error) { return defaultCodec.Decode(frame) }

// Encode encodes m with the default codec.
func Encode(m *Message) ([]byte, error) { return defaultCodec.Encode(m) }

// Decode parses one delimiter-wrapped frame. Structural problems abort the
// frame with an error; the caller can go on with the next frame.
func (c *Codec) Decode(frame []byte) (*Message, error) {
	if len(frame) < 2 || frame[0] != FrameDelimiter || frame[len(frame)-1] != FrameDelimiter {
		return nil, ErrMissingFrameMarker
	}
	payload, err := Unescape(frame[1 : len(frame)-1])
	if err != nil {
		return nil, err
	}
	if len(payload) < minHeaderSize+1 {
		return nil, fmt.Errorf("%w: %d bytes after unescaping", ErrFrameTooShort, len(payload))
	}

	content, claimed := payload[:len(payload)-1], payload[len(payload)-1]
	var warnings []error
	if !VerifyChecksum(content, claimed) {
		mismatch := fmt.Errorf("%w: computed 0x%02X, frame carries 0x%02X", ErrChecksumMismatch, Checksum(content), claimed)
		if !c.lenientChecksum {
			return nil, mismatch
		}
		warnings = append(warnings, mismatch)
	}

	h, n, err := decodeHeader(content)
	if err != nil {
		return nil, err
	}
	body := content[n:]
	if len(body) != int(h.Properties.BodyLength) {
		return nil, fmt.Errorf("%w: header declares %d bytes, frame carries %d",
			ErrBodyLengthMismatch, h.Properties.BodyLength, len(body))
	}

	b, err := c.DecodeBody(&h, body)
	if err != nil {
		if !isWarning(err) {
			return nil, fmt.Errorf("decode %s body: %w", KindName(h.Kind), err)
		}
		warnings = append(warnings, err)
	}
	return &Message{Header: h, Body: b, Warnings: warnings}, nil
}

// DecodeBody interprets a complete body for h. Encrypted bodies, subpackage
// fragments and unregistered kinds come back as RawBody.
func (c *Codec) DecodeBody(h *Header, body []byte) (Body, error) {
	if h.Subpackage != nil || h.Properties.Encryption != EncryptionNone {
		return RawBody(clone(body)), nil
	}
	bc, ok := c.kinds[h.Kind]
	if !ok {
		return RawBody(clone(body)), nil
	}
	return bc.Decode(h, body)
}

// Encode serialises m into one frame. Bodies over MaxBodyLength need
// EncodePackets. Nothing is returned unless the whole frame could be built.
func (c *Codec) Encode(m *Message) ([]byte, error) {
	body, err := c.encodeBody(m)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodyLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLargeForSinglePackage, len(body))
	}
	return buildFrame(m.Header, body)
}

// EncodePackets serialises m into as many frames as its body needs, chunk
// bytes at most per frame (MaxBodyLength when chunk is out of range).
// Fragments take consecutive serial numbers starting at m.Header.Serial.
func (c *Codec) EncodePackets(m *Message, chunk int) ([][]byte, error) {
	if chunk <= 0 || chunk > MaxBodyLength {
		chunk = MaxBodyLength
	}
	body, err := c.encodeBody(m)
	if err != nil {
		return nil, err
	}
	if len(body) <= chunk && m.Header.Subpackage == nil {
		frame, err := buildFrame(m.Header, body)
		if err != nil {
			return nil, err
		}
		return [][]byte{frame}, nil
	}

	total := (len(body) + chunk - 1) / chunk
	if total > 0xFFFF {
		return nil, fmt.Errorf("%w: %d bytes need %d packages", ErrInvalidSubpackage, len(body), total)
	}
	frames := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		end := min((i+1)*chunk, len(body))
		h := m.Header
		h.Serial = m.Header.Serial + uint16(i)
		h.Subpackage = &Subpackage{Total: uint16(total), Seq: uint16(i + 1)}
		frame, err := buildFrame(h, body[i*chunk:end])
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func (c *Codec) encodeBody(m *Message) ([]byte, error) {
	if m == nil || m.Body == nil {
		return nil, errors.New("jt808: encode: message has no body")
	}
	if raw, ok := m.Body.(RawBody); ok {
		return clone(raw), nil
	}
	bc, ok := c.kinds[m.Header.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%04X with %T", ErrUnknownMessageKind, m.Header.Kind, m.Body)
	}
	h := m.Header
	return bc.Encode(nil, &h, m.Body)
}

func buildFrame(h Header, body []byte) ([]byte, error) {
	h.Properties.BodyLength = uint16(len(body))
	h.Properties.Subpackaged = h.Subpackage != nil

	content, err := appendHeader(make([]byte, 0, h.Size()+len(body)+1), &h)
	if err != nil {
		return nil, err
	}
	content = append(content, body...)
	content = append(content, Checksum(content))

	frame := make([]byte, 0, len(content)+len(content)/16+2)
	frame = append(frame, FrameDelimiter)
	frame = appendEscaped(frame, content)
	return append(frame, FrameDelimiter), nil
}
