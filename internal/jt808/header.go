package jt808

import (
	"fmt"
)

// Encryption is the body encryption scheme carried in bits 10-12 of the
// properties word.
type Encryption uint8

const (
	EncryptionNone Encryption = 0
	EncryptionRSA  Encryption = 1
)

func (e Encryption) String() string {
	switch e {
	case EncryptionNone:
		return "none"
	case EncryptionRSA:
		return "rsa"
	default:
		return fmt.Sprintf("encryption(%d)", uint8(e))
	}
}

// MaxBodyLength is the largest body a single package can carry.
const MaxBodyLength = 0x03FF

const (
	propLengthMask      uint16 = 0x03FF
	propEncryptionMask  uint16 = 0x1C00
	propEncryptionShift        = 10
	propSubpackage      uint16 = 1 << 13
	propVersion         uint16 = 1 << 14
)

// Properties is the decoded properties word.
type Properties struct {
	BodyLength  uint16
	Encryption  Encryption
	Subpackaged bool
	Versioned   bool
}

// Word packs p into its 16-bit wire form. Bit 15 is always zero.
func (p Properties) Word() uint16 {
	w := p.BodyLength&propLengthMask |
		uint16(p.Encryption)<<propEncryptionShift&propEncryptionMask
	if p.Subpackaged {
		w |= propSubpackage
	}
	if p.Versioned {
		w |= propVersion
	}
	return w
}

// ParseProperties splits a properties word. The reserved bit is ignored.
func ParseProperties(w uint16) Properties {
	return Properties{
		BodyLength:  w & propLengthMask,
		Encryption:  Encryption((w & propEncryptionMask) >> propEncryptionShift),
		Subpackaged: w&propSubpackage != 0,
		Versioned:   w&propVersion != 0,
	}
}

// Subpackage locates one fragment of a body split across frames. Seq counts
// from 1.
type Subpackage struct {
	Total uint16
	Seq   uint16
}

// Header is the fixed message header.
type Header struct {
	Kind            uint16
	Properties      Properties
	ProtocolVersion uint8 // only on the wire when Properties.Versioned
	TerminalID      string
	Serial          uint16
	Subpackage      *Subpackage
}

const (
	headerSize2013 = 2 + 2 + TerminalIDWidth2013 + 2
	headerSize2019 = 2 + 2 + 1 + TerminalIDWidth2019 + 2
	subpackageSize = 4

	minHeaderSize = headerSize2013
)

// TerminalIDWidth is the BCD width selected by the version flag.
func (h *Header) TerminalIDWidth() int {
	if h.Properties.Versioned {
		return TerminalIDWidth2019
	}
	return TerminalIDWidth2013
}

// Size is the encoded header length.
func (h *Header) Size() int {
	n := headerSize2013
	if h.Properties.Versioned {
		n = headerSize2019
	}
	if h.Properties.Subpackaged {
		n += subpackageSize
	}
	return n
}

// decodeHeader parses the header at the start of b and returns it together
// with the number of bytes it occupied.
func decodeHeader(b []byte) (Header, int, error) {
	r := newReader(b, ErrHeaderTooShort)
	h := Header{
		Kind:       r.u16(),
		Properties: ParseProperties(r.u16()),
	}
	if r.err != nil {
		return Header{}, 0, r.err
	}
	if r.remaining() < h.Size()-4 {
		return Header{}, 0, fmt.Errorf("%w: kind 0x%04X needs %d bytes, have %d",
			ErrHeaderTooShort, h.Kind, h.Size(), len(b))
	}
	if h.Properties.Versioned {
		h.ProtocolVersion = r.u8()
	}
	id := r.bcd(h.TerminalIDWidth())
	h.Serial = r.u16()
	if h.Properties.Subpackaged {
		h.Subpackage = &Subpackage{Total: r.u16(), Seq: r.u16()}
	}
	if r.err != nil {
		return Header{}, 0, fmt.Errorf("terminal id: %w", r.err)
	}
	h.TerminalID = NormalizeTerminalID(id)
	return h, r.off, nil
}

// appendHeader writes h. The caller has already set BodyLength and
// Subpackaged from the body it is about to append.
func appendHeader(dst []byte, h *Header) ([]byte, error) {
	id, err := EncodeBCD(NormalizeTerminalID(h.TerminalID), h.TerminalIDWidth())
	if err != nil {
		return nil, fmt.Errorf("encode terminal id %q: %w", h.TerminalID, err)
	}
	dst = appendU16(dst, h.Kind)
	dst = appendU16(dst, h.Properties.Word())
	if h.Properties.Versioned {
		dst = append(dst, h.ProtocolVersion)
	}
	dst = append(dst, id...)
	dst = appendU16(dst, h.Serial)
	if h.Subpackage != nil {
		dst = appendU16(dst, h.Subpackage.Total)
		dst = appendU16(dst, h.Subpackage.Seq)
	}
	return dst, nil
}
