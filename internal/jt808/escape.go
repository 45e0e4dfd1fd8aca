package jt808

import "fmt"

const (
	FrameDelimiter byte = 0x7E
	EscapeMarker   byte = 0x7D

	escapedDelimiter byte = 0x02
	escapedMarker    byte = 0x01
)

// Escape byte-stuffs payload so that it never contains FrameDelimiter.
func Escape(payload []byte) []byte {
	return appendEscaped(make([]byte, 0, len(payload)+len(payload)/16+2), payload)
}

func appendEscaped(dst, payload []byte) []byte {
	for _, b := range payload {
		switch b {
		case FrameDelimiter:
			dst = append(dst, EscapeMarker, escapedDelimiter)
		case EscapeMarker:
			dst = append(dst, EscapeMarker, escapedMarker)
		default:
			dst = append(dst, b)
		}
	}
	return dst
}

// Unescape reverses Escape. The input is the frame interior, without the two
// delimiters.
func Unescape(wire []byte) ([]byte, error) {
	out := make([]byte, 0, len(wire))
	for i := 0; i < len(wire); i++ {
		b := wire[i]
		switch b {
		case FrameDelimiter:
			return nil, fmt.Errorf("%w at offset %d", ErrUnexpectedDelimiter, i)
		case EscapeMarker:
			if i+1 >= len(wire) {
				return nil, fmt.Errorf("%w: trailing 0x7D", ErrInvalidEscape)
			}
			i++
			switch wire[i] {
			case escapedDelimiter:
				out = append(out, FrameDelimiter)
			case escapedMarker:
				out = append(out, EscapeMarker)
			default:
				return nil, fmt.Errorf("%w: 0x7D 0x%02X at offset %d", ErrInvalidEscape, wire[i], i-1)
			}
		default:
			out = append(out, b)
		}
	}
	return out, nil
}
