package jt808

import (
	"fmt"
	"strings"
)

// Terminal id field widths in bytes.
const (
	TerminalIDWidth2013 = 6
	TerminalIDWidth2019 = 10

	terminalIDDigits = 2 * TerminalIDWidth2013
)

// EncodeBCD left-pads digits with '0' to 2*width characters and packs each
// pair into one byte, first digit in the high nibble.
func EncodeBCD(digits string, width int) ([]byte, error) {
	if len(digits) > 2*width {
		return nil, fmt.Errorf("%w: %d digits into %d bytes", ErrBCDOverflow, len(digits), width)
	}
	padded := strings.Repeat("0", 2*width-len(digits)) + digits
	out := make([]byte, width)
	for i := 0; i < len(padded); i += 2 {
		hi, lo := padded[i]-'0', padded[i+1]-'0'
		if hi > 9 || lo > 9 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidBCDDigit, digits)
		}
		out[i/2] = hi<<4 | lo
	}
	return out, nil
}

// DecodeBCD unpacks two decimal digits per byte.
func DecodeBCD(b []byte) (string, error) {
	out := make([]byte, 0, 2*len(b))
	for i, v := range b {
		hi, lo := v>>4, v&0x0F
		if hi > 9 || lo > 9 {
			return "", fmt.Errorf("%w: 0x%02X at offset %d", ErrInvalidBCDDigit, v, i)
		}
		out = append(out, '0'+hi, '0'+lo)
	}
	return string(out), nil
}

// NormalizeTerminalID brings id to the form a decoded header carries: at
// least 12 digits, with the zero padding of wider fields removed.
func NormalizeTerminalID(id string) string {
	if len(id) < terminalIDDigits {
		return strings.Repeat("0", terminalIDDigits-len(id)) + id
	}
	for len(id) > terminalIDDigits && id[0] == '0' {
		id = id[1:]
	}
	return id
}
