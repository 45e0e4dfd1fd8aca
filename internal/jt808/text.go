package jt808

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// Text fields on the wire are GBK. ASCII passes through unchanged.

func decodeText(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: text field: %v", ErrMalformedBody, err)
	}
	return string(out), nil
}

func encodeText(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	out, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not representable in GBK", ErrMalformedBody, s)
	}
	return out, nil
}

// appendFixedText writes s right-padded with zero bytes to width.
func appendFixedText(dst []byte, s string, width int) ([]byte, error) {
	b, err := encodeText(s)
	if err != nil {
		return nil, err
	}
	if len(b) > width {
		return nil, fmt.Errorf("%w: %q needs %d bytes, field holds %d", ErrFieldTooLong, s, len(b), width)
	}
	dst = append(dst, b...)
	return append(dst, make([]byte, width-len(b))...), nil
}

func trimPadding(b []byte) []byte {
	return bytes.TrimRight(b, "\x00")
}
