package jt808

import (
	"errors"
	"fmt"
)

var (
	ErrFraming             = errors.New("jt808: framing error")
	ErrMissingFrameMarker  = fmt.Errorf("%w: missing frame marker", ErrFraming)
	ErrUnexpectedDelimiter = fmt.Errorf("%w: unexpected frame delimiter", ErrFraming)
	ErrInvalidEscape       = fmt.Errorf("%w: invalid escape sequence", ErrFraming)
	ErrFrameTooShort       = fmt.Errorf("%w: frame too short", ErrFraming)

	ErrChecksumMismatch   = errors.New("jt808: checksum mismatch")
	ErrHeaderTooShort     = errors.New("jt808: header too short")
	ErrInvalidBCDDigit    = errors.New("jt808: invalid BCD digit")
	ErrBCDOverflow        = errors.New("jt808: value does not fit BCD field")
	ErrBodyLengthMismatch = errors.New("jt808: body length mismatch")
	ErrMalformedBody      = errors.New("jt808: malformed body")
	ErrInvalidTimestamp   = errors.New("jt808: invalid timestamp")
	ErrFieldTooLong       = errors.New("jt808: field too long")
	ErrCoordinateRange    = errors.New("jt808: coordinate out of range")

	// ErrTruncatedAdditionalInfo is reported through Message.Warnings; the
	// items parsed before the truncation are still returned.
	ErrTruncatedAdditionalInfo = errors.New("jt808: truncated additional info")

	ErrUnknownMessageKind           = errors.New("jt808: unknown message kind")
	ErrBodyTypeMismatch             = errors.New("jt808: body type does not match message kind")
	ErrBodyTooLargeForSinglePackage = errors.New("jt808: body too large for a single package")
	ErrInvalidSubpackage            = errors.New("jt808: invalid subpackage")
)

// isWarning reports whether err leaves a usable body behind it.
func isWarning(err error) bool {
	return errors.Is(err, ErrTruncatedAdditionalInfo)
}
