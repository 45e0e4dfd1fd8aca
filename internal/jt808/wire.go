package jt808

import (
	"encoding/binary"
	"fmt"
	"time"
)

// reader walks a fixed layout. The first short read sticks, so a body decoder
// can read every field and check err once at the end.
type reader struct {
	b     []byte
	off   int
	err   error
	short error
}

func newReader(b []byte, short error) *reader {
	return &reader{b: b, short: short}
}

func (r *reader) remaining() int { return len(r.b) - r.off }

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.remaining() < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", r.short, n, r.off, r.remaining())
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := clone(r.b[r.off : r.off+n])
	r.off += n
	return v
}

func (r *reader) rest() []byte {
	return r.bytes(r.remaining())
}

func (r *reader) bcd(n int) string {
	raw := r.bytes(n)
	if r.err != nil {
		return ""
	}
	s, err := DecodeBCD(raw)
	if err != nil {
		r.err = err
	}
	return s
}

func (r *reader) text(n int) string {
	raw := r.bytes(n)
	if r.err != nil {
		return ""
	}
	s, err := decodeText(trimPadding(raw))
	if err != nil {
		r.err = err
	}
	return s
}

func (r *reader) time() time.Time {
	raw := r.bytes(6)
	if r.err != nil {
		return time.Time{}
	}
	t, err := decodeBCDTime(raw)
	if err != nil {
		r.err = err
	}
	return t
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func appendU16(dst []byte, v uint16) []byte { return binary.BigEndian.AppendUint16(dst, v) }
func appendU32(dst []byte, v uint32) []byte { return binary.BigEndian.AppendUint32(dst, v) }

// decodeBCDTime reads YY MM DD hh mm ss. All zeros means "no time".
func decodeBCDTime(b []byte) (time.Time, error) {
	digits, err := DecodeBCD(b)
	if err != nil {
		return time.Time{}, err
	}
	if digits == "000000000000" {
		return time.Time{}, nil
	}
	var f [6]int
	for i := range f {
		f[i] = int(digits[2*i]-'0')*10 + int(digits[2*i+1]-'0')
	}
	year, month, day, hour, minute, second := 2000+f[0], f[1], f[2], f[3], f[4], f[5]
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidTimestamp, digits)
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), nil
}

func appendBCDTime(dst []byte, t time.Time) ([]byte, error) {
	if t.IsZero() {
		return append(dst, 0, 0, 0, 0, 0, 0), nil
	}
	t = t.UTC()
	if t.Year() < 2000 || t.Year() > 2099 {
		return nil, fmt.Errorf("%w: year %d outside 2000-2099", ErrInvalidTimestamp, t.Year())
	}
	digits := fmt.Sprintf("%02d%02d%02d%02d%02d%02d",
		t.Year()-2000, int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	b, err := EncodeBCD(digits, 6)
	if err != nil {
		return nil, err
	}
	return append(dst, b...), nil
}
