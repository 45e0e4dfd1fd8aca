package jt808

import (
	"bufio"
	"bytes"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanAll(t *testing.T, r *bufio.Scanner) [][]byte {
	t.Helper()
	var frames [][]byte
	for r.Scan() {
		frames = append(frames, append([]byte(nil), r.Bytes()...))
	}
	require.NoError(t, r.Err())
	return frames
}

func TestScanFrames(t *testing.T) {
	a := wire(t, "7e 00 01 00 05 62 80 76 84 23 34 00 01 00 01 91 01 00 93 7e")
	b := wire(t, locationFrame)

	tt := []struct {
		desc   string
		stream []byte
		want   [][]byte
	}{
		{desc: "single", stream: a, want: [][]byte{a}},
		{desc: "back to back", stream: append(append([]byte{}, a...), b...), want: [][]byte{a, b}},
		{desc: "leading garbage", stream: append([]byte{0x00, 0x11, 0x22}, a...), want: [][]byte{a}},
		{desc: "empty pair", stream: append([]byte{0x7E, 0x7E}, a[1:]...), want: [][]byte{a}},
		{desc: "incomplete tail", stream: append(append([]byte{}, a...), 0x7E, 0x02, 0x00), want: [][]byte{a}},
		{desc: "nothing", stream: []byte{0x01, 0x02}, want: nil},
	}

	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			s := bufio.NewScanner(bytes.NewReader(tc.stream))
			s.Split(ScanFrames)
			assert.Equal(t, tc.want, scanAll(t, s))
		})
	}
}

func TestScanFramesByteByByte(t *testing.T) {
	a := wire(t, locationFrame)
	b, err := Encode(NewMessage(KindPlatformResponse, "13912345678", 1,
		GeneralResponse{ReplySerial: 0x7E7D, ReplyKind: KindLocationReport}))
	require.NoError(t, err)

	stream := append(append([]byte{}, a...), b...)
	s := bufio.NewScanner(iotest.OneByteReader(bytes.NewReader(stream)))
	s.Split(ScanFrames)

	frames := scanAll(t, s)
	require.Len(t, frames, 2)
	for _, f := range frames {
		_, err := Decode(f)
		assert.NoError(t, err)
	}
}
