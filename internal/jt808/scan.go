package jt808

import "bytes"

// ScanFrames is a bufio.SplitFunc yielding one delimiter-wrapped frame per
// token, ready for Decode. Bytes before the first delimiter are skipped.
// A delimiter never appears inside escaped content, so the next 0x7E always
// closes the frame. Back-to-back delimiters (7E 7E) are treated as the end of
// one frame followed by the start of another, and an empty pair is dropped.
// An unterminated frame at EOF is discarded.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.IndexByte(data, FrameDelimiter)
	if start < 0 {
		return len(data), nil, nil
	}
	for {
		end := bytes.IndexByte(data[start+1:], FrameDelimiter)
		if end < 0 {
			if atEOF {
				return len(data), nil, nil
			}
			return start, nil, nil
		}
		end += start + 1
		if end == start+1 {
			// 7E 7E: the second delimiter opens the next frame.
			start = end
			continue
		}
		return end + 1, data[start : end+1], nil
	}
}
