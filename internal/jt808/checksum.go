package jt808

// Checksum is the running XOR of b. On the wire it covers everything from the
// first byte of the message kind through the last body byte.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum ^= v
	}
	return sum
}

// VerifyChecksum reports whether claimed matches the checksum of b.
func VerifyChecksum(b []byte, claimed byte) bool {
	return Checksum(b) == claimed
}
