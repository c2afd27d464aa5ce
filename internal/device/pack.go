package device

// packWords stores 16-bit words two per 32-bit word, low half first, the
// way a little-endian device sees a []uint16.
func packWords(src []uint16) []uint32 {
	dst := make([]uint32, (len(src)+1)/2)
	for i, v := range src {
		dst[i/2] |= uint32(v) << (16 * (i % 2))
	}
	return dst
}

// unpackWords is the inverse of packWords for the first n halves.
func unpackWords(src []uint32, n int) []uint16 {
	dst := make([]uint16, n)
	for i := range dst {
		dst[i] = uint16(src[i/2] >> (16 * (i % 2)))
	}
	return dst
}
