package layout

// ArgmaxStride is the row multiplier of pooling argmax codes. It is 3 for
// every pooling window size; the device uses the same constant.
const ArgmaxStride = 3

// MaxArgmaxCode is one past the largest valid argmax code.
const MaxArgmaxCode = ArgmaxStride * ArgmaxStride

// EncodeArgmax returns the code of in-window offset (row, col).
func EncodeArgmax(row, col int) uint16 {
	return uint16(row*ArgmaxStride + col)
}

// DecodeArgmax returns the in-window offset of code.
func DecodeArgmax(code uint16) (row, col int) {
	return int(code) / ArgmaxStride, int(code) % ArgmaxStride
}

// MaskWords returns the number of 16-bit words holding n mask bits.
func MaskWords(n int) int {
	return (n + 15) / 16
}

// PackMask packs one flag per element, 16 per word, element j at bit j%16
// of word j/16.
func PackMask(flags []bool) []uint16 {
	words := make([]uint16, MaskWords(len(flags)))
	for j, f := range flags {
		if f {
			words[j/16] |= 1 << (j % 16)
		}
	}
	return words
}

// MaskBit returns the flag of element j.
func MaskBit(words []uint16, j int) bool {
	return (words[j/16]>>(j%16))&0x1 == 1
}

// UnpackMask expands the first n flags of words.
func UnpackMask(words []uint16, n int) []bool {
	flags := make([]bool, n)
	for j := range flags {
		flags[j] = MaskBit(words, j)
	}
	return flags
}
