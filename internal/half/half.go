// Package half converts tensors between full precision and the IEEE 754
// binary16 representation the device consumes.
//
// Conversion rounds to nearest even. binary16 keeps 11 significant bits, so
// the relative rounding error of a normal value is at most 2^-11.
package half

import "github.com/x448/float16"

// Float16 is one reduced-precision element.
type Float16 = float16.Float16

// RelativeError is the largest relative rounding error of a normal value.
const RelativeError = 1.0 / 2048

// Round returns v rounded to the nearest binary16 value.
func Round(v float32) float32 {
	return float16.Fromfloat32(v).Float32()
}

// RoundSlice rounds every element of buf in place.
func RoundSlice(buf []float32) {
	for i, v := range buf {
		buf[i] = Round(v)
	}
}

// ToReduced converts a full-precision tensor to binary16.
func ToReduced(src []float32) []Float16 {
	dst := make([]Float16, len(src))
	for i, v := range src {
		dst[i] = float16.Fromfloat32(v)
	}
	return dst
}

// ToFull converts a binary16 tensor to full precision.
func ToFull(src []Float16) []float32 {
	dst := make([]float32, len(src))
	for i, v := range src {
		dst[i] = v.Float32()
	}
	return dst
}

// Bits returns the raw binary16 encodings of src.
func Bits(src []Float16) []uint16 {
	dst := make([]uint16, len(src))
	for i, v := range src {
		dst[i] = v.Bits()
	}
	return dst
}

// FromBits wraps raw binary16 encodings.
func FromBits(src []uint16) []Float16 {
	dst := make([]Float16, len(src))
	for i, b := range src {
		dst[i] = float16.Frombits(b)
	}
	return dst
}
