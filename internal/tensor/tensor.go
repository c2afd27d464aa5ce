// Package tensor fills test tensors with reproducible values that are exactly
// representable in half precision.
package tensor

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/FlavioCFOliveira/crcheck/internal/half"
)

// Range is a closed-open interval of fill values.
type Range struct {
	Lo, Hi float64
}

// Source returns a deterministic random source for seed.
func Source(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// Uniform returns n values drawn from r, rounded to half precision so the
// reference sees the same values as the device.
func Uniform(n int, r Range, src rand.Source) []float32 {
	buf := make([]float32, n)
	Fill(buf, r, src)
	return buf
}

// Fill overwrites buf with half-rounded values drawn from r.
func Fill(buf []float32, r Range, src rand.Source) {
	if r.Lo == r.Hi {
		v := half.Round(float32(r.Lo))
		for i := range buf {
			buf[i] = v
		}
		return
	}
	dist := distuv.Uniform{Min: r.Lo, Max: r.Hi, Src: src}
	for i := range buf {
		buf[i] = half.Round(float32(dist.Rand()))
	}
}

// Zeros returns n zero values.
func Zeros(n int) []float32 {
	return make([]float32, n)
}

// Constant returns n copies of v.
func Constant(n int, v float32) []float32 {
	buf := make([]float32, n)
	for i := range buf {
		buf[i] = v
	}
	return buf
}
