package half

import (
	"math"
	"testing"
)

func TestExactValuesSurvive(t *testing.T) {
	values := []float32{0, 1, -1, 0.5, 2, 1024, -0.25, 65504}
	back := ToFull(ToReduced(values))
	for i, v := range values {
		if back[i] != v {
			t.Errorf("value %d: got %f, want %f", i, back[i], v)
		}
	}
}

func TestRoundingIsBounded(t *testing.T) {
	for i := 1; i < 2000; i++ {
		v := float32(i) * 0.0137
		r := Round(v)
		if rel := math.Abs(float64(r-v)) / float64(v); rel > RelativeError {
			t.Errorf("Round(%f) = %f, relative error %g > %g", v, r, rel, RelativeError)
		}
	}
}

func TestKnownEncodings(t *testing.T) {
	bits := Bits(ToReduced([]float32{1, 2, 3, -2}))
	want := []uint16{0x3C00, 0x4000, 0x4200, 0xC000}
	for i := range want {
		if bits[i] != want[i] {
			t.Errorf("bits[%d] = %#04x, want %#04x", i, bits[i], want[i])
		}
	}

	full := ToFull(FromBits(want))
	if full[2] != 3 {
		t.Errorf("FromBits(0x4200) = %f, want 3", full[2])
	}
}

func TestRoundSliceIsIdempotent(t *testing.T) {
	buf := []float32{0.1, 0.2, 0.3, 1.0 / 3}
	RoundSlice(buf)
	again := append([]float32(nil), buf...)
	RoundSlice(again)
	for i := range buf {
		if buf[i] != again[i] {
			t.Errorf("element %d changed on second rounding: %f -> %f", i, buf[i], again[i])
		}
	}
}
