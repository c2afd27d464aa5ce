package compare

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestApproxEqual(t *testing.T) {
	tests := []struct {
		e, a float64
		want bool
	}{
		{1.0, 1.05, true},
		{100, 101.5, true},
		{1.0, 1.3, false},
		{0, 0.1, true},
		{0, 0.11, false},
		{-50, -54, true},
		{math.Inf(-1), math.Inf(-1), true},
		{math.Inf(-1), 0, false},
		{math.Inf(1), 1e4, false},
		{1e4, math.Inf(1), false},
		{math.Inf(1), math.Inf(-1), false},
		{math.NaN(), math.NaN(), false},
	}
	for _, tt := range tests {
		if got := ApproxEqual(tt.e, tt.a, Default.Abs, Default.Rel); got != tt.want {
			t.Errorf("ApproxEqual(%g, %g) = %v, expected %v", tt.e, tt.a, got, tt.want)
		}
	}
}

func TestFloatsPass(t *testing.T) {
	r, err := Floats("output", []float32{1, 2, 3, 4}, []float32{1, 2.05, 3, 4.25}, Default)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Passed() || r.Err() != nil {
		t.Fatalf("report failed: %v", r.Err())
	}
	if r.Count != 4 {
		t.Errorf("Count = %d, expected 4", r.Count)
	}
	if math.Abs(r.MaxAbsErr-0.25) > 1e-6 {
		t.Errorf("MaxAbsErr = %g, expected 0.25", r.MaxAbsErr)
	}
	if math.Abs(r.MeanAbsErr-0.075) > 1e-6 {
		t.Errorf("MeanAbsErr = %g, expected 0.075", r.MeanAbsErr)
	}
	if r.P99AbsErr > r.MaxAbsErr {
		t.Errorf("P99AbsErr %g above MaxAbsErr %g", r.P99AbsErr, r.MaxAbsErr)
	}
}

func TestFloatsAccumulatesEveryMismatch(t *testing.T) {
	expected := make([]float32, 30)
	actual := make([]float32, 30)
	for i := range actual {
		if i%2 == 1 {
			actual[i] = 1
		}
	}

	r, err := Floats("output", expected, actual, Default)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Mismatches) != 15 {
		t.Fatalf("%d mismatches, expected 15", len(r.Mismatches))
	}
	if diff := cmp.Diff(Mismatch{Index: 29, Expected: 0, Actual: 1}, r.Mismatches[14]); diff != "" {
		t.Errorf("last mismatch (-want +got):\n%s", diff)
	}

	err = r.Err()
	if err == nil {
		t.Fatal("Err() = nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "15 of 30") || !strings.Contains(msg, "[1] expected 0, actual 1") {
		t.Errorf("unexpected message %q", msg)
	}
	if strings.Contains(msg, "[21]") {
		t.Errorf("message lists more than the first mismatches: %q", msg)
	}
}

func TestFloatsEmptyWindow(t *testing.T) {
	ninf := float32(math.Inf(-1))
	r, err := Floats("output", []float32{ninf, ninf, ninf}, []float32{5, -1e4, ninf}, Default)
	if err != nil {
		t.Fatal(err)
	}
	want := []Mismatch{
		{Index: 0, Expected: math.Inf(-1), Actual: 5},
		{Index: 1, Expected: math.Inf(-1), Actual: -1e4},
	}
	if diff := cmp.Diff(want, r.Mismatches); diff != "" {
		t.Errorf("mismatches (-want +got):\n%s", diff)
	}
	if !math.IsInf(r.MaxAbsErr, 1) {
		t.Errorf("MaxAbsErr = %g, expected +Inf", r.MaxAbsErr)
	}
}

func TestFloatsLength(t *testing.T) {
	if _, err := Floats("output", []float32{1}, nil, Default); !errors.Is(err, ErrLength) {
		t.Errorf("Floats() = %v, expected ErrLength", err)
	}
	if _, err := Indices("argmax", []uint16{1}, []uint16{1, 2}); !errors.Is(err, ErrLength) {
		t.Errorf("Indices() = %v, expected ErrLength", err)
	}
}

func TestFloatsEmpty(t *testing.T) {
	r, err := Floats("output", nil, nil, Default)
	if err != nil || !r.Passed() {
		t.Errorf("Floats(nil, nil) = %+v, %v", r, err)
	}
}

func TestIndices(t *testing.T) {
	r, err := Indices("argmax", []uint16{0, 4, 8, 2}, []uint16{0, 4, 7, 2})
	if err != nil {
		t.Fatal(err)
	}
	want := []IndexMismatch{{Index: 2, Expected: 8, Actual: 7}}
	if diff := cmp.Diff(want, r.Mismatches); diff != "" {
		t.Errorf("mismatches (-want +got):\n%s", diff)
	}
	if r.Err() == nil {
		t.Error("Err() = nil for differing codes")
	}
}
