// Package compare checks device results against reference results element
// by element.
package compare

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrLength is returned when the two streams being compared differ in length.
var ErrLength = errors.New("compare: length mismatch")

// maxListed bounds how many mismatches Err spells out.
const maxListed = 10

// Tolerance is an absolute and a relative bound; a value passes if it is
// within either one.
type Tolerance struct {
	Abs float64
	Rel float64
}

// Default is the tolerance of the standard suite.
var Default = Tolerance{Abs: 0.1, Rel: 0.1}

// ApproxEqual reports whether |expected-actual| <= absTol or
// |expected-actual| <= relTol*|expected|. Equal infinities pass; NaN never
// does.
func ApproxEqual(expected, actual, absTol, relTol float64) bool {
	if expected == actual {
		return true
	}
	if math.IsInf(expected, 0) || math.IsInf(actual, 0) {
		return false
	}
	diff := math.Abs(expected - actual)
	return diff <= absTol || diff <= relTol*math.Abs(expected)
}

// Mismatch is one element that failed the check.
type Mismatch struct {
	Index    int
	Expected float64
	Actual   float64
}

// Report is the outcome of comparing a float stream.
type Report struct {
	Name       string
	Count      int
	Tol        Tolerance
	Mismatches []Mismatch
	MaxAbsErr  float64
	MeanAbsErr float64
	P99AbsErr  float64
}

// Passed reports whether every element was within tolerance.
func (r Report) Passed() bool { return len(r.Mismatches) == 0 }

// Err returns nil if the report passed, otherwise an error naming the first
// few mismatching elements.
func (r Report) Err() error {
	if r.Passed() {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d elements outside tolerance (abs %g, rel %g)",
		r.Name, len(r.Mismatches), r.Count, r.Tol.Abs, r.Tol.Rel)
	for i, m := range r.Mismatches {
		if i == maxListed {
			fmt.Fprintf(&b, "; ...")
			break
		}
		fmt.Fprintf(&b, "; [%d] expected %g, actual %g", m.Index, m.Expected, m.Actual)
	}
	return errors.New(b.String())
}

// Floats compares every element of actual against expected under tol and
// records all mismatches along with the absolute error distribution.
func Floats(name string, expected, actual []float32, tol Tolerance) (Report, error) {
	if len(expected) != len(actual) {
		return Report{}, fmt.Errorf("%w: %s expected %d elements, actual %d", ErrLength, name, len(expected), len(actual))
	}

	r := Report{Name: name, Count: len(expected), Tol: tol}
	if len(expected) == 0 {
		return r, nil
	}

	errs := make([]float64, len(expected))
	for i := range expected {
		e, a := float64(expected[i]), float64(actual[i])
		errs[i] = absErr(e, a)
		if !ApproxEqual(e, a, tol.Abs, tol.Rel) {
			r.Mismatches = append(r.Mismatches, Mismatch{Index: i, Expected: e, Actual: a})
		}
	}

	r.MaxAbsErr = floats.Max(errs)
	r.MeanAbsErr = stat.Mean(errs, nil)
	sort.Float64s(errs)
	r.P99AbsErr = stat.Quantile(0.99, stat.Empirical, errs, nil)
	return r, nil
}

// absErr treats two equal infinities as exact and anything involving NaN as
// an infinite error, so the statistics stay ordered.
func absErr(e, a float64) float64 {
	if e == a {
		return 0
	}
	d := math.Abs(e - a)
	if math.IsNaN(d) {
		return math.Inf(1)
	}
	return d
}

// IndexMismatch is one argmax code that differed.
type IndexMismatch struct {
	Index    int
	Expected uint16
	Actual   uint16
}

// IndexReport is the outcome of comparing an index stream exactly.
type IndexReport struct {
	Name       string
	Count      int
	Mismatches []IndexMismatch
}

// Passed reports whether both streams were identical.
func (r IndexReport) Passed() bool { return len(r.Mismatches) == 0 }

// Err returns nil if the report passed, otherwise an error naming the first
// few differing codes.
func (r IndexReport) Err() error {
	if r.Passed() {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d codes differ", r.Name, len(r.Mismatches), r.Count)
	for i, m := range r.Mismatches {
		if i == maxListed {
			fmt.Fprintf(&b, "; ...")
			break
		}
		fmt.Fprintf(&b, "; [%d] expected %d, actual %d", m.Index, m.Expected, m.Actual)
	}
	return errors.New(b.String())
}

// Indices compares two code streams for exact equality.
func Indices(name string, expected, actual []uint16) (IndexReport, error) {
	if len(expected) != len(actual) {
		return IndexReport{}, fmt.Errorf("%w: %s expected %d codes, actual %d", ErrLength, name, len(expected), len(actual))
	}
	r := IndexReport{Name: name, Count: len(expected)}
	for i := range expected {
		if expected[i] != actual[i] {
			r.Mismatches = append(r.Mismatches, IndexMismatch{Index: i, Expected: expected[i], Actual: actual[i]})
		}
	}
	return r, nil
}
