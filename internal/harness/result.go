package harness

import (
	"errors"
	"time"

	"github.com/FlavioCFOliveira/crcheck/internal/compare"
)

// Result is the outcome of one case that ran to completion.
type Result struct {
	Case    Case
	Backend string

	Output compare.Report
	// Argmax is set for forward pooling, whose codes must match exactly.
	Argmax *compare.IndexReport

	Expected    []float32
	Actual      []float32
	ExpectedAux []uint16
	ActualAux   []uint16

	Elapsed time.Duration
}

// Passed reports whether every compared element agreed.
func (r *Result) Passed() bool {
	return r.Output.Passed() && (r.Argmax == nil || r.Argmax.Passed())
}

// Err returns nil for a passing result, otherwise the mismatch summary.
func (r *Result) Err() error {
	var errs []error
	if err := r.Output.Err(); err != nil {
		errs = append(errs, err)
	}
	if r.Argmax != nil {
		if err := r.Argmax.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Result) status() string {
	if r.Passed() {
		return "PASS"
	}
	return "FAIL"
}

func (r *Result) mismatches() int {
	n := len(r.Output.Mismatches)
	if r.Argmax != nil {
		n += len(r.Argmax.Mismatches)
	}
	return n
}
