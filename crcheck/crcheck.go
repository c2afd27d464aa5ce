package crcheck

import (
	"context"

	"github.com/FlavioCFOliveira/crcheck/internal/compare"
	"github.com/FlavioCFOliveira/crcheck/internal/device"
	"github.com/FlavioCFOliveira/crcheck/internal/harness"
	"github.com/FlavioCFOliveira/crcheck/internal/params"
	"github.com/FlavioCFOliveira/crcheck/internal/reference"
)

// Re-export common types for easier access
type (
	Descriptor = params.Descriptor
	Case       = harness.Case
	Result     = harness.Result
	Harness    = harness.Harness
	Backend    = device.Backend
	Tolerance  = compare.Tolerance
)

// Descriptors
func DefaultDescriptor() Descriptor {
	return params.Default()
}

func NewBuilder() *params.Builder {
	return params.NewBuilder()
}

// Backends
func Emulated(opts ...device.EmulatedOption) Backend {
	return device.NewEmulated(opts...)
}

func WebGPU() Backend {
	return device.NewWebGPU()
}

func DefaultBackend() Backend {
	return device.Default()
}

// Harness
func New(b Backend, opts ...harness.Option) *Harness {
	return harness.New(b, opts...)
}

func DefaultCases(base Descriptor) []Case {
	return harness.DefaultCases(base)
}

// Check runs the standard suite for base on b and returns the results.
func Check(ctx context.Context, b Backend, base Descriptor) ([]*Result, error) {
	return harness.New(b).RunAll(ctx, harness.DefaultCases(base))
}

// Reference model
func ConvForward(input, weights, bias, output []float32, d Descriptor) error {
	return reference.ConvForward(input, weights, bias, output, d)
}

func ConvBackward(input, gradOutput, weightGrad []float32, d Descriptor) error {
	return reference.ConvBackward(input, gradOutput, weightGrad, d)
}

func PoolForward(input, output []float32, argmax []uint16, d Descriptor) error {
	return reference.PoolForward(input, output, argmax, d)
}

func PoolBackward(grad []float32, argmax []uint16, gradInput []float32, d Descriptor) error {
	return reference.PoolBackward(grad, argmax, gradInput, d)
}

// Comparison
var DefaultTolerance = compare.Default

func ApproxEqual(expected, actual float64, tol Tolerance) bool {
	return compare.ApproxEqual(expected, actual, tol.Abs, tol.Rel)
}
