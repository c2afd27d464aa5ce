package harness

import (
	"math/rand/v2"
	"time"

	"github.com/FlavioCFOliveira/crcheck/internal/compare"
	"github.com/FlavioCFOliveira/crcheck/internal/device"
	"github.com/FlavioCFOliveira/crcheck/internal/half"
	"github.com/FlavioCFOliveira/crcheck/internal/layout"
	"github.com/FlavioCFOliveira/crcheck/internal/params"
	"github.com/FlavioCFOliveira/crcheck/internal/reference"
	"github.com/FlavioCFOliveira/crcheck/internal/tensor"
)

// ArgmaxMode selects how backward pooling cases build their argmax codes.
type ArgmaxMode int

const (
	// ArgmaxPinned uses code zero everywhere except element 0, which gets
	// Case.FirstCode.
	ArgmaxPinned ArgmaxMode = iota
	// ArgmaxRandom draws a valid in-window offset for every element.
	ArgmaxRandom
)

func (m ArgmaxMode) String() string {
	if m == ArgmaxRandom {
		return "random"
	}
	return "pinned"
}

// Ranges are the fill intervals of the argument streams. In backward
// convolution Weights is the upstream gradient; in backward pooling Input
// is.
type Ranges struct {
	Input   tensor.Range
	Weights tensor.Range
	Bias    tensor.Range
}

// Case is one differential test.
type Case struct {
	Name   string
	Params params.Descriptor
	Seed   uint64
	// Tol is the output tolerance; nil uses compare.Default. A zero
	// Tolerance demands exact agreement.
	Tol    *compare.Tolerance
	Ranges Ranges

	Argmax    ArgmaxMode
	FirstCode uint16

	// Timeout bounds the device wait; zero uses the harness default.
	Timeout time.Duration
}

// DefaultCases returns the standard suite derived from base: forward and
// backward convolution, and forward and backward pooling with 2x2 and 3x3
// windows.
func DefaultCases(base params.Descriptor) []Case {
	fwd := base.WithForward()
	fwd.Pool = false
	return []Case{
		{
			Name:   "conv-forward",
			Params: fwd,
			Seed:   1,
			Ranges: Ranges{Input: tensor.Range{Lo: 0, Hi: 1}, Weights: tensor.Range{Lo: -1, Hi: 1}, Bias: tensor.Range{Lo: -1, Hi: 1}},
		},
		{
			Name:   "conv-backward",
			Params: fwd.WithBackward(),
			Seed:   2,
			Ranges: Ranges{Input: tensor.Range{Lo: -1, Hi: 1}, Weights: tensor.Range{Lo: 0, Hi: 1}},
		},
		{
			// Values this small round to a handful of binary16 subnormals,
			// so most windows hold ties.
			Name:   "pool2-forward",
			Params: fwd.WithPool(2),
			Seed:   3,
			Ranges: Ranges{Input: tensor.Range{Lo: -1e-7, Hi: 1e-7}},
		},
		{
			Name:   "pool2-backward",
			Params: fwd.WithPool(2).WithBackward(),
			Seed:   4,
			Ranges: Ranges{Input: tensor.Range{Lo: 0, Hi: 1}},
			Argmax: ArgmaxPinned,
		},
		{
			Name:   "pool3-forward",
			Params: fwd.WithPool(3),
			Seed:   5,
			Ranges: Ranges{Input: tensor.Range{Lo: 0, Hi: 1}},
		},
		{
			Name:      "pool3-backward",
			Params:    fwd.WithPool(3).WithBackward(),
			Seed:      6,
			Ranges:    Ranges{Input: tensor.Range{Lo: 0, Hi: 1}},
			Argmax:    ArgmaxPinned,
			FirstCode: 2,
		},
	}
}

// inputs are the host tensors of a case in full precision. Every value is
// already representable in binary16.
type inputs struct {
	input, weights, bias []float32
	aux                  []uint16
}

// fill builds the host tensors for c. Streams draw from independent
// sources so that changing one range leaves the others unchanged.
func (c Case) fill() *inputs {
	d := c.Params
	sz := d.Sizes()
	in := &inputs{
		input:   tensor.Uniform(sz.Input, c.Ranges.Input, tensor.Source(c.Seed)),
		weights: tensor.Uniform(sz.Weights, c.Ranges.Weights, tensor.Source(c.Seed+1<<32)),
		bias:    tensor.Uniform(sz.Bias, c.Ranges.Bias, tensor.Source(c.Seed+2<<32)),
		aux:     make([]uint16, sz.Aux),
	}
	if d.Pool && d.Backward {
		switch c.Argmax {
		case ArgmaxRandom:
			r := rand.New(tensor.Source(c.Seed + 3<<32))
			for i := range in.aux {
				in.aux[i] = layout.EncodeArgmax(r.IntN(d.PKSize), r.IntN(d.PKSize))
			}
		default:
			if len(in.aux) > 0 {
				in.aux[0] = c.FirstCode
			}
		}
	}
	return in
}

// device converts the host tensors to kernel arguments.
func (in *inputs) device() *device.Buffers {
	return &device.Buffers{
		Input:   half.ToReduced(in.input),
		Weights: half.ToReduced(in.weights),
		Bias:    half.ToReduced(in.bias),
		Aux:     append([]uint16(nil), in.aux...),
	}
}

type expected struct {
	output []float32
	aux    []uint16
	err    error
}

// reference computes what the device must produce for d.
func (in *inputs) reference(d params.Descriptor) expected {
	sz := d.Sizes()
	out := make([]float32, sz.Output)
	switch {
	case d.Pool && d.Backward:
		err := reference.PoolBackward(in.input, in.aux, out, d)
		return expected{output: out, aux: in.aux, err: err}
	case d.Pool:
		codes := make([]uint16, sz.Aux)
		err := reference.PoolForward(in.input, out, codes, d)
		return expected{output: out, aux: codes, err: err}
	case d.Backward:
		err := reference.ConvBackward(in.input, in.weights, out, d)
		return expected{output: out, err: err}
	default:
		if err := reference.ConvForward(in.input, in.weights, in.bias, out, d); err != nil {
			return expected{err: err}
		}
		var mask []uint16
		if d.Relu {
			mask = reference.Rectify(out)
		}
		return expected{output: out, aux: mask}
	}
}
