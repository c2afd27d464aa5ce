package reference

import (
	"fmt"
	"math"

	"github.com/FlavioCFOliveira/crcheck/internal/layout"
	"github.com/FlavioCFOliveira/crcheck/internal/params"
)

// PoolForward max-pools input with a PKSize window and stride 2 into output
// and records, per output element, the argmax code of the first maximum in
// row-major window order.
func PoolForward(input, output []float32, argmax []uint16, d params.Descriptor) error {
	for g := 0; g < d.NumGroups; g++ {
		if err := PoolForwardGroup(input, output, argmax, d, g); err != nil {
			return err
		}
	}
	return nil
}

// PoolForwardGroup pools the channels of group g only.
func PoolForwardGroup(input, output []float32, argmax []uint16, d params.Descriptor, g int) error {
	if err := poolDescriptor(d); err != nil {
		return err
	}
	if err := checkGroup(d, g); err != nil {
		return err
	}
	in, out := layout.Input(d), layout.Pooled(d)
	if err := checkLen("input", len(input), in.Len()); err != nil {
		return err
	}
	if err := checkLen("output", len(output), out.Len()); err != nil {
		return err
	}
	if err := checkLen("argmax", len(argmax), out.Len()); err != nil {
		return err
	}

	pooled := out.H
	cHead := d.InChannels * g
	negInf := float32(math.Inf(-1))

	split(d.NumImages, func(_, start, end int) {
		for n := start; n < end; n++ {
			for c := cHead; c < cHead+d.InChannels; c++ {
				for ph := 0; ph < pooled; ph++ {
					for pw := 0; pw < pooled; pw++ {
						hstart := ph * params.PoolStride
						wstart := pw * params.PoolStride
						hend := min(hstart+d.PKSize, d.YDim)
						wend := min(wstart+d.PKSize, d.XDim)

						top := out.Index(ph, pw, c, n)
						best := negInf
						code := uint16(0)
						for h := hstart; h < hend; h++ {
							for w := wstart; w < wend; w++ {
								if v := input[in.Index(h, w, c, n)]; v > best {
									best = v
									code = layout.EncodeArgmax(h-hstart, w-wstart)
								}
							}
						}
						output[top] = best
						argmax[top] = code
					}
				}
			}
		}
	})
	return nil
}

// PoolBackward routes each pooled gradient to the input position named by
// its argmax code. gradInput is overwritten; positions no code names are
// zero. Codes that decode outside the input map are dropped.
//
// Contributions are accumulated, so overlapping windows (PKSize 3) that
// name the same input position sum.
func PoolBackward(grad []float32, argmax []uint16, gradInput []float32, d params.Descriptor) error {
	for g := 0; g < d.NumGroups; g++ {
		if err := PoolBackwardGroup(grad, argmax, gradInput, d, g); err != nil {
			return err
		}
	}
	return nil
}

// PoolBackwardGroup scatters the gradients of group g only.
func PoolBackwardGroup(grad []float32, argmax []uint16, gradInput []float32, d params.Descriptor, g int) error {
	if err := poolDescriptor(d); err != nil {
		return err
	}
	if err := checkGroup(d, g); err != nil {
		return err
	}
	in, out := layout.Input(d), layout.Pooled(d)
	if err := checkLen("grad", len(grad), out.Len()); err != nil {
		return err
	}
	if err := checkLen("argmax", len(argmax), out.Len()); err != nil {
		return err
	}
	if err := checkLen("gradInput", len(gradInput), in.Len()); err != nil {
		return err
	}

	pooled := out.H
	cHead := d.InChannels * g

	// Validate every code of the group before touching gradInput.
	for n := 0; n < d.NumImages; n++ {
		for c := cHead; c < cHead+d.InChannels; c++ {
			for ph := 0; ph < pooled; ph++ {
				for pw := 0; pw < pooled; pw++ {
					idx := out.Index(ph, pw, c, n)
					if argmax[idx] >= layout.MaxArgmaxCode {
						return fmt.Errorf("%w: %d at element %d", ErrArgmaxCode, argmax[idx], idx)
					}
				}
			}
		}
	}

	// Images never share input positions, so chunks are independent.
	split(d.NumImages, func(_, start, end int) {
		for n := start; n < end; n++ {
			for c := cHead; c < cHead+d.InChannels; c++ {
				for h := 0; h < d.YDim; h++ {
					for w := 0; w < d.XDim; w++ {
						gradInput[in.Index(h, w, c, n)] = 0
					}
				}
				for ph := 0; ph < pooled; ph++ {
					for pw := 0; pw < pooled; pw++ {
						idx := out.Index(ph, pw, c, n)
						row, col := layout.DecodeArgmax(argmax[idx])
						h := ph*params.PoolStride + row
						w := pw*params.PoolStride + col
						if h >= d.YDim || w >= d.XDim {
							continue
						}
						gradInput[in.Index(h, w, c, n)] += grad[idx]
					}
				}
			}
		}
	})
	return nil
}
