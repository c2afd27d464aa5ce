package reference

import (
	"github.com/FlavioCFOliveira/crcheck/internal/layout"
	"github.com/FlavioCFOliveira/crcheck/internal/params"
)

// ConvForward computes the grouped convolution of input with the
// lane-interleaved weights plus bias into output.
//
// Output spatial extent equals the input extent; input positions outside
// the map contribute nothing (implicit zero padding).
func ConvForward(input, weights, bias, output []float32, d params.Descriptor) error {
	for g := 0; g < d.NumGroups; g++ {
		if err := ConvForwardGroup(input, weights, bias, output, d, g); err != nil {
			return err
		}
	}
	return nil
}

// ConvForwardGroup computes the output channels of group g only.
func ConvForwardGroup(input, weights, bias, output []float32, d params.Descriptor, g int) error {
	if err := convDescriptor(d); err != nil {
		return err
	}
	if err := checkGroup(d, g); err != nil {
		return err
	}
	in, out, wl := layout.Input(d), layout.Output(d), layout.WeightsOf(d)
	if err := checkLen("input", len(input), in.Len()); err != nil {
		return err
	}
	if err := checkLen("weights", len(weights), wl.Len()); err != nil {
		return err
	}
	if err := checkLen("bias", len(bias), d.TotalOutChannels()); err != nil {
		return err
	}
	if err := checkLen("output", len(output), out.Len()); err != nil {
		return err
	}

	oHead := d.OutChannels * g
	kHead := d.InChannels * g
	ksize := d.KSize
	stride := d.Stride
	pad := d.Pad
	inChannels := d.InChannels

	split(d.NumImages, func(_, start, end int) {
		for n := start; n < end; n++ {
			for o := 0; o < d.OutChannels; o++ {
				oc := o + oHead
				for y := 0; y < d.YDim; y++ {
					for x := 0; x < d.XDim; x++ {
						sum := 0.0
						for p := 0; p < ksize; p++ {
							inY := y*stride - pad + p
							if inY < 0 || inY >= d.YDim {
								continue
							}
							for q := 0; q < ksize; q++ {
								inX := x*stride - pad + q
								if inX < 0 || inX >= d.XDim {
									continue
								}
								for c := 0; c < inChannels; c++ {
									sum += float64(weights[wl.Index(oc, p, q, c)]) *
										float64(input[in.Index(inY, inX, c+kHead, n)])
								}
							}
						}
						output[out.Index(y, x, oc, n)] = float32(sum + float64(bias[oc]))
					}
				}
			}
		}
	})
	return nil
}

// ConvBackward computes the weight gradient of the convolution from input
// and the upstream gradient gradOutput, in the physical weight layout.
// No bias gradient is produced.
//
// Output positions are the outer spatial loop and kernel offsets the inner
// one; the input position is offset*stride - pad + position.
func ConvBackward(input, gradOutput, weightGrad []float32, d params.Descriptor) error {
	for g := 0; g < d.NumGroups; g++ {
		if err := ConvBackwardGroup(input, gradOutput, weightGrad, d, g); err != nil {
			return err
		}
	}
	return nil
}

// ConvBackwardGroup computes the weight gradient rows of group g only.
func ConvBackwardGroup(input, gradOutput, weightGrad []float32, d params.Descriptor, g int) error {
	if err := convDescriptor(d); err != nil {
		return err
	}
	if err := checkGroup(d, g); err != nil {
		return err
	}
	in, out, wl := layout.Input(d), layout.Output(d), layout.WeightsOf(d)
	if err := checkLen("input", len(input), in.Len()); err != nil {
		return err
	}
	if err := checkLen("gradOutput", len(gradOutput), out.Len()); err != nil {
		return err
	}
	if err := checkLen("weightGrad", len(weightGrad), wl.Len()); err != nil {
		return err
	}

	oHead := d.OutChannels * g
	kHead := d.InChannels * g
	ksize := d.KSize
	stride := d.Stride
	pad := d.Pad
	inChannels := d.InChannels

	// Every image contributes to every gradient cell, so each worker owns
	// a private accumulator.
	local := layout.Weights{O: d.OutChannels, K: ksize, KG: inChannels}
	partials := make([][]float64, workers(d.NumImages))

	split(d.NumImages, func(chunk, start, end int) {
		acc := make([]float64, local.Len())
		for n := start; n < end; n++ {
			for o := 0; o < d.OutChannels; o++ {
				for py := 0; py < d.YDim; py++ {
					for px := 0; px < d.XDim; px++ {
						grad := float64(gradOutput[out.Index(py, px, o+oHead, n)])
						for ky := 0; ky < ksize; ky++ {
							inY := ky*stride - pad + py
							if inY < 0 || inY >= d.YDim {
								continue
							}
							for kx := 0; kx < ksize; kx++ {
								inX := kx*stride - pad + px
								if inX < 0 || inX >= d.XDim {
									continue
								}
								base := local.LogicalIndex(o, ky, kx, 0)
								for c := 0; c < inChannels; c++ {
									acc[base+c] += grad * float64(input[in.Index(inY, inX, c+kHead, n)])
								}
							}
						}
					}
				}
			}
		}
		partials[chunk] = acc
	})

	for o := 0; o < d.OutChannels; o++ {
		for ky := 0; ky < ksize; ky++ {
			for kx := 0; kx < ksize; kx++ {
				for c := 0; c < inChannels; c++ {
					idx := local.LogicalIndex(o, ky, kx, c)
					sum := 0.0
					for _, acc := range partials {
						if acc != nil {
							sum += acc[idx]
						}
					}
					weightGrad[wl.Index(o+oHead, ky, kx, c)] = float32(sum)
				}
			}
		}
	}
	return nil
}
