// Package layout holds the memory layouts shared by the reference engine and
// the device: HWCN feature maps, the lane-interleaved weight tensor, the
// bit-packed rectification mask and the pooling argmax codes.
package layout

import (
	"fmt"

	"github.com/FlavioCFOliveira/crcheck/internal/params"
)

// HWCN addresses a feature map whose fastest axis is the image index.
type HWCN struct {
	H, W, C, N int
}

// Index returns the address of element (y, x, c, n).
func (t HWCN) Index(y, x, c, n int) int {
	return ((y*t.W+x)*t.C+c)*t.N + n
}

// Len returns the element count.
func (t HWCN) Len() int {
	return t.H * t.W * t.C * t.N
}

// Input returns the layout of the full-size input map of d.
func Input(d params.Descriptor) HWCN {
	return HWCN{H: d.YDim, W: d.XDim, C: d.TotalInChannels(), N: d.NumImages}
}

// Output returns the layout of the convolution output map of d.
func Output(d params.Descriptor) HWCN {
	return HWCN{H: d.YDim, W: d.XDim, C: d.TotalOutChannels(), N: d.NumImages}
}

// Pooled returns the layout of the pooled map of d.
func Pooled(d params.Descriptor) HWCN {
	p := d.PooledDim()
	return HWCN{H: p, W: p, C: d.TotalInChannels(), N: d.NumImages}
}

// Weights addresses the physical weight tensor.
//
// Input channel c of a group is split into lane m = c / (k_g/4) and slot
// k = c % (k_g/4); it is stored at k*4 + m inside each (o, p, q) row.
type Weights struct {
	O, K, KG int
}

// WeightsOf returns the weight layout of d.
func WeightsOf(d params.Descriptor) Weights {
	return Weights{O: d.TotalOutChannels(), K: d.KSize, KG: d.InChannels}
}

// Index returns the physical address of logical element (o, p, q, c), with o
// counted over all groups and c local to the group.
func (w Weights) Index(o, p, q, c int) int {
	sub := w.KG / params.Lanes
	m, k := c/sub, c%sub
	return ((o*w.K+p)*w.K+q)*w.KG + k*params.Lanes + m
}

// LogicalIndex returns the address of (o, p, q, c) in the plain
// [O, K, K, k_g] tensor.
func (w Weights) LogicalIndex(o, p, q, c int) int {
	return ((o*w.K+p)*w.K+q)*w.KG + c
}

// Len returns the element count.
func (w Weights) Len() int {
	return w.O * w.K * w.K * w.KG
}

// InterleaveWeights converts a logical [O, K, K, k_g] tensor into the
// physical lane-interleaved layout.
func InterleaveWeights(logical []float32, w Weights) ([]float32, error) {
	if len(logical) != w.Len() {
		return nil, fmt.Errorf("layout: weights have %d elements, want %d", len(logical), w.Len())
	}
	if w.KG%params.Lanes != 0 {
		return nil, fmt.Errorf("layout: %d channels per group do not split into %d lanes", w.KG, params.Lanes)
	}
	physical := make([]float32, len(logical))
	for o := 0; o < w.O; o++ {
		for p := 0; p < w.K; p++ {
			for q := 0; q < w.K; q++ {
				for c := 0; c < w.KG; c++ {
					physical[w.Index(o, p, q, c)] = logical[w.LogicalIndex(o, p, q, c)]
				}
			}
		}
	}
	return physical, nil
}

// DeinterleaveWeights is the inverse of InterleaveWeights.
func DeinterleaveWeights(physical []float32, w Weights) ([]float32, error) {
	if len(physical) != w.Len() {
		return nil, fmt.Errorf("layout: weights have %d elements, want %d", len(physical), w.Len())
	}
	if w.KG%params.Lanes != 0 {
		return nil, fmt.Errorf("layout: %d channels per group do not split into %d lanes", w.KG, params.Lanes)
	}
	logical := make([]float32, len(physical))
	for o := 0; o < w.O; o++ {
		for p := 0; p < w.K; p++ {
			for q := 0; q < w.K; q++ {
				for c := 0; c < w.KG; c++ {
					logical[w.LogicalIndex(o, p, q, c)] = physical[w.Index(o, p, q, c)]
				}
			}
		}
	}
	return logical, nil
}
