// Package params describes one convolution/pooling test case: tensor shape,
// grouping, layer mode and the hardware tiling hints passed to the device.
package params

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalid is returned for descriptors that cannot drive a layer.
var ErrInvalid = errors.New("params: invalid descriptor")

// Lanes is the number of parallel input-channel lanes in the weight layout.
const Lanes = 4

// PoolStride is the fixed pooling stride in both spatial dimensions.
const PoolStride = 2

// Descriptor is the kernel parameter record shared by the reference engine
// and the device. InChannels and OutChannels are counted per group.
//
// A Descriptor is a value: variants are derived with the With* methods,
// which return modified copies.
type Descriptor struct {
	NumImages   int
	InChannels  int
	OutChannels int
	NumGroups   int

	// Hardware tiling hints. The reference engine ignores them.
	BurstChannels int
	RPO           int
	RPOFM         int
	BurstYDim     int
	XTilePad      int

	YDim   int
	XDim   int
	KSize  int
	Stride int
	Pad    int
	PKSize int

	Backward bool
	Relu     bool
	Pool     bool
}

// Default returns the baseline forward convolution case.
func Default() Descriptor {
	return Descriptor{
		NumImages:     256,
		InChannels:    32,
		OutChannels:   1,
		NumGroups:     1,
		BurstChannels: 16,
		RPO:           2,
		YDim:          24,
		XDim:          24,
		KSize:         3,
		Stride:        1,
		Pad:           1,
		PKSize:        2,
	}
}

// WithBackward returns a copy with backward semantics selected.
func (d Descriptor) WithBackward() Descriptor {
	d.Backward = true
	return d
}

// WithForward returns a copy with forward semantics selected.
func (d Descriptor) WithForward() Descriptor {
	d.Backward = false
	return d
}

// WithPool returns a copy with pooling active and the given window size.
func (d Descriptor) WithPool(pksize int) Descriptor {
	d.Pool = true
	d.PKSize = pksize
	return d
}

// WithRelu returns a copy with the rectification stage active.
func (d Descriptor) WithRelu() Descriptor {
	d.Relu = true
	return d
}

// WithGroups returns a copy with the given group count.
func (d Descriptor) WithGroups(g int) Descriptor {
	d.NumGroups = g
	return d
}

// TotalInChannels returns the input channel count over all groups.
func (d Descriptor) TotalInChannels() int {
	return d.InChannels * d.NumGroups
}

// TotalOutChannels returns the output channel count over all groups.
func (d Descriptor) TotalOutChannels() int {
	return d.OutChannels * d.NumGroups
}

// PooledDim returns the pooled height (and width) for stride 2 pooling.
// The division is done in float32 before the ceiling, so an odd
// YDim-PKSize rounds up.
func (d Descriptor) PooledDim() int {
	return int(math.Ceil(float64(float32(d.YDim-d.PKSize)/PoolStride))) + 1
}

// Mode names the active layer semantics.
func (d Descriptor) Mode() string {
	switch {
	case d.Pool && d.Backward:
		return "pool-backward"
	case d.Pool:
		return "pool-forward"
	case d.Backward:
		return "conv-backward"
	default:
		return "conv-forward"
	}
}

// Validate reports the first violated constraint, wrapped in ErrInvalid.
func (d Descriptor) Validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"numimages", d.NumImages},
		{"inchannels", d.InChannels},
		{"outchannels", d.OutChannels},
		{"numgroups", d.NumGroups},
		{"ydim", d.YDim},
		{"xdim", d.XDim},
		{"ksize", d.KSize},
		{"stride", d.Stride},
	}
	for _, f := range positive {
		if f.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, f.name, f.v)
		}
	}

	nonNegative := []struct {
		name string
		v    int
	}{
		{"pad", d.Pad},
		{"burstchannels", d.BurstChannels},
		{"rpo", d.RPO},
		{"rpofm", d.RPOFM},
		{"burstydim", d.BurstYDim},
		{"xtile_pad", d.XTilePad},
	}
	for _, f := range nonNegative {
		if f.v < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalid, f.name, f.v)
		}
	}

	if !d.Pool {
		if d.InChannels%Lanes != 0 {
			return fmt.Errorf("%w: inchannels per group (%d) must be a multiple of %d weight lanes",
				ErrInvalid, d.InChannels, Lanes)
		}
		return nil
	}

	if d.YDim != d.XDim {
		return fmt.Errorf("%w: pooling needs a square map, got %dx%d", ErrInvalid, d.YDim, d.XDim)
	}
	// Argmax codes are row*3+col, so wider windows would alias.
	if d.PKSize < 1 || d.PKSize > 3 {
		return fmt.Errorf("%w: pksize must be in [1,3], got %d", ErrInvalid, d.PKSize)
	}
	if d.PKSize > d.YDim {
		return fmt.Errorf("%w: pksize %d exceeds ydim %d", ErrInvalid, d.PKSize, d.YDim)
	}
	return nil
}

// Sizes holds element counts of the buffers a case exchanges with the device.
// Aux is counted in 16-bit words.
type Sizes struct {
	Input   int
	Weights int
	Bias    int
	Output  int
	Aux     int
}

// Sizes returns the buffer sizes for the active mode.
func (d Descriptor) Sizes() Sizes {
	spatial := d.YDim * d.XDim
	featureIn := d.NumImages * d.TotalInChannels() * spatial
	featureOut := d.NumImages * d.TotalOutChannels() * spatial
	kernel := d.TotalOutChannels() * d.InChannels * d.KSize * d.KSize
	bias := d.TotalOutChannels()

	if d.Pool {
		p := d.PooledDim()
		pooled := d.NumImages * d.TotalInChannels() * p * p
		if d.Backward {
			return Sizes{Input: pooled, Weights: kernel, Bias: bias, Output: featureIn, Aux: pooled}
		}
		return Sizes{Input: featureIn, Weights: kernel, Bias: bias, Output: pooled, Aux: pooled}
	}

	if d.Backward {
		return Sizes{Input: featureIn, Weights: featureOut, Bias: bias, Output: kernel, Aux: maskWords(featureIn)}
	}
	return Sizes{Input: featureIn, Weights: kernel, Bias: bias, Output: featureOut, Aux: maskWords(max(featureOut, featureIn))}
}

func maskWords(n int) int {
	return (n + 15) / 16
}

// String renders the descriptor in a compact form for logs.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s N=%d Cin=%d Cout=%d G=%d %dx%d K=%d S=%d P=%d PK=%d relu=%t",
		d.Mode(), d.NumImages, d.InChannels, d.OutChannels, d.NumGroups,
		d.YDim, d.XDim, d.KSize, d.Stride, d.Pad, d.PKSize, d.Relu)
}
