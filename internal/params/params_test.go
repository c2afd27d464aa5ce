package params

import (
	"errors"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	d := Default()
	if err := d.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if d.Mode() != "conv-forward" {
		t.Errorf("Mode = %q, expected conv-forward", d.Mode())
	}
}

func TestVariantsDoNotMutateBase(t *testing.T) {
	base := Default()
	pool := base.WithPool(3).WithBackward()

	if base.Pool || base.Backward || base.PKSize != 2 {
		t.Errorf("base descriptor was modified: %+v", base)
	}
	if !pool.Pool || !pool.Backward || pool.PKSize != 3 {
		t.Errorf("variant missing flags: %+v", pool)
	}
	if pool.Mode() != "pool-backward" {
		t.Errorf("Mode = %q, expected pool-backward", pool.Mode())
	}
	if got := pool.WithForward().Mode(); got != "pool-forward" {
		t.Errorf("WithForward().Mode() = %q", got)
	}
}

func TestPooledDimUsesCeiling(t *testing.T) {
	tests := []struct {
		ydim, pksize, want int
	}{
		{24, 2, 12},
		{24, 3, 12},
		{5, 2, 3},
		{4, 3, 2},
		{3, 3, 1},
		{7, 1, 4},
	}
	for _, tt := range tests {
		d := Default().WithPool(tt.pksize)
		d.YDim, d.XDim = tt.ydim, tt.ydim
		if got := d.PooledDim(); got != tt.want {
			t.Errorf("PooledDim(ydim=%d, pksize=%d) = %d, expected %d", tt.ydim, tt.pksize, got, tt.want)
		}
	}
}

func TestSizes(t *testing.T) {
	d := Default()

	fwd := d.Sizes()
	if fwd.Input != 256*32*24*24 {
		t.Errorf("conv forward Input = %d", fwd.Input)
	}
	if fwd.Output != 256*1*24*24*1 {
		t.Errorf("conv forward Output = %d, expected N*Cout*Y*X*G", fwd.Output)
	}
	if fwd.Weights != 1*1*32*3*3 {
		t.Errorf("conv forward Weights = %d", fwd.Weights)
	}
	if fwd.Aux != (256*32*24*24)/16 {
		t.Errorf("conv forward Aux = %d", fwd.Aux)
	}

	bwd := d.WithBackward().Sizes()
	if bwd.Output != 1*1*32*3*3 {
		t.Errorf("conv backward Output = %d, expected Cout*G*Cin*K*K", bwd.Output)
	}
	if bwd.Weights != fwd.Output {
		t.Errorf("conv backward upstream gradient = %d, expected %d", bwd.Weights, fwd.Output)
	}

	g := d.WithGroups(2)
	if got := g.Sizes().Output; got != 256*1*24*24*2 {
		t.Errorf("grouped conv forward Output = %d", got)
	}
	if got := g.WithBackward().Sizes().Output; got != 1*2*32*3*3 {
		t.Errorf("grouped conv backward Output = %d", got)
	}

	pf := d.WithPool(2).Sizes()
	if pf.Output != 256*32*12*12 || pf.Aux != pf.Output {
		t.Errorf("pool forward sizes = %+v", pf)
	}
	pb := d.WithPool(3).WithBackward().Sizes()
	if pb.Input != 256*32*12*12 || pb.Output != 256*32*24*24 || pb.Aux != pb.Input {
		t.Errorf("pool backward sizes = %+v", pb)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(d Descriptor) Descriptor
	}{
		{"zero images", func(d Descriptor) Descriptor { d.NumImages = 0; return d }},
		{"zero groups", func(d Descriptor) Descriptor { d.NumGroups = 0; return d }},
		{"negative pad", func(d Descriptor) Descriptor { d.Pad = -1; return d }},
		{"zero stride", func(d Descriptor) Descriptor { d.Stride = 0; return d }},
		{"lanes", func(d Descriptor) Descriptor { d.InChannels = 6; return d }},
		{"negative rpo", func(d Descriptor) Descriptor { d.RPO = -2; return d }},
		{"pool not square", func(d Descriptor) Descriptor { d = d.WithPool(2); d.XDim = 20; return d }},
		{"pool window too wide", func(d Descriptor) Descriptor { return d.WithPool(4) }},
		{"pool window larger than map", func(d Descriptor) Descriptor {
			d = d.WithPool(3)
			d.YDim, d.XDim = 2, 2
			return d
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mut(Default()).Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, expected ErrInvalid", err)
			}
		})
	}

	// Lane divisibility only matters when weights are used.
	d := Default().WithPool(2)
	d.InChannels = 3
	if err := d.Validate(); err != nil {
		t.Errorf("pooling with 3 channels: Validate() = %v", err)
	}
}

func TestBuilder(t *testing.T) {
	d, err := NewBuilder().
		Images(2).
		Channels(8, 4).
		Groups(2).
		Dims(6, 6).
		Kernel(1, 1, 0).
		Relu(true).
		Build()
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if d.TotalInChannels() != 16 || d.TotalOutChannels() != 8 {
		t.Errorf("totals = %d/%d", d.TotalInChannels(), d.TotalOutChannels())
	}
	if !d.Relu || d.Pool {
		t.Errorf("flags = relu %t pool %t", d.Relu, d.Pool)
	}

	if _, err := From(d).Pool(5).Backward(true).Build(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Build() with pksize 5 = %v, expected ErrInvalid", err)
	}

	// Six channels break the conv lane rule but are fine for pooling.
	raw := From(d).Channels(6, 4).Descriptor()
	if raw.InChannels != 6 || raw.Validate() == nil {
		t.Errorf("Descriptor() = %+v, expected unvalidated six-channel descriptor", raw)
	}
	if err := raw.WithPool(2).Validate(); err != nil {
		t.Errorf("pooling six channels: %v", err)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	d := From(Default()).Tiling(16, 2, 1, 8, 3).Pool(3).Backward(true).Relu(true).d
	d.NumGroups = 3

	data, err := d.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 72 {
		t.Fatalf("record length = %d, expected 72", len(data))
	}
	// ydim is word 7.
	if data[7*4] != 24 {
		t.Errorf("ydim byte = %d, expected 24", data[7*4])
	}

	var back Descriptor
	if err := back.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if back != d {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, d)
	}

	if err := back.UnmarshalBinary(data[:10]); !errors.Is(err, ErrInvalid) {
		t.Errorf("short record: %v", err)
	}
}
