//go:build webgpu

package device

import (
	"context"
	"testing"

	"github.com/FlavioCFOliveira/crcheck/internal/compare"
	"github.com/FlavioCFOliveira/crcheck/internal/half"
	"github.com/FlavioCFOliveira/crcheck/internal/params"
)

func TestWebGPUMatchesEmulated(t *testing.T) {
	gpu := NewWebGPU()
	if !gpu.Available() {
		t.Skip("WebGPU not available")
	}

	base, err := params.NewBuilder().Images(4).Channels(8, 2).Groups(2).Dims(6, 6).Kernel(3, 1, 1).Build()
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name string
		d    params.Descriptor
	}{
		{"conv-forward", base},
		{"conv-forward-relu", base.WithRelu()},
		{"conv-backward", base.WithBackward()},
		{"pool2-forward", base.WithPool(2)},
		{"pool3-forward", base.WithPool(3)},
		{"pool3-backward", base.WithPool(3).WithBackward()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, host := hostBuffers(tc.d, 11)
			if tc.d.Pool && tc.d.Backward {
				host.Aux = make([]uint16, tc.d.Sizes().Aux)
				for i := range host.Aux {
					host.Aux[i] = uint16(i % 9)
				}
			}

			want := runBackend(t, NewEmulated(), tc.d, host)
			got := runBackend(t, gpu, tc.d, host)

			r, err := compare.Floats(tc.name, half.ToFull(want.Output), half.ToFull(got.Output), compare.Default)
			if err != nil {
				t.Fatal(err)
			}
			if err := r.Err(); err != nil {
				t.Error(err)
			}
			if tc.d.Pool && !tc.d.Backward {
				ir, err := compare.Indices(tc.name, want.Aux, got.Aux)
				if err != nil {
					t.Fatal(err)
				}
				if err := ir.Err(); err != nil {
					t.Error(err)
				}
			}
		})
	}
}

func runBackend(t *testing.T, b Backend, d params.Descriptor, host *Buffers) *Buffers {
	t.Helper()
	s, err := b.Open(context.Background(), d, host)
	if err != nil {
		t.Fatalf("%s: Open() = %v", b.Name(), err)
	}
	defer s.Release()
	runAll(t, s, d.NumGroups)
	out, err := s.Download(context.Background())
	if err != nil {
		t.Fatalf("%s: Download() = %v", b.Name(), err)
	}
	return out
}
