// Package device is the boundary to the hardware that runs the fused
// convolution/pooling kernel.
//
// A Backend allocates a Session per test case. The session holds the
// half-precision buffers and the descriptor; every group is one Dispatch,
// which completes asynchronously and reports through its Event. Download is
// valid only after every dispatched Event is done.
package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/FlavioCFOliveira/crcheck/internal/half"
	"github.com/FlavioCFOliveira/crcheck/internal/params"
)

var (
	// ErrUnavailable is returned by Open on a backend that cannot run here.
	ErrUnavailable = errors.New("device: backend unavailable")

	// ErrGroup is returned by Dispatch for a group outside the descriptor.
	ErrGroup = errors.New("device: group out of range")

	// ErrReleased is returned for operations on a released session.
	ErrReleased = errors.New("device: session released")
)

// Kind is the class of hardware a backend drives.
type Kind int

const (
	Software Kind = iota
	GPU
)

func (k Kind) String() string {
	switch k {
	case Software:
		return "software"
	case GPU:
		return "gpu"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Backend opens kernel sessions on one kind of hardware.
type Backend interface {
	Name() string
	Kind() Kind
	Available() bool

	// Open allocates device buffers for d and uploads host. Output and Aux
	// may be nil when the mode does not read them.
	Open(ctx context.Context, d params.Descriptor, host *Buffers) (Session, error)
}

// Session is one allocated kernel context.
type Session interface {
	// Dispatch starts the kernel for one group.
	Dispatch(ctx context.Context, group int) (Event, error)
	// Download copies output and aux back to the host.
	Download(ctx context.Context) (*Buffers, error)
	// Release frees device resources. It is safe to call more than once.
	Release()
}

// Event tracks one in-flight dispatch.
type Event interface {
	Done() <-chan struct{}
	// Err is valid once Done is closed.
	Err() error
}

// Buffers are the kernel arguments in device precision. Aux holds 16-bit
// words: argmax codes in pooling modes, the rectification mask otherwise.
type Buffers struct {
	Input   []half.Float16
	Weights []half.Float16
	Bias    []half.Float16
	Output  []half.Float16
	Aux     []uint16
}

// NewBuffers returns zeroed buffers sized for d.
func NewBuffers(d params.Descriptor) *Buffers {
	sz := d.Sizes()
	return &Buffers{
		Input:   make([]half.Float16, sz.Input),
		Weights: make([]half.Float16, sz.Weights),
		Bias:    make([]half.Float16, sz.Bias),
		Output:  make([]half.Float16, sz.Output),
		Aux:     make([]uint16, sz.Aux),
	}
}

// Clone returns a deep copy of b.
func (b *Buffers) Clone() *Buffers {
	return &Buffers{
		Input:   append([]half.Float16(nil), b.Input...),
		Weights: append([]half.Float16(nil), b.Weights...),
		Bias:    append([]half.Float16(nil), b.Bias...),
		Output:  append([]half.Float16(nil), b.Output...),
		Aux:     append([]uint16(nil), b.Aux...),
	}
}

// check verifies b against the sizes of d and fills in a missing Output or
// Aux with zeros.
func (b *Buffers) check(d params.Descriptor) error {
	sz := d.Sizes()
	if b.Output == nil {
		b.Output = make([]half.Float16, sz.Output)
	}
	if b.Aux == nil {
		b.Aux = make([]uint16, sz.Aux)
	}
	for _, c := range []struct {
		name      string
		got, want int
	}{
		{"input", len(b.Input), sz.Input},
		{"weights", len(b.Weights), sz.Weights},
		{"bias", len(b.Bias), sz.Bias},
		{"output", len(b.Output), sz.Output},
		{"aux", len(b.Aux), sz.Aux},
	} {
		if c.got != c.want {
			return fmt.Errorf("device: %s buffer has %d elements, want %d", c.name, c.got, c.want)
		}
	}
	return nil
}

// WaitAll blocks until every event is done or ctx ends. It returns the
// joined dispatch errors, or ctx.Err() wrapped with the number of
// dispatches still running.
func WaitAll(ctx context.Context, events []Event) error {
	var errs []error
	for i, ev := range events {
		select {
		case <-ev.Done():
			if err := ev.Err(); err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return fmt.Errorf("device: %d of %d dispatches unfinished: %w", len(events)-i, len(events), ctx.Err())
		}
	}
	return errors.Join(errs...)
}

// Default returns the GPU backend when one is usable and the emulated
// device otherwise.
func Default() Backend {
	if gpu := NewWebGPU(); gpu.Available() {
		return gpu
	}
	return NewEmulated()
}

// Lookup returns the backend called name: "emulated", "webgpu" or "auto".
func Lookup(name string) (Backend, error) {
	switch name {
	case "emulated":
		return NewEmulated(), nil
	case "webgpu":
		return NewWebGPU(), nil
	case "auto", "":
		return Default(), nil
	}
	return nil, fmt.Errorf("device: unknown backend %q", name)
}

// event is a one-shot Event completed by finish.
type event struct {
	done chan struct{}
	err  error
}

func newEvent() *event {
	return &event{done: make(chan struct{})}
}

func (e *event) finish(err error) {
	e.err = err
	close(e.done)
}

func (e *event) Done() <-chan struct{} { return e.done }
func (e *event) Err() error            { return e.err }

// groupOf returns, for the result stream of d, a function mapping an
// element index to the group that writes it.
func groupOf(d params.Descriptor) func(i int) int {
	n := d.NumImages
	switch {
	case d.Pool:
		// Pooled output or input gradient, HWCN over all input channels.
		cTotal := d.TotalInChannels()
		return func(i int) int { return (i / n) % cTotal / d.InChannels }
	case d.Backward:
		// Weight gradient rows of K*K*k_g elements per output channel.
		row := d.KSize * d.KSize * d.InChannels
		return func(i int) int { return i / row / d.OutChannels }
	default:
		cTotal := d.TotalOutChannels()
		return func(i int) int { return (i / n) % cTotal / d.OutChannels }
	}
}
