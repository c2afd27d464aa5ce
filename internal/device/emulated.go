package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/x448/float16"

	"github.com/FlavioCFOliveira/crcheck/internal/half"
	"github.com/FlavioCFOliveira/crcheck/internal/params"
	"github.com/FlavioCFOliveira/crcheck/internal/reference"
)

// Emulated is a software device that honours the kernel contract: half
// buffers in and out, one asynchronous invocation per group, and each group
// writing only its own slice of the shared output.
//
// Faults, hangs and corruptions can be injected to exercise the harness.
type Emulated struct {
	latency time.Duration
	faults  map[int]error
	hangs   map[int]bool
	corrupt map[int]float32
}

// EmulatedOption configures an Emulated device.
type EmulatedOption func(*Emulated)

// WithLatency delays every dispatch by d.
func WithLatency(d time.Duration) EmulatedOption {
	return func(e *Emulated) { e.latency = d }
}

// WithFault makes the dispatch of group fail with err.
func WithFault(group int, err error) EmulatedOption {
	return func(e *Emulated) { e.faults[group] = err }
}

// WithHang makes the dispatch of group never complete until the session is
// released.
func WithHang(group int) EmulatedOption {
	return func(e *Emulated) { e.hangs[group] = true }
}

// WithCorruption adds delta to output element index on download.
func WithCorruption(index int, delta float32) EmulatedOption {
	return func(e *Emulated) { e.corrupt[index] += delta }
}

// NewEmulated returns a software device.
func NewEmulated(opts ...EmulatedOption) *Emulated {
	e := &Emulated{
		faults:  make(map[int]error),
		hangs:   make(map[int]bool),
		corrupt: make(map[int]float32),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emulated) Name() string    { return "emulated" }
func (e *Emulated) Kind() Kind      { return Software }
func (e *Emulated) Available() bool { return true }

func (e *Emulated) Open(ctx context.Context, d params.Descriptor, host *Buffers) (Session, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bufs := host.Clone()
	if err := bufs.check(d); err != nil {
		return nil, err
	}
	return &emulatedSession{
		dev:     e,
		d:       d,
		bufs:    bufs,
		input:   half.ToFull(bufs.Input),
		weights: half.ToFull(bufs.Weights),
		bias:    half.ToFull(bufs.Bias),
		argmax:  append([]uint16(nil), bufs.Aux...),
		owner:   groupOf(d),
		stop:    make(chan struct{}),
	}, nil
}

type emulatedSession struct {
	dev   *Emulated
	d     params.Descriptor
	owner func(int) int

	// decoded read-only arguments
	input, weights, bias []float32
	argmax               []uint16

	mu       sync.Mutex
	bufs     *Buffers
	inflight int
	released bool

	stop     chan struct{}
	stopOnce sync.Once
}

func (s *emulatedSession) Dispatch(ctx context.Context, group int) (Event, error) {
	if group < 0 || group >= s.d.NumGroups {
		return nil, fmt.Errorf("%w: %d of %d", ErrGroup, group, s.d.NumGroups)
	}
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, ErrReleased
	}
	s.inflight++
	s.mu.Unlock()

	ev := newEvent()
	go func() {
		err := s.invoke(ctx, group)
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
		ev.finish(err)
	}()
	return ev, nil
}

func (s *emulatedSession) invoke(ctx context.Context, group int) error {
	if s.dev.hangs[group] {
		select {
		case <-s.stop:
			return ErrReleased
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.dev.latency > 0 {
		select {
		case <-time.After(s.dev.latency):
		case <-s.stop:
			return ErrReleased
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err, ok := s.dev.faults[group]; ok {
		return fmt.Errorf("group %d: %w", group, err)
	}
	return s.compute(group)
}

// compute runs one group through the reference model and merges its slice
// into the shared buffers.
func (s *emulatedSession) compute(group int) error {
	d := s.d
	sz := d.Sizes()
	out := make([]float32, sz.Output)
	var codes []uint16

	var err error
	switch {
	case d.Pool && d.Backward:
		err = reference.PoolBackwardGroup(s.input, s.argmax, out, d, group)
	case d.Pool:
		codes = make([]uint16, sz.Output)
		err = reference.PoolForwardGroup(s.input, out, codes, d, group)
	case d.Backward:
		err = reference.ConvBackwardGroup(s.input, s.weights, out, d, group)
	default:
		err = reference.ConvForwardGroup(s.input, s.weights, s.bias, out, d, group)
	}
	if err != nil {
		return fmt.Errorf("group %d: %w", group, err)
	}

	rectify := d.Relu && !d.Pool && !d.Backward

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	for i, v := range out {
		if s.owner(i) != group {
			continue
		}
		if rectify {
			if v > 0 {
				s.bufs.Aux[i/16] |= 1 << (i % 16)
			} else {
				v = 0
			}
		}
		s.bufs.Output[i] = float16.Fromfloat32(v)
		if codes != nil {
			s.bufs.Aux[i] = codes[i]
		}
	}
	return nil
}

func (s *emulatedSession) Download(ctx context.Context) (*Buffers, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, ErrReleased
	}
	if s.inflight > 0 {
		return nil, fmt.Errorf("device: download with %d dispatches in flight", s.inflight)
	}
	res := &Buffers{
		Output: append([]half.Float16(nil), s.bufs.Output...),
		Aux:    append([]uint16(nil), s.bufs.Aux...),
	}
	for i, delta := range s.dev.corrupt {
		if i >= 0 && i < len(res.Output) {
			res.Output[i] = float16.Fromfloat32(res.Output[i].Float32() + delta)
		}
	}
	return res, nil
}

func (s *emulatedSession) Release() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.released = true
		s.mu.Unlock()
		close(s.stop)
	})
}

// compile-time interface checks
var (
	_ Backend = (*Emulated)(nil)
	_ Session = (*emulatedSession)(nil)
	_ Event   = (*event)(nil)
)
