// Package harness runs differential test cases: it builds the tensors for a
// descriptor, runs them through the reference model and a device backend,
// and compares the two.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/FlavioCFOliveira/crcheck/internal/compare"
	"github.com/FlavioCFOliveira/crcheck/internal/device"
	"github.com/FlavioCFOliveira/crcheck/internal/half"
	"github.com/FlavioCFOliveira/crcheck/internal/layout"
)

var (
	// ErrDevice wraps a backend failure: open, dispatch, fault or download.
	ErrDevice = errors.New("harness: device failure")

	// ErrTimeout is returned when the dispatches of a case do not all
	// finish within its timeout.
	ErrTimeout = errors.New("harness: device timed out")
)

// DefaultTimeout bounds the device wait of a case without its own Timeout.
const DefaultTimeout = 2 * time.Minute

// Harness runs cases against one backend.
type Harness struct {
	backend device.Backend
	logger  *log.Logger
	timeout time.Duration
	verbose bool
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger for case summaries. The default discards.
func WithLogger(l *log.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithTimeout sets the device wait bound for cases without their own.
func WithTimeout(d time.Duration) Option {
	return func(h *Harness) { h.timeout = d }
}

// WithVerbose logs every compared element.
func WithVerbose(v bool) Option {
	return func(h *Harness) { h.verbose = v }
}

// New returns a harness driving b.
func New(b device.Backend, opts ...Option) *Harness {
	h := &Harness{
		backend: b,
		logger:  log.New(io.Discard, "", 0),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Backend returns the backend the harness drives.
func (h *Harness) Backend() device.Backend { return h.backend }

// Run executes one case. The returned error reports configuration and
// device failures; numeric disagreement is recorded in the Result.
func (h *Harness) Run(ctx context.Context, c Case) (*Result, error) {
	d := c.Params
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, err)
	}
	tol := compare.Default
	if c.Tol != nil {
		tol = *c.Tol
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = h.timeout
	}

	start := time.Now()
	in := c.fill()

	// The reference only reads the host tensors, so it runs alongside the
	// device.
	refc := make(chan expected, 1)
	go func() { refc <- in.reference(d) }()

	actual, err := h.execute(ctx, c, in, timeout)
	ref := <-refc
	if err != nil {
		return nil, err
	}
	if ref.err != nil {
		return nil, fmt.Errorf("%s: reference: %w", c.Name, ref.err)
	}

	res := &Result{
		Case:        c,
		Backend:     h.backend.Name(),
		Expected:    ref.output,
		Actual:      half.ToFull(actual.Output),
		ExpectedAux: ref.aux,
		ActualAux:   actual.Aux,
	}
	res.Output, err = compare.Floats(c.Name+"/output", res.Expected, res.Actual, tol)
	if err != nil {
		return nil, err
	}
	if d.Pool && !d.Backward {
		ir, err := compare.Indices(c.Name+"/argmax", res.ExpectedAux, res.ActualAux)
		if err != nil {
			return nil, err
		}
		res.Argmax = &ir
	}
	res.Elapsed = time.Since(start)

	h.logElements(res)
	h.logger.Printf("%s [%s] %s: %s (%d elements, %d mismatches, max abs err %.4g, %s)",
		c.Name, res.Backend, d, res.status(), res.Output.Count, res.mismatches(), res.Output.MaxAbsErr,
		res.Elapsed.Round(time.Millisecond))
	return res, nil
}

// execute uploads in, dispatches every group and downloads the result once
// all dispatches have finished.
func (h *Harness) execute(ctx context.Context, c Case, in *inputs, timeout time.Duration) (*device.Buffers, error) {
	d := c.Params
	s, err := h.backend.Open(ctx, d, in.device())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: open %s: %w", ErrDevice, c.Name, h.backend.Name(), err)
	}
	defer s.Release()

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events := make([]device.Event, 0, d.NumGroups)
	for g := 0; g < d.NumGroups; g++ {
		ev, err := s.Dispatch(wctx, g)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: dispatch group %d: %w", ErrDevice, c.Name, g, err)
		}
		events = append(events, ev)
	}
	if err := device.WaitAll(wctx, events); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s after %s: %w", ErrTimeout, c.Name, timeout, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrDevice, c.Name, err)
	}

	out, err := s.Download(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: download: %w", ErrDevice, c.Name, err)
	}
	return out, nil
}

// RunAll runs every case in order. A case that fails to run does not stop
// the others; its error is joined into the returned error and it has no
// Result.
func (h *Harness) RunAll(ctx context.Context, cases []Case) ([]*Result, error) {
	var results []*Result
	var errs []error
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := h.Run(ctx, c)
		if err != nil {
			h.logger.Printf("%s [%s]: %v", c.Name, h.backend.Name(), err)
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (h *Harness) logElements(r *Result) {
	if !h.verbose {
		return
	}
	d := r.Case.Params
	switch {
	case d.Pool && !d.Backward:
		for j := range r.Expected {
			h.logger.Printf("%g %g code %d swcode %d", r.Expected[j], r.Actual[j], r.ActualAux[j], r.ExpectedAux[j])
		}
	case d.Relu && !d.Backward && !d.Pool:
		for j := range r.Expected {
			bit := 0
			if layout.MaskBit(r.ActualAux, j) {
				bit = 1
			}
			h.logger.Printf("%g %g relu: %d", r.Expected[j], r.Actual[j], bit)
		}
	default:
		for j := range r.Expected {
			h.logger.Printf("%g %g", r.Expected[j], r.Actual[j])
		}
	}
}
