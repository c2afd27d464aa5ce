//go:build webgpu

package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/FlavioCFOliveira/crcheck/internal/half"
	"github.com/FlavioCFOliveira/crcheck/internal/params"
)

const workgroupSize = 256

// maxWorkgroups is the per-dimension dispatch limit of WebGPU.
const maxWorkgroups = 65535

// WebGPU runs the kernel as WGSL compute shaders.
type WebGPU struct {
	once     sync.Once
	err      error
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
}

// NewWebGPU returns the WebGPU backend. The adapter is requested lazily.
func NewWebGPU() *WebGPU {
	return &WebGPU{}
}

func (w *WebGPU) Name() string { return "webgpu" }
func (w *WebGPU) Kind() Kind   { return GPU }

func (w *WebGPU) Available() bool {
	return w.init() == nil
}

func (w *WebGPU) init() error {
	w.once.Do(func() {
		w.instance = wgpu.CreateInstance(nil)
		if w.instance == nil {
			w.err = fmt.Errorf("%w: no WebGPU instance", ErrUnavailable)
			return
		}
		adapter, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
			PowerPreference: wgpu.PowerPreferenceHighPerformance,
		})
		if err != nil {
			adapter, err = w.instance.RequestAdapter(nil)
		}
		if err != nil {
			w.err = fmt.Errorf("%w: %v", ErrUnavailable, err)
			return
		}
		w.adapter = adapter
		w.device, err = adapter.RequestDevice(nil)
		if err != nil {
			w.err = fmt.Errorf("%w: %v", ErrUnavailable, err)
			return
		}
		w.queue = w.device.GetQueue()
	})
	return w.err
}

func (w *WebGPU) Open(ctx context.Context, d params.Descriptor, host *Buffers) (Session, error) {
	if err := w.init(); err != nil {
		return nil, err
	}
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

	s := &webgpuSession{dev: w, d: d, sizes: d.Sizes()}
	if err := s.allocate(bufs); err != nil {
		s.Release()
		return nil, err
	}
	if err := s.compile(); err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

type webgpuSession struct {
	dev   *WebGPU
	d     params.Descriptor
	sizes params.Sizes

	mu       sync.Mutex
	released bool

	desc, input, weights, bias, output, aux *wgpu.Buffer

	pipeline *wgpu.ComputePipeline
	// per-dispatch resources, freed on Release
	uniforms   []*wgpu.Buffer
	bindGroups []*wgpu.BindGroup
}

func (s *webgpuSession) newBuffer(label string, words []uint32, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	if len(words) == 0 {
		words = []uint32{0}
	}
	buf, err := s.dev.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: wgpu.ToBytes(words),
		Usage:    usage,
	})
	if err != nil {
		return nil, fmt.Errorf("device: create %s buffer: %w", label, err)
	}
	return buf, nil
}

func (s *webgpuSession) allocate(host *Buffers) error {
	record, err := s.d.MarshalBinary()
	if err != nil {
		return err
	}
	s.desc, err = s.dev.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "crcheck_desc",
		Contents: record,
		Usage:    wgpu.BufferUsageStorage,
	})
	if err != nil {
		return fmt.Errorf("device: create descriptor buffer: %w", err)
	}

	read := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	readWrite := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc

	if s.input, err = s.newBuffer("crcheck_input", packWords(half.Bits(host.Input)), read); err != nil {
		return err
	}
	if s.weights, err = s.newBuffer("crcheck_weights", packWords(half.Bits(host.Weights)), read); err != nil {
		return err
	}
	if s.bias, err = s.newBuffer("crcheck_bias", packWords(half.Bits(host.Bias)), read); err != nil {
		return err
	}
	// Results are OR-ed into zeroed words.
	if s.output, err = s.newBuffer("crcheck_output", make([]uint32, (s.sizes.Output+1)/2), readWrite); err != nil {
		return err
	}
	aux := make([]uint32, (s.sizes.Aux+1)/2)
	if s.d.Pool && s.d.Backward {
		aux = packWords(host.Aux)
	}
	s.aux, err = s.newBuffer("crcheck_aux", aux, readWrite)
	return err
}

func (s *webgpuSession) compile() error {
	mod, err := s.dev.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "crcheck_" + s.d.Mode(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: kernelSource(s.d.Pool, s.d.Backward)},
	})
	if err != nil {
		return fmt.Errorf("device: compile %s shader: %w", s.d.Mode(), err)
	}
	defer mod.Release()
	s.pipeline, err = s.dev.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   "crcheck_" + s.d.Mode(),
		Compute: wgpu.ProgrammableStageDescriptor{Module: mod, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("device: create %s pipeline: %w", s.d.Mode(), err)
	}
	return nil
}

// threads returns the invocation count of one group.
func (s *webgpuSession) threads() int {
	d := s.d
	switch {
	case d.Pool && d.Backward:
		return d.NumImages * d.InChannels * d.YDim * d.XDim
	case d.Pool:
		p := d.PooledDim()
		return d.NumImages * d.InChannels * p * p
	case d.Backward:
		return d.OutChannels * d.KSize * d.KSize * d.InChannels
	default:
		return d.NumImages * d.OutChannels * d.YDim * d.XDim
	}
}

func (s *webgpuSession) entries(group *wgpu.Buffer) []wgpu.BindGroupEntry {
	entry := func(binding uint32, b *wgpu.Buffer) wgpu.BindGroupEntry {
		return wgpu.BindGroupEntry{Binding: binding, Buffer: b, Size: b.GetSize()}
	}
	e := []wgpu.BindGroupEntry{entry(0, s.desc), entry(1, group), entry(2, s.input)}
	switch {
	case s.d.Pool:
		e = append(e, entry(5, s.output), entry(6, s.aux))
	case s.d.Backward:
		e = append(e, entry(3, s.weights), entry(5, s.output))
	default:
		e = append(e, entry(3, s.weights), entry(4, s.bias), entry(5, s.output), entry(6, s.aux))
	}
	return e
}

func (s *webgpuSession) Dispatch(ctx context.Context, group int) (Event, error) {
	if group < 0 || group >= s.d.NumGroups {
		return nil, fmt.Errorf("%w: %d of %d", ErrGroup, group, s.d.NumGroups)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, ErrReleased
	}

	uniform, err := s.newBuffer(fmt.Sprintf("crcheck_group%d", group), []uint32{uint32(group), 0, 0, 0},
		wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	s.uniforms = append(s.uniforms, uniform)

	bind, err := s.dev.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   fmt.Sprintf("crcheck_bind%d", group),
		Layout:  s.pipeline.GetBindGroupLayout(0),
		Entries: s.entries(uniform),
	})
	if err != nil {
		return nil, fmt.Errorf("device: bind group %d: %w", group, err)
	}
	s.bindGroups = append(s.bindGroups, bind)

	enc, err := s.dev.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("device: command encoder: %w", err)
	}
	wx, wy := workgroups(s.threads())
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(s.pipeline)
	pass.SetBindGroup(0, bind, nil)
	pass.DispatchWorkgroups(wx, wy, 1)
	pass.End()
	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("device: finish group %d: %w", group, err)
	}
	s.dev.queue.Submit(cmd)

	ev := newEvent()
	go func() { ev.finish(s.poll(ctx, nil)) }()
	return ev, nil
}

// workgroups spreads n invocations over a 2D grid within the dispatch limit.
func workgroups(n int) (x, y uint32) {
	total := (n + workgroupSize - 1) / workgroupSize
	if total <= maxWorkgroups {
		return uint32(max(total, 1)), 1
	}
	rows := (total + maxWorkgroups - 1) / maxWorkgroups
	return maxWorkgroups, uint32(rows)
}

// poll drives the device until the queue drains, or done is closed when
// done is non-nil. It gives up when ctx ends.
func (s *webgpuSession) poll(ctx context.Context, done <-chan struct{}) error {
	for {
		s.mu.Lock()
		if s.released {
			s.mu.Unlock()
			return ErrReleased
		}
		idle := s.dev.device.Poll(false, nil)
		s.mu.Unlock()

		if done == nil && idle {
			return nil
		}
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func (s *webgpuSession) Download(ctx context.Context) (*Buffers, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, ErrReleased
	}
	s.mu.Unlock()

	out, err := s.read(ctx, s.output, s.sizes.Output)
	if err != nil {
		return nil, fmt.Errorf("device: read output: %w", err)
	}
	aux, err := s.read(ctx, s.aux, s.sizes.Aux)
	if err != nil {
		return nil, fmt.Errorf("device: read aux: %w", err)
	}
	return &Buffers{Output: half.FromBits(out), Aux: aux}, nil
}

// read copies the first n 16-bit elements of buf through a staging buffer.
func (s *webgpuSession) read(ctx context.Context, buf *wgpu.Buffer, n int) ([]uint16, error) {
	size := buf.GetSize()

	s.mu.Lock()
	staging, err := s.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "crcheck_staging",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer staging.Destroy()

	enc, err := s.dev.device.CreateCommandEncoder(nil)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	enc.CopyBufferToBuffer(buf, 0, staging, 0, size)
	cmd, err := enc.Finish(nil)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.dev.queue.Submit(cmd)

	done := make(chan struct{})
	var mapErr error
	err = staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map status %v", status)
		}
		close(done)
	})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := s.poll(ctx, done); err != nil {
		return nil, err
	}
	if mapErr != nil {
		return nil, mapErr
	}

	data := staging.GetMappedRange(0, uint(size))
	if data == nil {
		return nil, fmt.Errorf("empty mapped range")
	}
	words := unpackWords(wgpu.FromBytes[uint32](data), n)
	staging.Unmap()
	return words, nil
}

func (s *webgpuSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	for _, bg := range s.bindGroups {
		bg.Release()
	}
	for _, b := range s.uniforms {
		b.Destroy()
	}
	for _, b := range []*wgpu.Buffer{s.desc, s.input, s.weights, s.bias, s.output, s.aux} {
		if b != nil {
			b.Destroy()
		}
	}
	if s.pipeline != nil {
		s.pipeline.Release()
	}
}

var (
	_ Backend = (*WebGPU)(nil)
	_ Session = (*webgpuSession)(nil)
)
